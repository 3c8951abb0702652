package provision

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/metrics"
	"github.com/radmesh/radmesh/internal/models"
)

// NodeStore is the persistence surface of the provisioning handlers.
type NodeStore interface {
	GetRadiusServerByID(ctx context.Context, id uuid.UUID) (*models.RadiusServer, error)
	UpdateRadiusServer(ctx context.Context, s *models.RadiusServer) error
}

// ConfigureEnqueuer hands a freshly provisioned node to the configuration
// stage.
type ConfigureEnqueuer interface {
	EnqueueConfigure(ctx context.Context, serverID uuid.UUID, fresh bool) (*models.Job, error)
}

// ProvisionHandler creates the cloud instance for a pending RADIUS node.
type ProvisionHandler struct {
	store  NodeStore
	cloud  CloudClient
	queue  ConfigureEnqueuer
	logger zerolog.Logger
}

// NewProvisionHandler creates the radius_provision job handler.
func NewProvisionHandler(store NodeStore, cloud CloudClient, queue ConfigureEnqueuer, logger zerolog.Logger) *ProvisionHandler {
	return &ProvisionHandler{
		store:  store,
		cloud:  cloud,
		queue:  queue,
		logger: logger.With().Str("component", "provision").Logger(),
	}
}

// Handle creates the instance, waits for it to run, and enqueues the
// configuration stage. A retried job reuses the instance it already
// created instead of leaking a second one.
func (h *ProvisionHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if job.Payload.RadiusServerID == nil {
		return nil, fmt.Errorf("provision job missing radius_server_id")
	}

	node, err := h.store.GetRadiusServerByID(ctx, *job.Payload.RadiusServerID)
	if err != nil {
		return nil, fmt.Errorf("load radius node: %w", err)
	}

	logger := h.logger.With().Str("node", node.Name).Logger()

	if node.InstallationStatus == models.InstallPending {
		if err := node.Transition(models.InstallProvisioning, "creating cloud instance"); err != nil {
			return nil, err
		}
		if err := h.store.UpdateRadiusServer(ctx, node); err != nil {
			return nil, fmt.Errorf("persist node: %w", err)
		}
	}

	instance, fresh, err := h.ensureInstance(ctx, node)
	if err != nil {
		metrics.ProvisioningRuns.WithLabelValues("failed").Inc()
		node.AppendLog("provisioning error: " + err.Error())
		if uerr := h.store.UpdateRadiusServer(ctx, node); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist provisioning log")
		}
		return nil, err
	}

	running, err := h.cloud.WaitForRunning(ctx, instance.ID)
	if err != nil {
		metrics.ProvisioningRuns.WithLabelValues("failed").Inc()
		node.AppendLog("instance did not reach running: " + err.Error())
		if uerr := h.store.UpdateRadiusServer(ctx, node); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist provisioning log")
		}
		return nil, fmt.Errorf("wait for instance: %w", err)
	}

	if len(running.IPv4) > 0 {
		node.IPv4 = running.IPv4[0]
	}
	if node.Host == "" {
		node.Host = node.IPv4
	}
	if err := node.Transition(models.InstallConfiguring, "instance running, handing to configuration"); err != nil {
		return nil, err
	}
	if err := h.store.UpdateRadiusServer(ctx, node); err != nil {
		return nil, fmt.Errorf("persist node: %w", err)
	}

	if _, err := h.queue.EnqueueConfigure(ctx, node.ID, fresh); err != nil {
		return nil, fmt.Errorf("enqueue configuration: %w", err)
	}

	metrics.ProvisioningRuns.WithLabelValues("ok").Inc()
	logger.Info().
		Int("instance_id", running.ID).
		Str("ipv4", node.IPv4).
		Msg("node provisioned")
	return map[string]interface{}{
		"instance_id": running.ID,
		"ipv4":        node.IPv4,
	}, nil
}

// ensureInstance creates the instance or, on a retried job, reattaches to
// the one already recorded. fresh reports whether this run created it.
func (h *ProvisionHandler) ensureInstance(ctx context.Context, node *models.RadiusServer) (*Instance, bool, error) {
	if node.InstanceID != nil && *node.InstanceID != "" {
		id, err := strconv.Atoi(*node.InstanceID)
		if err != nil {
			return nil, false, fmt.Errorf("malformed instance id %q: %w", *node.InstanceID, err)
		}
		instance, err := h.cloud.GetInstance(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("reattach instance: %w", err)
		}
		node.AppendLog(fmt.Sprintf("reattached to instance %d", id))
		return instance, false, nil
	}

	if node.SSHPassword == "" {
		pass, err := newSecret()
		if err != nil {
			return nil, false, err
		}
		node.SSHPassword = pass
	}

	label := node.InstanceLabel
	if label == "" {
		label = "radmesh-" + node.ID.String()[:8]
		node.InstanceLabel = label
	}

	instance, err := h.cloud.CreateInstance(ctx, CreateInstanceRequest{
		Label:    label,
		Region:   node.Region,
		Type:     node.Plan,
		Image:    node.Image,
		RootPass: node.SSHPassword,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create instance: %w", err)
	}

	idStr := strconv.Itoa(instance.ID)
	node.InstanceID = &idStr
	node.AppendLog(fmt.Sprintf("created instance %d in %s", instance.ID, node.Region))
	return instance, true, nil
}

// OnDeadLetter marks the node failed once provisioning retries are spent.
func (h *ProvisionHandler) OnDeadLetter(ctx context.Context, job *models.Job) {
	if job.Payload.RadiusServerID == nil {
		return
	}
	markNodeFailed(ctx, h.store, *job.Payload.RadiusServerID,
		fmt.Sprintf("provisioning failed after %d attempts: %s", job.MaxRetries, job.ErrorMessage),
		h.logger)
}

// markNodeFailed transitions a node to failed with a diagnostic log line.
func markNodeFailed(ctx context.Context, store NodeStore, id uuid.UUID, msg string, logger zerolog.Logger) {
	node, err := store.GetRadiusServerByID(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("node_id", id.String()).Msg("failed to load node for failure marking")
		return
	}
	if err := node.Transition(models.InstallFailed, msg); err != nil {
		// Already terminal; still record the diagnostic.
		node.AppendLog(msg)
	}
	if err := store.UpdateRadiusServer(ctx, node); err != nil {
		logger.Error().Err(err).Str("node", node.Name).Msg("failed to persist node failure")
		return
	}
	logger.Warn().Str("node", node.Name).Msg(msg)
}

func newSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
