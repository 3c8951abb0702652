package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/metrics"
	"github.com/radmesh/radmesh/internal/models"
)

// Node-side paths and units. The image ships a sync agent alongside the
// RADIUS daemon; both read their settings from flat config files.
const (
	agentConfigPath   = "/etc/radmesh-agent/agent.conf"
	clientsConfigPath = "/etc/freeradius/3.0/clients.conf"
	authService       = "freeradius"
	agentService      = "radmesh-agent"
)

// DefaultStabilizationDelay is how long a freshly created instance gets
// before the first SSH attempt. Cloud images keep rewriting host config
// during their first boot minute.
const DefaultStabilizationDelay = 45 * time.Second

// ConfigureHandler wires a running instance into the platform over SSH.
type ConfigureHandler struct {
	store              NodeStore
	runner             Runner
	stabilizationDelay time.Duration
	logger             zerolog.Logger
}

// NewConfigureHandler creates the radius_configure job handler.
func NewConfigureHandler(store NodeStore, runner Runner, logger zerolog.Logger) *ConfigureHandler {
	return &ConfigureHandler{
		store:              store,
		runner:             runner,
		stabilizationDelay: DefaultStabilizationDelay,
		logger:             logger.With().Str("component", "configure").Logger(),
	}
}

// Handle probes the node, writes its auth token and shared secret, and
// restarts the services. Every command is idempotent, so a retried job
// replays the whole sequence safely.
func (h *ConfigureHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if job.Payload.RadiusServerID == nil {
		return nil, fmt.Errorf("configure job missing radius_server_id")
	}

	node, err := h.store.GetRadiusServerByID(ctx, *job.Payload.RadiusServerID)
	if err != nil {
		return nil, fmt.Errorf("load radius node: %w", err)
	}

	logger := h.logger.With().Str("node", node.Name).Logger()

	if job.Payload.FreshInstance && job.RetryCount == 0 {
		logger.Info().Dur("delay", h.stabilizationDelay).Msg("waiting for fresh instance to stabilize")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.stabilizationDelay):
		}
	}

	if err := h.ensureSecrets(node); err != nil {
		return nil, err
	}

	if err := h.configureNode(ctx, node); err != nil {
		metrics.ProvisioningRuns.WithLabelValues("failed").Inc()
		node.AppendLog("configuration error: " + err.Error())
		if uerr := h.store.UpdateRadiusServer(ctx, node); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist configuration log")
		}
		return nil, err
	}

	if err := node.Transition(models.InstallCompleted, "services active, node ready"); err != nil {
		return nil, err
	}
	node.IsActive = true
	if err := h.store.UpdateRadiusServer(ctx, node); err != nil {
		return nil, fmt.Errorf("persist node: %w", err)
	}

	metrics.ProvisioningRuns.WithLabelValues("ok").Inc()
	logger.Info().Msg("node configured and active")
	return map[string]interface{}{"host": node.Host}, nil
}

func (h *ConfigureHandler) configureNode(ctx context.Context, node *models.RadiusServer) error {
	// Connectivity probe before touching anything.
	out, err := h.runner.Run(ctx, node, "echo radmesh-ready")
	if err != nil {
		return fmt.Errorf("connectivity probe: %w", err)
	}
	if out != "radmesh-ready" {
		return fmt.Errorf("connectivity probe returned %q", out)
	}
	node.AppendLog("SSH connectivity confirmed")

	steps := []struct {
		desc string
		cmd  string
	}{
		{
			"set agent auth token",
			fmt.Sprintf(`sed -i 's|^auth_token=.*|auth_token=%s|' %s`, node.AuthToken, agentConfigPath),
		},
		{
			"set RADIUS shared secret",
			fmt.Sprintf(`cp -n %s %s.orig && sed -i 's|secret = .*|secret = %s|' %s`,
				clientsConfigPath, clientsConfigPath, node.SharedSecret, clientsConfigPath),
		},
		{
			"restart services",
			fmt.Sprintf("systemctl restart %s %s", authService, agentService),
		},
	}
	for _, step := range steps {
		if _, err := h.runner.Run(ctx, node, step.cmd); err != nil {
			return fmt.Errorf("%s: %w", step.desc, err)
		}
		node.AppendLog(step.desc)
	}

	for _, service := range []string{authService, agentService} {
		state, err := h.runner.Run(ctx, node, "systemctl is-active "+service)
		if err != nil {
			return fmt.Errorf("verify %s: %w", service, err)
		}
		if state != "active" {
			return fmt.Errorf("service %s is %s after restart", service, state)
		}
		node.AppendLog(service + " active")
	}
	return nil
}

// ensureSecrets generates the node's auth token and shared secret on the
// first configuration run. Retries reuse what was already persisted.
func (h *ConfigureHandler) ensureSecrets(node *models.RadiusServer) error {
	if node.AuthToken == "" {
		token, err := newSecret()
		if err != nil {
			return err
		}
		node.AuthToken = token
	}
	if node.SharedSecret == "" {
		secret, err := newSecret()
		if err != nil {
			return err
		}
		node.SharedSecret = secret
	}
	return nil
}

// OnDeadLetter marks the node failed once configuration retries are spent.
func (h *ConfigureHandler) OnDeadLetter(ctx context.Context, job *models.Job) {
	if job.Payload.RadiusServerID == nil {
		return
	}
	markNodeFailed(ctx, h.store, *job.Payload.RadiusServerID,
		fmt.Sprintf("configuration failed after %d attempts: %s", job.MaxRetries, job.ErrorMessage),
		h.logger)
}
