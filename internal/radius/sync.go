package radius

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/metrics"
	"github.com/radmesh/radmesh/internal/models"
)

// ChunkSize is the number of vouchers per push. Chunks isolate partial
// failures: one bad chunk never aborts the rest of a batch.
const ChunkSize = 250

// DefaultRetryLimit bounds a retry sweep.
const DefaultRetryLimit = 1000

// RetryWindow is how far back a sweep reaches. Older failures need
// operator attention instead of endless automatic replays.
const RetryWindow = 24 * time.Hour

// SyncStore is the persistence surface of the sync handlers.
type SyncStore interface {
	GetRouterWithParent(ctx context.Context, id uuid.UUID) (*models.Router, *models.Router, error)
	GetRadiusServerByID(ctx context.Context, id uuid.UUID) (*models.RadiusServer, error)
	ListVouchersByBatch(ctx context.Context, routerID uuid.UUID, batch string, syncStatus models.SyncStatus) ([]*models.Voucher, error)
	ListRecentFailedVouchers(ctx context.Context, routerID uuid.UUID, window time.Duration, limit int) ([]*models.Voucher, error)
	GetProfilesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Profile, error)
	UpdateVoucherSyncStatus(ctx context.Context, v *models.Voucher) error
	MarkBatchSyncStatus(ctx context.Context, routerID uuid.UUID, batch string, from, to models.SyncStatus, errMsg string) (int64, error)
	CreateVoucherLog(ctx context.Context, entry *models.VoucherLog) error
}

// SyncBatchHandler pushes one voucher batch to its router's RADIUS node.
type SyncBatchHandler struct {
	store  SyncStore
	client Client
	logger zerolog.Logger
}

// NewSyncBatchHandler creates the voucher_sync job handler.
func NewSyncBatchHandler(store SyncStore, client Client, logger zerolog.Logger) *SyncBatchHandler {
	return &SyncBatchHandler{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "voucher_sync").Logger(),
	}
}

// Handle pushes the batch chunk by chunk. A failed chunk marks its
// vouchers failed and moves on; the job errors at the end so the queue
// retries whatever is still pending.
func (h *SyncBatchHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if job.Payload.RouterID == nil || job.Payload.Batch == "" {
		return nil, fmt.Errorf("sync job missing router_id or batch")
	}
	routerID := *job.Payload.RouterID
	batch := job.Payload.Batch

	logger := h.logger.With().
		Str("router_id", routerID.String()).
		Str("batch", batch).
		Logger()

	router, parent, err := h.store.GetRouterWithParent(ctx, routerID)
	if err != nil {
		return nil, fmt.Errorf("load router: %w", err)
	}

	nodeID := router.EffectiveRadiusServerID(parent)
	if nodeID == nil {
		// Fail fast: no remote calls, no retries. Every pending voucher
		// of the batch is marked so the operator sees the problem.
		const msg = "router has no RADIUS server configured"
		marked, err := h.store.MarkBatchSyncStatus(ctx, routerID, batch,
			models.SyncStatusPending, models.SyncStatusFailed, msg)
		if err != nil {
			return nil, fmt.Errorf("mark batch failed: %w", err)
		}
		logger.Warn().Int64("marked", marked).Msg(msg)
		h.logBatchEvent(ctx, router, batch, models.VoucherEventSyncFailed, msg, int(marked))
		return map[string]interface{}{"failed": marked, "reason": msg}, nil
	}

	node, err := h.store.GetRadiusServerByID(ctx, *nodeID)
	if err != nil {
		return nil, fmt.Errorf("load radius node: %w", err)
	}

	vouchers, err := h.store.ListVouchersByBatch(ctx, routerID, batch, models.SyncStatusPending)
	if err != nil {
		return nil, fmt.Errorf("load pending vouchers: %w", err)
	}
	if len(vouchers) == 0 {
		logger.Info().Msg("batch has no pending vouchers")
		return map[string]interface{}{"synced": 0}, nil
	}

	nas := router.EffectiveNASIdentifier(parent)
	synced, failed, chunkErr := h.pushChunks(ctx, node, nas, vouchers, logger)

	result := map[string]interface{}{"synced": synced, "failed": failed}
	if synced > 0 {
		h.logBatchEvent(ctx, router, batch, models.VoucherEventSynced, "pushed to RADIUS node", synced)
	}
	if chunkErr != nil {
		h.logBatchEvent(ctx, router, batch, models.VoucherEventSyncFailed, chunkErr.Error(), failed)
		return result, fmt.Errorf("batch partially failed: %w", chunkErr)
	}
	return result, nil
}

// OnDeadLetter marks everything still pending in the batch as failed once
// retries are exhausted.
func (h *SyncBatchHandler) OnDeadLetter(ctx context.Context, job *models.Job) {
	if job.Payload.RouterID == nil || job.Payload.Batch == "" {
		return
	}
	msg := fmt.Sprintf("sync failed after %d attempts: %s", job.MaxRetries, job.ErrorMessage)
	marked, err := h.store.MarkBatchSyncStatus(ctx, *job.Payload.RouterID, job.Payload.Batch,
		models.SyncStatusPending, models.SyncStatusFailed, msg)
	if err != nil {
		h.logger.Error().Err(err).
			Str("batch", job.Payload.Batch).
			Msg("failed to mark exhausted batch")
		return
	}
	if marked > 0 {
		h.logger.Warn().
			Str("batch", job.Payload.Batch).
			Int64("marked", marked).
			Msg("batch retries exhausted, pending vouchers marked failed")
	}
}

// pushChunks pushes vouchers in fixed-size chunks with per-chunk failure
// isolation. Returns the synced and failed counts and the last chunk
// error, if any.
func (h *SyncBatchHandler) pushChunks(ctx context.Context, node *models.RadiusServer, nas string, vouchers []*models.Voucher, logger zerolog.Logger) (int, int, error) {
	profileIDs := make([]uuid.UUID, 0, len(vouchers))
	seen := make(map[uuid.UUID]struct{})
	for _, v := range vouchers {
		if _, ok := seen[v.ProfileID]; !ok {
			seen[v.ProfileID] = struct{}{}
			profileIDs = append(profileIDs, v.ProfileID)
		}
	}
	profiles, err := h.store.GetProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return 0, 0, fmt.Errorf("load profiles: %w", err)
	}

	var synced, failed int
	var lastErr error

	for start := 0; start < len(vouchers); start += ChunkSize {
		end := start + ChunkSize
		if end > len(vouchers) {
			end = len(vouchers)
		}
		chunk := vouchers[start:end]

		payload := make([]SyncVoucher, 0, len(chunk))
		for _, v := range chunk {
			sv := SyncVoucher{
				Username:      v.Username,
				Password:      v.Password,
				NASIdentifier: nas,
			}
			if p, ok := profiles[v.ProfileID]; ok {
				sv.RateLimit = p.RateLimit
			}
			payload = append(payload, sv)
		}

		_, err := h.client.SyncBatch(ctx, node, payload)
		if err != nil {
			lastErr = err
			logger.Error().Err(err).
				Int("chunk_start", start).
				Int("chunk_size", len(chunk)).
				Msg("chunk push failed")
			metrics.SyncChunks.WithLabelValues("failed").Inc()

			for _, v := range chunk {
				v.MarkSyncFailed(err.Error())
				if uerr := h.store.UpdateVoucherSyncStatus(ctx, v); uerr != nil {
					logger.Error().Err(uerr).Str("username", v.Username).Msg("failed to persist sync failure")
				}
				failed++
				metrics.VouchersSyncFailed.Inc()
			}
			continue
		}

		metrics.SyncChunks.WithLabelValues("ok").Inc()
		for _, v := range chunk {
			v.MarkSynced()
			if uerr := h.store.UpdateVoucherSyncStatus(ctx, v); uerr != nil {
				logger.Error().Err(uerr).Str("username", v.Username).Msg("failed to persist sync success")
				continue
			}
			synced++
			metrics.VouchersSynced.Inc()
		}
	}

	return synced, failed, lastErr
}

func (h *SyncBatchHandler) logBatchEvent(ctx context.Context, router *models.Router, batch string, event models.VoucherEventType, reason string, count int) {
	entry := models.NewVoucherLog(event, "", reason)
	entry.RouterID = &router.ID
	entry.RouterName = router.Name
	entry.Meta = map[string]any{"batch": batch, "count": count}
	if err := h.store.CreateVoucherLog(ctx, entry); err != nil {
		h.logger.Error().Err(err).Str("batch", batch).Msg("failed to write ledger entry")
	}
}

// RetryFailedHandler sweeps recently failed vouchers for one router and
// replays them. Sweep failures are logged and tallied, never escalated:
// the next scheduled sweep picks up whatever is still failed.
type RetryFailedHandler struct {
	store  SyncStore
	client Client
	logger zerolog.Logger
}

// NewRetryFailedHandler creates the voucher_retry job handler.
func NewRetryFailedHandler(store SyncStore, client Client, logger zerolog.Logger) *RetryFailedHandler {
	return &RetryFailedHandler{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "voucher_retry").Logger(),
	}
}

// Handle replays failed vouchers in chunks.
func (h *RetryFailedHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if job.Payload.RouterID == nil {
		return nil, fmt.Errorf("retry job missing router_id")
	}
	routerID := *job.Payload.RouterID
	limit := job.Payload.Limit
	if limit <= 0 {
		limit = DefaultRetryLimit
	}

	logger := h.logger.With().Str("router_id", routerID.String()).Logger()

	router, parent, err := h.store.GetRouterWithParent(ctx, routerID)
	if err != nil {
		return nil, fmt.Errorf("load router: %w", err)
	}

	nodeID := router.EffectiveRadiusServerID(parent)
	if nodeID == nil {
		logger.Warn().Msg("router has no RADIUS server configured, skipping sweep")
		return map[string]interface{}{"retried": 0}, nil
	}
	node, err := h.store.GetRadiusServerByID(ctx, *nodeID)
	if err != nil {
		return nil, fmt.Errorf("load radius node: %w", err)
	}

	vouchers, err := h.store.ListRecentFailedVouchers(ctx, routerID, RetryWindow, limit)
	if err != nil {
		return nil, fmt.Errorf("load failed vouchers: %w", err)
	}
	if len(vouchers) == 0 {
		return map[string]interface{}{"retried": 0}, nil
	}

	logger.Info().Int("count", len(vouchers)).Msg("retrying failed vouchers")

	for _, v := range vouchers {
		v.ResetSyncStatus()
		if err := h.store.UpdateVoucherSyncStatus(ctx, v); err != nil {
			logger.Error().Err(err).Str("username", v.Username).Msg("failed to reset voucher")
		}
	}

	nas := router.EffectiveNASIdentifier(parent)
	batchHandler := &SyncBatchHandler{store: h.store, client: h.client, logger: h.logger}
	synced, failed, chunkErr := batchHandler.pushChunks(ctx, node, nas, vouchers, logger)
	if chunkErr != nil {
		// Chunk failures stay inside the sweep; the vouchers are already
		// marked failed and the next sweep will retry them.
		logger.Warn().Err(chunkErr).Int("failed", failed).Msg("sweep finished with failures")
	}

	return map[string]interface{}{"retried": len(vouchers), "synced": synced, "failed": failed}, nil
}
