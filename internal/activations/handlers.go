package activations

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/mikrotik"
	"github.com/radmesh/radmesh/internal/models"
)

// ActivationsHandler is the job handler for accounting reports queued by
// the RADIUS intake endpoint.
type ActivationsHandler struct {
	processor *Processor
	logger    zerolog.Logger
}

// NewActivationsHandler creates the voucher_activations job handler.
func NewActivationsHandler(processor *Processor, logger zerolog.Logger) *ActivationsHandler {
	return &ActivationsHandler{
		processor: processor,
		logger:    logger.With().Str("component", "activations_job").Logger(),
	}
}

// Handle applies the queued accounting report. Per-record failures are
// tallied inside the processor and never fail the job: a replay would
// reprocess the good records for no gain.
func (h *ActivationsHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if len(job.Payload.Activations) == 0 {
		return nil, fmt.Errorf("activations job has no records")
	}

	tally := h.processor.ProcessActivations(ctx, job.Payload.Activations)
	h.logger.Info().
		Int("received", len(job.Payload.Activations)).
		Int("processed", tally.Processed).
		Int("skipped", tally.Skipped).
		Int("errors", tally.Errors).
		Msg("accounting report applied")
	return tally.result(), nil
}

// UsageIngestHandler is the job handler for router usage pushes.
type UsageIngestHandler struct {
	processor *Processor
	logger    zerolog.Logger
}

// NewUsageIngestHandler creates the usage_ingest job handler.
func NewUsageIngestHandler(processor *Processor, logger zerolog.Logger) *UsageIngestHandler {
	return &UsageIngestHandler{
		processor: processor,
		logger:    logger.With().Str("component", "usage_ingest_job").Logger(),
	}
}

// Handle decodes the queued flat usage body and applies it.
func (h *UsageIngestHandler) Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error) {
	if job.Payload.RouterID == nil {
		return nil, fmt.Errorf("usage job missing router_id")
	}

	lines := mikrotik.DecodeUsageLines(job.Payload.UsageLines)
	if len(lines) == 0 {
		return Tally{}.result(), nil
	}

	tally := h.processor.ProcessUsage(ctx, *job.Payload.RouterID, lines)
	h.logger.Info().
		Str("router_id", job.Payload.RouterID.String()).
		Int("received", len(lines)).
		Int("processed", tally.Processed).
		Int("skipped", tally.Skipped).
		Int("errors", tally.Errors).
		Msg("usage push applied")
	return tally.result(), nil
}
