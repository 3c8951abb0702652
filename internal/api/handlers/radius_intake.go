package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/api/middleware"
	"github.com/radmesh/radmesh/internal/models"
)

// ActivationsEnqueuer queues an accounting report for asynchronous
// processing.
type ActivationsEnqueuer interface {
	EnqueueActivations(ctx context.Context, serverID uuid.UUID, records []models.ActivationRecord) (*models.Job, error)
}

// RadiusIntakeHandler accepts accounting reports pushed by RADIUS nodes.
type RadiusIntakeHandler struct {
	queue  ActivationsEnqueuer
	logger zerolog.Logger
}

// NewRadiusIntakeHandler creates a new RadiusIntakeHandler.
func NewRadiusIntakeHandler(queue ActivationsEnqueuer, logger zerolog.Logger) *RadiusIntakeHandler {
	return &RadiusIntakeHandler{
		queue:  queue,
		logger: logger.With().Str("component", "radius_intake").Logger(),
	}
}

// RegisterRoutes registers the intake routes on the given group. The
// group must carry RadiusNodeAuth.
func (h *RadiusIntakeHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activations", h.ReceiveActivations)
}

type activationsRequest struct {
	Activations []models.ActivationRecord `json:"activations" binding:"required,min=1,dive"`
}

// ReceiveActivations validates an accounting report and queues it. The
// node gets its acknowledgment immediately; processing happens in the
// job queue.
// POST /api/radius/activations
func (h *RadiusIntakeHandler) ReceiveActivations(c *gin.Context) {
	node := middleware.RequireRadiusServer(c)
	if node == nil {
		return
	}

	var req activationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid report: " + err.Error()})
		return
	}

	job, err := h.queue.EnqueueActivations(c.Request.Context(), node.ID, req.Activations)
	if err != nil {
		h.logger.Error().Err(err).Str("node", node.Name).Msg("failed to enqueue accounting report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue report"})
		return
	}

	h.logger.Info().
		Str("node", node.Name).
		Int("received", len(req.Activations)).
		Str("job_id", job.ID.String()).
		Msg("accounting report queued")

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"received":  len(req.Activations),
		"queued_at": job.CreatedAt.Format(time.RFC3339),
	})
}
