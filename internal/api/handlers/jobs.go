package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/models"
)

// JobStore defines the persistence operations of the job endpoints.
type JobStore interface {
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, status *models.JobStatus, jobType *models.JobType, limit int) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
}

// JobHandler serves job queue inspection endpoints.
type JobHandler struct {
	store  JobStore
	logger zerolog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(store JobStore, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		store:  store,
		logger: logger.With().Str("component", "job_handler").Logger(),
	}
}

// RegisterRoutes registers job routes on the given group.
func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	jobs := r.Group("/jobs")
	{
		jobs.GET("", h.List)
		jobs.GET("/:id", h.Get)
		jobs.POST("/:id/retry", h.Retry)
	}
}

// List returns recent jobs, optionally filtered by status and type.
// GET /api/v1/jobs?status=..&type=..
func (h *JobHandler) List(c *gin.Context) {
	var status *models.JobStatus
	if s := c.Query("status"); s != "" {
		js := models.JobStatus(s)
		status = &js
	}
	var jobType *models.JobType
	if t := c.Query("type"); t != "" {
		jt := models.JobType(t)
		jobType = &jt
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), status, jobType, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Get returns one job with its payload and result.
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Retry resets a failed or dead-lettered job for a fresh round of
// attempts.
// POST /api/v1/jobs/:id/retry
func (h *JobHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	if !job.Retry() {
		c.JSON(http.StatusConflict, gin.H{"error": "job is " + string(job.Status)})
		return
	}
	if err := h.store.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry job"})
		return
	}

	h.logger.Info().Str("job_id", job.ID.String()).Str("type", string(job.JobType)).Msg("job requeued")
	c.JSON(http.StatusOK, job)
}
