// Package jobs provides a job queue system for managing background operations.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/models"
)

// JobStore defines the interface for job persistence operations.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	GetNextPendingJob(ctx context.Context) (*models.Job, error)
	ListJobsReadyForRetry(ctx context.Context, limit int) ([]*models.Job, error)
	CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error)
}

// JobHandler processes jobs of a specific type.
type JobHandler interface {
	// Handle processes the job and returns a result map or error.
	Handle(ctx context.Context, job *models.Job) (map[string]interface{}, error)
}

// FailureHook runs when a job exhausts its retries. Handlers use it to
// persist a terminal failure state, e.g. marking still-pending vouchers of
// a batch as failed or recording a node installation failure.
type FailureHook interface {
	OnDeadLetter(ctx context.Context, job *models.Job)
}

// QueueConfig holds configuration for the job queue.
type QueueConfig struct {
	// WorkerCount is the number of concurrent workers.
	WorkerCount int
	// PollInterval is how often to check for new jobs.
	PollInterval time.Duration
	// RetryPollInterval is how often to check for jobs ready to retry.
	RetryPollInterval time.Duration
	// CleanupInterval is how often to clean up old jobs.
	CleanupInterval time.Duration
	// JobRetentionDays is how long to keep completed/dead letter jobs.
	JobRetentionDays int
	// DefaultJobTimeout bounds jobs without a per-type timeout.
	DefaultJobTimeout time.Duration
	// JobTimeouts overrides the timeout per job type.
	JobTimeouts map[models.JobType]time.Duration
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:       3,
		PollInterval:      5 * time.Second,
		RetryPollInterval: 15 * time.Second,
		CleanupInterval:   1 * time.Hour,
		JobRetentionDays:  30,
		DefaultJobTimeout: 2 * time.Minute,
		JobTimeouts: map[models.JobType]time.Duration{
			models.JobTypeVoucherSync:  5 * time.Minute,
			models.JobTypeVoucherRetry: 5 * time.Minute,
			models.JobTypeProvision:    10 * time.Minute,
			models.JobTypeConfigure:    5 * time.Minute,
		},
	}
}

// Queue manages background job processing.
type Queue struct {
	store    JobStore
	config   QueueConfig
	handlers map[models.JobType]JobHandler
	hooks    map[models.JobType]FailureHook
	logger   zerolog.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

// NewQueue creates a new job queue.
func NewQueue(store JobStore, config QueueConfig, logger zerolog.Logger) *Queue {
	return &Queue{
		store:    store,
		config:   config,
		handlers: make(map[models.JobType]JobHandler),
		hooks:    make(map[models.JobType]FailureHook),
		logger:   logger.With().Str("component", "job_queue").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a specific job type. When the
// handler also implements FailureHook it is invoked on dead letter.
func (q *Queue) RegisterHandler(jobType models.JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
	if hook, ok := handler.(FailureHook); ok {
		q.hooks[jobType] = hook
	}
	q.logger.Info().Str("job_type", string(jobType)).Msg("registered job handler")
}

// Enqueue adds a new job to the queue.
func (q *Queue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := q.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	q.logger.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.JobType)).
		Int("priority", job.Priority).
		Msg("job enqueued")

	return nil
}

// EnqueueVoucherSync creates and enqueues a batch sync job.
func (q *Queue) EnqueueVoucherSync(ctx context.Context, routerID uuid.UUID, batch string) (*models.Job, error) {
	job := models.NewVoucherSyncJob(routerID, batch)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueVoucherRetry creates and enqueues a retry sweep job.
func (q *Queue) EnqueueVoucherRetry(ctx context.Context, routerID uuid.UUID, limit int) (*models.Job, error) {
	job := models.NewVoucherRetryJob(routerID, limit)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueProvision creates and enqueues a node provisioning job.
func (q *Queue) EnqueueProvision(ctx context.Context, serverID uuid.UUID) (*models.Job, error) {
	job := models.NewProvisionJob(serverID)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueConfigure creates and enqueues a node configuration job.
func (q *Queue) EnqueueConfigure(ctx context.Context, serverID uuid.UUID, fresh bool) (*models.Job, error) {
	job := models.NewConfigureJob(serverID, fresh)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueActivations creates and enqueues an accounting report job.
func (q *Queue) EnqueueActivations(ctx context.Context, serverID uuid.UUID, records []models.ActivationRecord) (*models.Job, error) {
	job := models.NewActivationsJob(serverID, records)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueUsageIngest creates and enqueues a usage push job.
func (q *Queue) EnqueueUsageIngest(ctx context.Context, routerID uuid.UUID, lines string) (*models.Job, error) {
	job := models.NewUsageIngestJob(routerID, lines)
	if err := q.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Start begins processing jobs.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.mu.Unlock()

	q.logger.Info().Int("workers", q.config.WorkerCount).Msg("starting job queue")

	for i := 0; i < q.config.WorkerCount; i++ {
		q.workerWg.Add(1)
		go q.worker(ctx, i)
	}

	q.workerWg.Add(1)
	go q.retryProcessor(ctx)

	q.workerWg.Add(1)
	go q.cleanupProcessor(ctx)

	return nil
}

// Stop gracefully stops the queue.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.logger.Info().Msg("stopping job queue")
	q.workerWg.Wait()
	q.logger.Info().Msg("job queue stopped")
}

// jobTimeout resolves the timeout for a job type.
func (q *Queue) jobTimeout(jobType models.JobType) time.Duration {
	if d, ok := q.config.JobTimeouts[jobType]; ok {
		return d
	}
	return q.config.DefaultJobTimeout
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, workerID int) {
	defer q.workerWg.Done()

	logger := q.logger.With().Int("worker_id", workerID).Logger()
	logger.Debug().Msg("worker started")

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("worker stopping due to context cancellation")
			return
		case <-q.stopCh:
			logger.Debug().Msg("worker stopping due to stop signal")
			return
		case <-ticker.C:
			q.processNextJob(ctx, logger)
		}
	}
}

// processNextJob attempts to claim and process the next pending job.
func (q *Queue) processNextJob(ctx context.Context, logger zerolog.Logger) {
	job, err := q.store.GetNextPendingJob(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get next pending job")
		return
	}

	if job == nil {
		return // No jobs available
	}

	logger = logger.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.JobType)).
		Logger()

	logger.Info().Msg("processing job")

	q.mu.RLock()
	handler, exists := q.handlers[job.JobType]
	hook := q.hooks[job.JobType]
	q.mu.RUnlock()

	if !exists {
		logger.Error().Msg("no handler registered for job type")
		job.Fail("no handler registered for job type")
		if err := q.store.UpdateJob(ctx, job); err != nil {
			logger.Error().Err(err).Msg("failed to update job after handler error")
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, q.jobTimeout(job.JobType))
	defer cancel()

	result, err := handler.Handle(jobCtx, job)
	if err != nil {
		shouldRetry := job.Fail(err.Error())
		if shouldRetry {
			logger.Warn().
				Err(err).
				Int("retry_count", job.RetryCount).
				Time("next_retry_at", *job.NextRetryAt).
				Msg("job failed, will retry")
		} else {
			logger.Error().
				Err(err).
				Int("retry_count", job.RetryCount).
				Msg("job failed, moved to dead letter queue")
			if hook != nil {
				hook.OnDeadLetter(ctx, job)
			}
		}
	} else {
		job.Complete(result)
		logger.Info().
			Dur("duration", job.Duration()).
			Msg("job completed successfully")
	}

	if err := q.store.UpdateJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to update job after processing")
	}
}

// retryProcessor checks for jobs ready to retry and requeues them.
func (q *Queue) retryProcessor(ctx context.Context) {
	defer q.workerWg.Done()

	logger := q.logger.With().Str("processor", "retry").Logger()
	logger.Debug().Msg("retry processor started")

	ticker := time.NewTicker(q.config.RetryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.processRetries(ctx, logger)
		}
	}
}

// processRetries requeues jobs that are ready for retry.
func (q *Queue) processRetries(ctx context.Context, logger zerolog.Logger) {
	jobs, err := q.store.ListJobsReadyForRetry(ctx, 100)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list jobs ready for retry")
		return
	}

	for _, job := range jobs {
		job.Status = models.JobStatusPending
		job.StartedAt = nil

		if err := q.store.UpdateJob(ctx, job); err != nil {
			logger.Error().
				Err(err).
				Str("job_id", job.ID.String()).
				Msg("failed to requeue job for retry")
			continue
		}

		logger.Info().
			Str("job_id", job.ID.String()).
			Int("retry_count", job.RetryCount).
			Msg("job requeued for retry")
	}
}

// cleanupProcessor periodically cleans up old completed jobs.
func (q *Queue) cleanupProcessor(ctx context.Context) {
	defer q.workerWg.Done()

	logger := q.logger.With().Str("processor", "cleanup").Logger()
	logger.Debug().Msg("cleanup processor started")

	ticker := time.NewTicker(q.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			deleted, err := q.store.CleanupOldJobs(ctx, q.config.JobRetentionDays)
			if err != nil {
				logger.Error().Err(err).Msg("failed to cleanup old jobs")
			} else if deleted > 0 {
				logger.Info().Int64("deleted", deleted).Msg("cleaned up old jobs")
			}
		}
	}
}
