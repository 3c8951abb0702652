package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/radmesh/radmesh/internal/models"
)

// Job Queue Methods

// CreateJob creates a new job in the queue.
func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	payloadBytes, err := job.PayloadJSON()
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO job_queue (
			id, job_type, priority, status, payload,
			retry_count, max_retries, next_retry_at, error_message, last_error_at,
			created_at, started_at, completed_at,
			router_id, radius_server_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15
		)
	`, job.ID, job.JobType, job.Priority, job.Status, payloadBytes,
		job.RetryCount, job.MaxRetries, job.NextRetryAt, job.ErrorMessage, job.LastErrorAt,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
		job.RouterID, job.RadiusServerID)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJobByID returns a job by its ID.
func (db *DB) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	var jobTypeStr, statusStr string
	var payloadBytes []byte

	err := db.Pool.QueryRow(ctx, `
		SELECT id, job_type, priority, status, payload,
		       retry_count, max_retries, next_retry_at, error_message, last_error_at,
		       created_at, started_at, completed_at,
		       router_id, radius_server_id
		FROM job_queue
		WHERE id = $1
	`, id).Scan(
		&job.ID, &jobTypeStr, &job.Priority, &statusStr, &payloadBytes,
		&job.RetryCount, &job.MaxRetries, &job.NextRetryAt, &job.ErrorMessage, &job.LastErrorAt,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&job.RouterID, &job.RadiusServerID,
	)
	if err != nil {
		return nil, fmt.Errorf("get job by ID: %w", err)
	}

	job.JobType = models.JobType(jobTypeStr)
	job.Status = models.JobStatus(statusStr)
	if err := job.SetPayload(payloadBytes); err != nil {
		db.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to parse job payload")
	}

	return &job, nil
}

// ListJobs returns jobs with optional status and type filters.
func (db *DB) ListJobs(ctx context.Context, status *models.JobStatus, jobType *models.JobType, limit int) ([]*models.Job, error) {
	query := `
		SELECT id, job_type, priority, status, payload,
		       retry_count, max_retries, next_retry_at, error_message, last_error_at,
		       created_at, started_at, completed_at,
		       router_id, radius_server_id
		FROM job_queue
		WHERE 1 = 1
	`
	args := []interface{}{}
	argNum := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *status)
		argNum++
	}

	if jobType != nil {
		query += fmt.Sprintf(" AND job_type = $%d", argNum)
		args = append(args, *jobType)
		argNum++
	}

	query += " ORDER BY priority DESC, created_at ASC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return db.scanJobs(rows)
}

// ListJobsReadyForRetry returns failed jobs whose backoff has elapsed.
func (db *DB) ListJobsReadyForRetry(ctx context.Context, limit int) ([]*models.Job, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, job_type, priority, status, payload,
		       retry_count, max_retries, next_retry_at, error_message, last_error_at,
		       created_at, started_at, completed_at,
		       router_id, radius_server_id
		FROM job_queue
		WHERE status = 'failed'
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY priority DESC, next_retry_at ASC NULLS FIRST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs ready for retry: %w", err)
	}
	defer rows.Close()

	return db.scanJobs(rows)
}

// UpdateJob updates a job in the queue.
func (db *DB) UpdateJob(ctx context.Context, job *models.Job) error {
	payloadBytes, err := job.PayloadJSON()
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE job_queue
		SET status = $2, payload = $3,
		    retry_count = $4, max_retries = $5, next_retry_at = $6,
		    error_message = $7, last_error_at = $8,
		    started_at = $9, completed_at = $10
		WHERE id = $1
	`, job.ID, job.Status, payloadBytes,
		job.RetryCount, job.MaxRetries, job.NextRetryAt,
		job.ErrorMessage, job.LastErrorAt,
		job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// DeleteJob deletes a job from the queue.
func (db *DB) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// CleanupOldJobs removes completed and dead letter jobs older than the
// retention window.
func (db *DB) CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error) {
	result, err := db.Pool.Exec(ctx, `
		DELETE FROM job_queue
		WHERE status IN ('completed', 'dead_letter')
		  AND completed_at < NOW() - INTERVAL '1 day' * $1
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetNextPendingJob atomically claims the next pending job for processing.
func (db *DB) GetNextPendingJob(ctx context.Context) (*models.Job, error) {
	var job models.Job
	var jobTypeStr, statusStr string
	var payloadBytes []byte

	err := db.Pool.QueryRow(ctx, `
		UPDATE job_queue
		SET status = 'running', started_at = NOW()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, priority, status, payload,
		          retry_count, max_retries, next_retry_at, error_message, last_error_at,
		          created_at, started_at, completed_at,
		          router_id, radius_server_id
	`).Scan(
		&job.ID, &jobTypeStr, &job.Priority, &statusStr, &payloadBytes,
		&job.RetryCount, &job.MaxRetries, &job.NextRetryAt, &job.ErrorMessage, &job.LastErrorAt,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		&job.RouterID, &job.RadiusServerID,
	)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, nil
		}
		return nil, fmt.Errorf("get next pending job: %w", err)
	}

	job.JobType = models.JobType(jobTypeStr)
	job.Status = models.JobStatus(statusStr)
	if err := job.SetPayload(payloadBytes); err != nil {
		db.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("failed to parse job payload")
	}

	return &job, nil
}

// Helper to scan job rows
func (db *DB) scanJobs(rows scanner) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		var j models.Job
		var jobTypeStr, statusStr string
		var payloadBytes []byte

		err := rows.Scan(
			&j.ID, &jobTypeStr, &j.Priority, &statusStr, &payloadBytes,
			&j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &j.ErrorMessage, &j.LastErrorAt,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt,
			&j.RouterID, &j.RadiusServerID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}

		j.JobType = models.JobType(jobTypeStr)
		j.Status = models.JobStatus(statusStr)
		if err := j.SetPayload(payloadBytes); err != nil {
			db.logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("failed to parse job payload")
		}

		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}
