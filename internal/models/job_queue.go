package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType defines the type of job in the queue.
type JobType string

const (
	// JobTypeVoucherSync pushes a voucher batch to its RADIUS node.
	JobTypeVoucherSync JobType = "voucher_sync"
	// JobTypeVoucherRetry sweeps recently failed vouchers for a router.
	JobTypeVoucherRetry JobType = "voucher_retry"
	// JobTypeProvision creates the cloud instance for a RADIUS node.
	JobTypeProvision JobType = "radius_provision"
	// JobTypeConfigure configures a provisioned RADIUS node over SSH.
	JobTypeConfigure JobType = "radius_configure"
	// JobTypeActivations applies an accounting activation report.
	JobTypeActivations JobType = "voucher_activations"
	// JobTypeUsageIngest applies a router usage push.
	JobTypeUsageIngest JobType = "usage_ingest"
)

// JobStatus defines the status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and may be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusDeadLetter indicates the job has exhausted all retries.
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// DefaultMaxRetries is the default number of attempts before dead letter.
const DefaultMaxRetries = 3

// RetryBackoff is the fixed delay between attempts. Sync pushes are
// idempotent on the node side, so a flat short delay is enough.
const RetryBackoff = 60 * time.Second

// Job represents a job in the queue.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	JobType      JobType    `json:"job_type"`
	Priority     int        `json:"priority"`
	Status       JobStatus  `json:"status"`
	Payload      JobPayload `json:"payload"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	// Optional references for quick lookups
	RouterID       *uuid.UUID `json:"router_id,omitempty"`
	RadiusServerID *uuid.UUID `json:"radius_server_id,omitempty"`
}

// JobPayload contains job-specific data stored as JSONB.
type JobPayload struct {
	Description string `json:"description,omitempty"`

	// Sync and retry job fields
	Batch    string     `json:"batch,omitempty"`
	RouterID *uuid.UUID `json:"router_id,omitempty"`
	Limit    int        `json:"limit,omitempty"`

	// Provisioning job fields
	RadiusServerID *uuid.UUID `json:"radius_server_id,omitempty"`
	FreshInstance  bool       `json:"fresh_instance,omitempty"`

	// Ingestion job fields
	Activations []ActivationRecord `json:"activations,omitempty"`
	UsageLines  string             `json:"usage_lines,omitempty"`

	// Result data (populated on completion)
	Result map[string]interface{} `json:"result,omitempty"`
}

// ActivationRecord is one accounting event reported by a RADIUS node.
type ActivationRecord struct {
	Username         string `json:"username" binding:"required"`
	NASIdentifier    string `json:"nas_identifier,omitempty"`
	CallingStationID string `json:"calling_station_id,omitempty"`
	AuthenticatedAt  string `json:"authenticated_at" binding:"required"`
}

// NewJob creates a new job with the given parameters.
func NewJob(jobType JobType, priority int, payload JobPayload) *Job {
	job := &Job{
		ID:         uuid.New(),
		JobType:    jobType,
		Priority:   priority,
		Status:     JobStatusPending,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now(),
	}
	if payload.RouterID != nil {
		job.RouterID = payload.RouterID
	}
	if payload.RadiusServerID != nil {
		job.RadiusServerID = payload.RadiusServerID
	}
	return job
}

// NewVoucherSyncJob creates a sync job for one batch on one router.
func NewVoucherSyncJob(routerID uuid.UUID, batch string) *Job {
	return NewJob(JobTypeVoucherSync, 0, JobPayload{
		RouterID:    &routerID,
		Batch:       batch,
		Description: "Voucher batch sync",
	})
}

// NewVoucherRetryJob creates a retry sweep job for one router.
func NewVoucherRetryJob(routerID uuid.UUID, limit int) *Job {
	return NewJob(JobTypeVoucherRetry, 0, JobPayload{
		RouterID:    &routerID,
		Limit:       limit,
		Description: "Failed voucher retry sweep",
	})
}

// NewProvisionJob creates a cloud provisioning job for a RADIUS node.
func NewProvisionJob(serverID uuid.UUID) *Job {
	return NewJob(JobTypeProvision, 0, JobPayload{
		RadiusServerID: &serverID,
		Description:    "RADIUS node provisioning",
	})
}

// NewConfigureJob creates an SSH configuration job for a RADIUS node.
// fresh marks nodes provisioned moments ago, which get a stabilization
// delay before the first connection attempt.
func NewConfigureJob(serverID uuid.UUID, fresh bool) *Job {
	return NewJob(JobTypeConfigure, 0, JobPayload{
		RadiusServerID: &serverID,
		FreshInstance:  fresh,
		Description:    "RADIUS node configuration",
	})
}

// NewActivationsJob creates an ingestion job for an accounting report.
func NewActivationsJob(serverID uuid.UUID, records []ActivationRecord) *Job {
	return NewJob(JobTypeActivations, 0, JobPayload{
		RadiusServerID: &serverID,
		Activations:    records,
		Description:    "Accounting activation report",
	})
}

// NewUsageIngestJob creates an ingestion job for a router usage push.
func NewUsageIngestJob(routerID uuid.UUID, lines string) *Job {
	return NewJob(JobTypeUsageIngest, 0, JobPayload{
		RouterID:    &routerID,
		UsageLines:  lines,
		Description: "Router usage push",
	})
}

// Start marks the job as running.
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Complete marks the job as completed successfully.
func (j *Job) Complete(result map[string]interface{}) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.Payload.Result = result
}

// Fail marks the job as failed with the given error message.
// Returns true if the job should be retried, false if it moved to dead letter.
func (j *Job) Fail(errMsg string) bool {
	now := time.Now()
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.LastErrorAt = &now
	j.RetryCount++

	if j.RetryCount >= j.MaxRetries {
		j.Status = JobStatusDeadLetter
		j.CompletedAt = &now
		return false
	}

	nextRetry := now.Add(RetryBackoff)
	j.NextRetryAt = &nextRetry
	return true
}

// Cancel cancels a pending job.
func (j *Job) Cancel() bool {
	if j.Status != JobStatusPending {
		return false
	}
	j.Status = JobStatusDeadLetter
	now := time.Now()
	j.CompletedAt = &now
	j.ErrorMessage = "Job canceled by user"
	return true
}

// Retry resets a failed job for a fresh round of attempts.
func (j *Job) Retry() bool {
	if j.Status != JobStatusFailed && j.Status != JobStatusDeadLetter {
		return false
	}
	j.Status = JobStatusPending
	j.RetryCount = 0
	j.NextRetryAt = nil
	j.ErrorMessage = ""
	j.LastErrorAt = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	return true
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusDeadLetter
}

// ReadyForRetry returns true if the job's backoff window has elapsed.
func (j *Job) ReadyForRetry() bool {
	if j.Status != JobStatusFailed {
		return false
	}
	if j.NextRetryAt == nil {
		return true
	}
	return time.Now().After(*j.NextRetryAt)
}

// Duration returns the duration of the job, or zero if not started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	endTime := time.Now()
	if j.CompletedAt != nil {
		endTime = *j.CompletedAt
	}
	return endTime.Sub(*j.StartedAt)
}

// PayloadJSON returns the payload as JSON bytes for database storage.
func (j *Job) PayloadJSON() ([]byte, error) {
	return json.Marshal(j.Payload)
}

// SetPayload sets the payload from JSON bytes.
func (j *Job) SetPayload(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &j.Payload)
}
