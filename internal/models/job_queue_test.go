package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVoucherSyncJob(t *testing.T) {
	routerID := uuid.New()
	job := NewVoucherSyncJob(routerID, "batch-42")

	assert.Equal(t, JobTypeVoucherSync, job.JobType)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)
	assert.Equal(t, "batch-42", job.Payload.Batch)
	require.NotNil(t, job.RouterID)
	assert.Equal(t, routerID, *job.RouterID)
}

func TestJobFailFixedBackoff(t *testing.T) {
	job := NewVoucherSyncJob(uuid.New(), "b")

	retry := job.Fail("remote unavailable")
	assert.True(t, retry)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.NextRetryAt)

	delay := time.Until(*job.NextRetryAt)
	assert.InDelta(t, RetryBackoff.Seconds(), delay.Seconds(), 2)

	// Backoff stays flat on the second failure.
	retry = job.Fail("remote unavailable")
	assert.True(t, retry)
	delay = time.Until(*job.NextRetryAt)
	assert.InDelta(t, RetryBackoff.Seconds(), delay.Seconds(), 2)

	// Third failure exhausts the attempts.
	retry = job.Fail("remote unavailable")
	assert.False(t, retry)
	assert.Equal(t, JobStatusDeadLetter, job.Status)
	assert.True(t, job.IsTerminal())
}

func TestJobReadyForRetry(t *testing.T) {
	job := NewVoucherSyncJob(uuid.New(), "b")
	assert.False(t, job.ReadyForRetry())

	job.Fail("boom")
	assert.False(t, job.ReadyForRetry())

	past := time.Now().Add(-time.Second)
	job.NextRetryAt = &past
	assert.True(t, job.ReadyForRetry())
}

func TestJobRetryResets(t *testing.T) {
	job := NewVoucherSyncJob(uuid.New(), "b")
	job.Fail("a")
	job.Fail("b")
	job.Fail("c")
	require.Equal(t, JobStatusDeadLetter, job.Status)

	assert.True(t, job.Retry())
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.ErrorMessage)

	assert.False(t, job.Retry())
}

func TestJobCancel(t *testing.T) {
	job := NewProvisionJob(uuid.New())
	assert.True(t, job.Cancel())
	assert.Equal(t, JobStatusDeadLetter, job.Status)

	running := NewProvisionJob(uuid.New())
	running.Start()
	assert.False(t, running.Cancel())
}

func TestJobPayloadRoundTrip(t *testing.T) {
	serverID := uuid.New()
	job := NewActivationsJob(serverID, []ActivationRecord{
		{Username: "vx1", NASIdentifier: "hotspot-1", AuthenticatedAt: "2026-03-01T12:00:00Z"},
	})

	data, err := job.PayloadJSON()
	require.NoError(t, err)

	restored := &Job{}
	require.NoError(t, restored.SetPayload(data))
	require.Len(t, restored.Payload.Activations, 1)
	assert.Equal(t, "vx1", restored.Payload.Activations[0].Username)
	require.NotNil(t, restored.Payload.RadiusServerID)
	assert.Equal(t, serverID, *restored.Payload.RadiusServerID)
}
