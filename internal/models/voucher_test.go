package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVoucher(t *testing.T) {
	routerID := uuid.New()
	profileID := uuid.New()

	v := NewVoucher(routerID, profileID, "batch-1", "abc123", "secret")

	assert.Equal(t, VoucherStatusUnused, v.Status)
	assert.Equal(t, SyncStatusPending, v.RadiusSyncStatus)
	assert.Equal(t, routerID, v.RouterID)
	assert.Nil(t, v.ActivatedAt)
	assert.Nil(t, v.MACAddress)
}

func TestVoucherStatusTransitions(t *testing.T) {
	tests := []struct {
		from    VoucherStatus
		to      VoucherStatus
		allowed bool
	}{
		{VoucherStatusUnused, VoucherStatusActive, true},
		{VoucherStatusUnused, VoucherStatusDisabled, true},
		{VoucherStatusUnused, VoucherStatusExpired, false},
		{VoucherStatusActive, VoucherStatusExpired, true},
		{VoucherStatusActive, VoucherStatusUsed, true},
		{VoucherStatusActive, VoucherStatusUnused, false},
		{VoucherStatusExpired, VoucherStatusActive, false},
		{VoucherStatusExpired, VoucherStatusDisabled, true},
		{VoucherStatusDisabled, VoucherStatusUnused, true},
		{VoucherStatusActive, VoucherStatusActive, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestVoucherActivateWriteOnce(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := v.Activate(at, 24)
	require.NoError(t, err)
	require.NotNil(t, v.ActivatedAt)
	assert.Equal(t, at, *v.ActivatedAt)
	require.NotNil(t, v.ExpiresAt)
	assert.Equal(t, at.Add(24*time.Hour), *v.ExpiresAt)
	assert.Equal(t, VoucherStatusActive, v.Status)

	// Second activation must not move the timestamp.
	err = v.Activate(at.Add(time.Hour), 24)
	assert.ErrorIs(t, err, ErrAlreadyActivated)
	assert.Equal(t, at, *v.ActivatedAt)
}

func TestVoucherActivateZeroValidity(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")
	require.NoError(t, v.Activate(time.Now(), 0))
	assert.Nil(t, v.ExpiresAt)
}

func TestVoucherBindMACWriteOnce(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")

	v.BindMAC("AA:BB:CC:DD:EE:FF")
	require.NotNil(t, v.MACAddress)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", *v.MACAddress)

	v.BindMAC("11:22:33:44:55:66")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", *v.MACAddress)

	fresh := NewVoucher(uuid.New(), uuid.New(), "b", "user2", "pw")
	fresh.BindMAC("")
	assert.Nil(t, fresh.MACAddress)
}

func TestVoucherSyncLifecycle(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")

	v.MarkSyncFailed("connection refused")
	assert.Equal(t, SyncStatusFailed, v.RadiusSyncStatus)
	require.NotNil(t, v.RadiusSyncError)
	assert.Equal(t, "connection refused", *v.RadiusSyncError)

	v.ResetSyncStatus()
	assert.Equal(t, SyncStatusPending, v.RadiusSyncStatus)
	assert.Nil(t, v.RadiusSyncError)

	v.MarkSynced()
	assert.Equal(t, SyncStatusSynced, v.RadiusSyncStatus)
	assert.Nil(t, v.RadiusSyncError)
}

func TestVoucherComment(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")
	assert.Equal(t, "RadMesh | LOCK=0", v.Comment(false))
	assert.Equal(t, "RadMesh | LOCK=1", v.Comment(true))

	at := time.Date(2026, 3, 5, 9, 30, 15, 0, time.UTC)
	require.NoError(t, v.Activate(at, 0))
	assert.Equal(t, "RadMesh | LOCK=1 | Act: 3/5/2026 09:30:15", v.Comment(true))
}

func TestVoucherIsExpired(t *testing.T) {
	v := NewVoucher(uuid.New(), uuid.New(), "b", "user1", "pw")
	now := time.Now()
	assert.False(t, v.IsExpired(now))

	past := now.Add(-time.Hour)
	v.ExpiresAt = &past
	assert.True(t, v.IsExpired(now))
}
