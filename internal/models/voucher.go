package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VoucherStatus represents the lifecycle state of a hotspot voucher.
type VoucherStatus string

const (
	VoucherStatusUnused   VoucherStatus = "unused"
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusExpired  VoucherStatus = "expired"
	VoucherStatusUsed     VoucherStatus = "used"
	VoucherStatusDisabled VoucherStatus = "disabled"
)

// IsValid checks if the voucher status is a known value.
func (s VoucherStatus) IsValid() bool {
	switch s {
	case VoucherStatusUnused, VoucherStatusActive, VoucherStatusExpired,
		VoucherStatusUsed, VoucherStatusDisabled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to the target state.
// Terminal states (expired, used) only allow disabling.
func (s VoucherStatus) CanTransitionTo(target VoucherStatus) bool {
	if s == target {
		return true
	}
	switch s {
	case VoucherStatusUnused:
		return target == VoucherStatusActive || target == VoucherStatusDisabled
	case VoucherStatusActive:
		return target == VoucherStatusExpired || target == VoucherStatusUsed ||
			target == VoucherStatusDisabled
	case VoucherStatusExpired, VoucherStatusUsed:
		return target == VoucherStatusDisabled
	case VoucherStatusDisabled:
		return target == VoucherStatusUnused
	}
	return false
}

// SyncStatus tracks a voucher's push state toward its RADIUS node.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// IsValid checks if the sync status is a known value.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

// Voucher is a prepaid hotspot credential tied to a router and a profile.
// ActivatedAt and MACAddress are write-once: the first writer wins and
// later ingestion passes must leave them untouched.
type Voucher struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	RouterID         uuid.UUID     `json:"router_id" db:"router_id"`
	ProfileID        uuid.UUID     `json:"profile_id" db:"profile_id"`
	Batch            string        `json:"batch" db:"batch"`
	Username         string        `json:"username" db:"username"`
	Password         string        `json:"password" db:"password"`
	Status           VoucherStatus `json:"status" db:"status"`
	RadiusSyncStatus SyncStatus    `json:"radius_sync_status" db:"radius_sync_status"`
	RadiusSyncError  *string       `json:"radius_sync_error,omitempty" db:"radius_sync_error"`
	ActivatedAt      *time.Time    `json:"activated_at,omitempty" db:"activated_at"`
	MACAddress       *string       `json:"mac_address,omitempty" db:"mac_address"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	BytesIn          int64         `json:"bytes_in" db:"bytes_in"`
	BytesOut         int64         `json:"bytes_out" db:"bytes_out"`
	Uptime           string        `json:"uptime" db:"uptime"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// ErrAlreadyActivated is returned when an activation would overwrite an
// existing activation timestamp.
var ErrAlreadyActivated = fmt.Errorf("voucher already activated")

// NewVoucher creates a voucher in the unused, sync-pending state.
func NewVoucher(routerID, profileID uuid.UUID, batch, username, password string) *Voucher {
	now := time.Now()
	return &Voucher{
		ID:               uuid.New(),
		RouterID:         routerID,
		ProfileID:        profileID,
		Batch:            batch,
		Username:         username,
		Password:         password,
		Status:           VoucherStatusUnused,
		RadiusSyncStatus: SyncStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkSynced records a successful push to the RADIUS node.
func (v *Voucher) MarkSynced() {
	v.RadiusSyncStatus = SyncStatusSynced
	v.RadiusSyncError = nil
	v.UpdatedAt = time.Now()
}

// MarkSyncFailed records a failed push with a diagnostic message.
func (v *Voucher) MarkSyncFailed(msg string) {
	v.RadiusSyncStatus = SyncStatusFailed
	v.RadiusSyncError = &msg
	v.UpdatedAt = time.Now()
}

// ResetSyncStatus re-queues the voucher for a sync retry sweep.
func (v *Voucher) ResetSyncStatus() {
	v.RadiusSyncStatus = SyncStatusPending
	v.RadiusSyncError = nil
	v.UpdatedAt = time.Now()
}

// Activate sets the activation timestamp and derives the expiry from the
// profile validity. It fails if the voucher already carries a timestamp.
func (v *Voucher) Activate(at time.Time, validityHours int) error {
	if v.ActivatedAt != nil {
		return ErrAlreadyActivated
	}
	v.ActivatedAt = &at
	if validityHours > 0 {
		expires := at.Add(time.Duration(validityHours) * time.Hour)
		v.ExpiresAt = &expires
	}
	if v.Status.CanTransitionTo(VoucherStatusActive) {
		v.Status = VoucherStatusActive
	}
	v.UpdatedAt = time.Now()
	return nil
}

// BindMAC attaches the first seen client MAC. Later MACs are ignored.
func (v *Voucher) BindMAC(mac string) {
	if mac == "" || (v.MACAddress != nil && *v.MACAddress != "") {
		return
	}
	v.MACAddress = &mac
	v.UpdatedAt = time.Now()
}

// IsExpired reports whether the voucher's expiry has passed.
func (v *Voucher) IsExpired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// Comment renders the MikroTik user comment carried over the flat channel.
// The activation timestamp is appended only once the voucher is activated.
func (v *Voucher) Comment(macBinding bool) string {
	lock := 0
	if macBinding {
		lock = 1
	}
	comment := fmt.Sprintf("RadMesh | LOCK=%d", lock)
	if v.ActivatedAt != nil {
		comment += " | Act: " + v.ActivatedAt.Format("1/2/2006 15:04:05")
	}
	return comment
}
