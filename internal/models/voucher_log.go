package models

import (
	"time"

	"github.com/google/uuid"
)

// VoucherEventType categorizes voucher ledger entries.
type VoucherEventType string

const (
	VoucherEventGenerated  VoucherEventType = "generated"
	VoucherEventSynced     VoucherEventType = "synced"
	VoucherEventSyncFailed VoucherEventType = "sync_failed"
	VoucherEventActivated  VoucherEventType = "activated"
	VoucherEventMACBound   VoucherEventType = "mac_bound"
	VoucherEventExpired    VoucherEventType = "expired"
	VoucherEventDeleted    VoucherEventType = "deleted"
)

// VoucherLog is an append-only ledger entry recording a voucher lifecycle
// event. Entries snapshot the username, profile, and router name at write
// time so they stay readable after the voucher itself is deleted. Entries
// are never updated or removed.
type VoucherLog struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	VoucherID   *uuid.UUID       `json:"voucher_id,omitempty" db:"voucher_id"`
	RouterID    *uuid.UUID       `json:"router_id,omitempty" db:"router_id"`
	EventType   VoucherEventType `json:"event_type" db:"event_type"`
	Username    string           `json:"username" db:"username"`
	ProfileName string           `json:"profile_name" db:"profile_name"`
	RouterName  string           `json:"router_name" db:"router_name"`
	Reason      string           `json:"reason" db:"reason"`
	Meta        map[string]any   `json:"meta,omitempty" db:"meta"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// NewVoucherLog creates a ledger entry for the given event.
func NewVoucherLog(event VoucherEventType, username, reason string) *VoucherLog {
	return &VoucherLog{
		ID:        uuid.New(),
		EventType: event,
		Username:  username,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}
