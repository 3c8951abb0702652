package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Profile defines the service plan a voucher grants: bandwidth, session
// sharing, validity window, and optional MAC binding enforcement.
type Profile struct {
	ID            uuid.UUID `json:"id" db:"id"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	Name          string    `json:"name" db:"name"`
	RateLimit     string    `json:"rate_limit" db:"rate_limit"`
	SharedUsers   int       `json:"shared_users" db:"shared_users"`
	ValidityHours int       `json:"validity_hours" db:"validity_hours"`
	MACBinding    bool      `json:"mac_binding" db:"mac_binding"`
	Price         float64   `json:"price" db:"price"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks profile fields before persistence.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.ContainsAny(p.Name, ";\n") {
		return fmt.Errorf("profile name must not contain ';' or newlines")
	}
	if p.SharedUsers < 1 {
		return fmt.Errorf("shared users must be at least 1")
	}
	if p.ValidityHours < 0 {
		return fmt.Errorf("validity hours must not be negative")
	}
	return nil
}

// OnLoginFlags renders the comment flags the on-login hook reads on the
// router, e.g. "MB=1" when MAC binding is enforced.
func (p *Profile) OnLoginFlags() string {
	if p.MACBinding {
		return "MB=1"
	}
	return "MB=0"
}
