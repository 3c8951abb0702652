package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstallationStatus tracks a RADIUS node through its provisioning
// lifecycle. Transitions are strictly forward except that failed nodes
// may be reset to pending for a fresh attempt.
type InstallationStatus string

const (
	InstallPending      InstallationStatus = "pending"
	InstallProvisioning InstallationStatus = "provisioning"
	InstallConfiguring  InstallationStatus = "configuring"
	InstallCompleted    InstallationStatus = "completed"
	InstallFailed       InstallationStatus = "failed"
)

// IsValid checks if the installation status is a known value.
func (s InstallationStatus) IsValid() bool {
	switch s {
	case InstallPending, InstallProvisioning, InstallConfiguring,
		InstallCompleted, InstallFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to the target state.
func (s InstallationStatus) CanTransitionTo(target InstallationStatus) bool {
	switch s {
	case InstallPending:
		return target == InstallProvisioning || target == InstallFailed
	case InstallProvisioning:
		return target == InstallConfiguring || target == InstallFailed
	case InstallConfiguring:
		return target == InstallCompleted || target == InstallFailed
	case InstallFailed:
		return target == InstallPending
	}
	return false
}

// ErrInvalidTransition is returned when an installation status change is
// not allowed by the lifecycle.
var ErrInvalidTransition = fmt.Errorf("invalid installation status transition")

// RadiusServer is a managed RADIUS node: a cloud instance running the
// authentication and accounting services that vouchers are pushed to.
type RadiusServer struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	UserID             uuid.UUID          `json:"user_id" db:"user_id"`
	Name               string             `json:"name" db:"name"`
	Host               string             `json:"host" db:"host"`
	AuthPort           int                `json:"auth_port" db:"auth_port"`
	AcctPort           int                `json:"acct_port" db:"acct_port"`
	SharedSecret       string             `json:"-" db:"shared_secret"`
	AuthToken          string             `json:"-" db:"auth_token"`
	SSHUser            string             `json:"-" db:"ssh_user"`
	SSHPassword        string             `json:"-" db:"ssh_password"`
	SSHPrivateKey      string             `json:"-" db:"ssh_private_key"`
	SSHPort            int                `json:"ssh_port" db:"ssh_port"`
	InstallationStatus InstallationStatus `json:"installation_status" db:"installation_status"`
	InstallationLog    string             `json:"installation_log" db:"installation_log"`
	InstalledAt        *time.Time         `json:"installed_at,omitempty" db:"installed_at"`
	IsActive           bool               `json:"is_active" db:"is_active"`
	InstanceID         *string            `json:"instance_id,omitempty" db:"instance_id"`
	InstanceLabel      string             `json:"instance_label" db:"instance_label"`
	Region             string             `json:"region" db:"region"`
	Plan               string             `json:"plan" db:"plan"`
	Image              string             `json:"image" db:"image"`
	IPv4               string             `json:"ipv4" db:"ipv4"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// NewRadiusServer creates a node record awaiting provisioning.
func NewRadiusServer(userID uuid.UUID, name, region, plan, image string) *RadiusServer {
	now := time.Now()
	return &RadiusServer{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               name,
		AuthPort:           1812,
		AcctPort:           1813,
		SSHPort:            22,
		InstallationStatus: InstallPending,
		Region:             region,
		Plan:               plan,
		Image:              image,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Transition moves the node to the target installation status, appending
// a timestamped line to the installation log.
func (r *RadiusServer) Transition(target InstallationStatus, note string) error {
	if !r.InstallationStatus.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.InstallationStatus, target)
	}
	r.InstallationStatus = target
	if target == InstallCompleted {
		now := time.Now()
		r.InstalledAt = &now
	}
	r.AppendLog(note)
	return nil
}

// AppendLog adds a timestamped diagnostic line to the installation log.
func (r *RadiusServer) AppendLog(line string) {
	if line == "" {
		return
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	r.InstallationLog += fmt.Sprintf("[%s] %s\n", stamp, line)
	r.UpdatedAt = time.Now()
}

// IsReady reports whether the node accepts voucher pushes.
func (r *RadiusServer) IsReady() bool {
	return r.InstallationStatus == InstallCompleted && r.IsActive
}

// SyncEndpoint returns the base URL of the node's voucher API.
func (r *RadiusServer) SyncEndpoint() string {
	if r.Host == "" {
		return ""
	}
	return "https://" + r.Host
}
