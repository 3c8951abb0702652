package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Router is a MikroTik gateway known to the platform. A router may be a
// standalone hotspot or a NAS device under a parent: NAS devices inherit
// the parent's NAS identifier and RADIUS association and never own their
// own. AppKey authenticates the router's script pulls and pushes.
type Router struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Name           string     `json:"name" db:"name"`
	Host           string     `json:"host" db:"host"`
	IP             string     `json:"ip" db:"ip"`
	NASIdentifier  string     `json:"nas_identifier" db:"nas_identifier"`
	AppKey         string     `json:"-" db:"app_key"`
	RadiusServerID *uuid.UUID `json:"radius_server_id,omitempty" db:"radius_server_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NewRouter creates a router with a fresh app key.
func NewRouter(userID uuid.UUID, name, host string) (*Router, error) {
	key, err := GenerateAppKey()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Router{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		Host:      host,
		AppKey:    key,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GenerateAppKey produces a 64-character hex token for router channel auth.
func GenerateAppKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate app key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// EffectiveNASIdentifier resolves the identifier presented to RADIUS,
// following the parent when this router is a NAS device under one.
func (r *Router) EffectiveNASIdentifier(parent *Router) string {
	if r.ParentID != nil && parent != nil {
		return parent.EffectiveNASIdentifier(nil)
	}
	if r.NASIdentifier != "" {
		return r.NASIdentifier
	}
	return r.Host
}

// EffectiveRadiusServerID resolves the RADIUS association, following the
// parent when set. Returns nil when neither router carries one.
func (r *Router) EffectiveRadiusServerID(parent *Router) *uuid.UUID {
	if r.ParentID != nil && parent != nil {
		return parent.RadiusServerID
	}
	return r.RadiusServerID
}

// MatchesNAS reports whether a reported NAS identifier refers to this
// router, matching against identifier, host, or IP in that order.
func (r *Router) MatchesNAS(nas string) bool {
	if nas == "" {
		return false
	}
	nas = strings.TrimSpace(nas)
	return nas == r.NASIdentifier || nas == r.Host || nas == r.IP
}
