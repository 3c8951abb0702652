// Package activations applies accounting reports and router usage pushes
// to the voucher store. Each record is processed in isolation: a bad row
// is tallied and skipped, never fatal for the rest of the report.
package activations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/metrics"
	"github.com/radmesh/radmesh/internal/mikrotik"
	"github.com/radmesh/radmesh/internal/models"
)

// authTimeLayouts are the accepted timestamp formats in accounting
// reports. Nodes send RFC 3339; older agents send a bare datetime.
var authTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Store is the persistence surface of the ingestion handlers.
type Store interface {
	ListRoutersByNAS(ctx context.Context, nas string) ([]*models.Router, error)
	GetRouterByID(ctx context.Context, id uuid.UUID) (*models.Router, error)
	GetVoucherByUsername(ctx context.Context, routerID uuid.UUID, username string) (*models.Voucher, error)
	GetProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	UpdateVoucherLocked(ctx context.Context, id uuid.UUID, fn func(v *models.Voucher) error) (*models.Voucher, error)
	UpdateVoucherUsage(ctx context.Context, v *models.Voucher) error
	CreateVoucherLog(ctx context.Context, entry *models.VoucherLog) error
}

// Processor applies activation and usage records to vouchers.
type Processor struct {
	store  Store
	logger zerolog.Logger
}

// NewProcessor creates the ingestion processor shared by both job handlers.
func NewProcessor(store Store, logger zerolog.Logger) *Processor {
	return &Processor{
		store:  store,
		logger: logger.With().Str("component", "activations").Logger(),
	}
}

// Tally is the outcome of one ingestion pass.
type Tally struct {
	Processed int
	Skipped   int
	Errors    int
}

func (t Tally) result() map[string]interface{} {
	return map[string]interface{}{
		"processed": t.Processed,
		"skipped":   t.Skipped,
		"errors":    t.Errors,
	}
}

// ProcessActivations applies an accounting report from a RADIUS node.
// Unknown usernames and unmatched NAS identifiers are skipped; a record
// whose voucher is already activated only gets its MAC bound.
func (p *Processor) ProcessActivations(ctx context.Context, records []models.ActivationRecord) Tally {
	var tally Tally
	for _, rec := range records {
		outcome, err := p.applyActivation(ctx, rec)
		switch {
		case err != nil:
			tally.Errors++
			metrics.ActivationsProcessed.WithLabelValues("error").Inc()
			p.logger.Error().Err(err).
				Str("username", rec.Username).
				Str("nas", rec.NASIdentifier).
				Msg("activation record failed")
		case outcome == outcomeSkipped:
			tally.Skipped++
			metrics.ActivationsProcessed.WithLabelValues("skipped").Inc()
		default:
			tally.Processed++
			metrics.ActivationsProcessed.WithLabelValues("processed").Inc()
		}
	}
	return tally
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
)

func (p *Processor) applyActivation(ctx context.Context, rec models.ActivationRecord) (outcome, error) {
	if rec.Username == "" {
		return 0, fmt.Errorf("record missing username")
	}
	authAt, err := parseAuthTime(rec.AuthenticatedAt)
	if err != nil {
		return 0, err
	}

	voucher, err := p.resolveVoucher(ctx, rec)
	if err != nil {
		if errors.Is(err, db.ErrVoucherNotFound) {
			return outcomeSkipped, nil
		}
		return 0, err
	}
	if voucher == nil {
		return outcomeSkipped, nil
	}

	profile, err := p.store.GetProfileByID(ctx, voucher.ProfileID)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}

	activated := false
	macBound := false
	updated, err := p.store.UpdateVoucherLocked(ctx, voucher.ID, func(v *models.Voucher) error {
		// Re-check under the lock: a concurrent report may have won.
		if v.ActivatedAt == nil {
			if err := v.Activate(authAt, profile.ValidityHours); err != nil {
				return err
			}
			activated = true
		}
		hadMAC := v.MACAddress != nil && *v.MACAddress != ""
		v.BindMAC(rec.CallingStationID)
		macBound = !hadMAC && v.MACAddress != nil && *v.MACAddress != ""
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply activation: %w", err)
	}

	meta := map[string]any{"nas": rec.NASIdentifier, "mac": rec.CallingStationID}
	if activated {
		p.appendLedger(ctx, updated, profile.Name, models.VoucherEventActivated,
			"activated via RADIUS accounting", meta)
		return outcomeProcessed, nil
	}
	// A replay against an activated voucher can still fill the MAC; the
	// ledger records every state change.
	if macBound {
		p.appendLedger(ctx, updated, profile.Name, models.VoucherEventMACBound,
			"MAC bound via RADIUS accounting", meta)
	}
	return outcomeSkipped, nil
}

func (p *Processor) appendLedger(ctx context.Context, v *models.Voucher, profileName string, event models.VoucherEventType, reason string, meta map[string]any) {
	entry := models.NewVoucherLog(event, v.Username, reason)
	entry.VoucherID = &v.ID
	entry.RouterID = &v.RouterID
	entry.ProfileName = profileName
	entry.Meta = meta
	if err := p.store.CreateVoucherLog(ctx, entry); err != nil {
		p.logger.Error().Err(err).Str("username", v.Username).Msg("failed to write ledger entry")
	}
}

// resolveVoucher finds the voucher a record refers to. When the record
// carries a NAS identifier the lookup is scoped to routers matching it;
// otherwise the username is searched across all routers.
func (p *Processor) resolveVoucher(ctx context.Context, rec models.ActivationRecord) (*models.Voucher, error) {
	if rec.NASIdentifier == "" {
		return p.store.GetVoucherByUsername(ctx, uuid.Nil, rec.Username)
	}

	routers, err := p.store.ListRoutersByNAS(ctx, rec.NASIdentifier)
	if err != nil {
		return nil, fmt.Errorf("resolve NAS: %w", err)
	}
	for _, r := range routers {
		if !r.MatchesNAS(rec.NASIdentifier) {
			continue
		}
		v, err := p.store.GetVoucherByUsername(ctx, r.ID, rec.Username)
		if err != nil {
			if errors.Is(err, db.ErrVoucherNotFound) {
				continue
			}
			return nil, err
		}
		return v, nil
	}
	return nil, nil
}

// ProcessUsage applies a router usage push. RouterOS reports bytes-in as
// the client's upload, so the counters are swapped before storing. A
// comment activation stamp only applies when the voucher has none yet.
func (p *Processor) ProcessUsage(ctx context.Context, routerID uuid.UUID, lines []mikrotik.UsageLine) Tally {
	var tally Tally
	for _, line := range lines {
		outcome, err := p.applyUsage(ctx, routerID, line)
		switch {
		case err != nil:
			tally.Errors++
			metrics.ActivationsProcessed.WithLabelValues("error").Inc()
			p.logger.Error().Err(err).
				Str("username", line.Username).
				Msg("usage record failed")
		case outcome == outcomeSkipped:
			tally.Skipped++
			metrics.ActivationsProcessed.WithLabelValues("skipped").Inc()
		default:
			tally.Processed++
			metrics.ActivationsProcessed.WithLabelValues("processed").Inc()
		}
	}
	return tally
}

func (p *Processor) applyUsage(ctx context.Context, routerID uuid.UUID, line mikrotik.UsageLine) (outcome, error) {
	if line.Username == "" {
		return 0, fmt.Errorf("usage record missing username")
	}

	voucher, err := p.store.GetVoucherByUsername(ctx, routerID, line.Username)
	if err != nil {
		if errors.Is(err, db.ErrVoucherNotFound) {
			return outcomeSkipped, nil
		}
		return 0, err
	}

	var actAt *time.Time
	if voucher.ActivatedAt == nil && mikrotik.HasActivationMarker(line.Comment) {
		if t, ok := mikrotik.ParseActivationTime(line.Comment); ok {
			actAt = &t
		}
	}

	if actAt != nil || (line.MAC != "" && voucher.MACAddress == nil) {
		profile, err := p.store.GetProfileByID(ctx, voucher.ProfileID)
		if err != nil {
			return 0, fmt.Errorf("load profile: %w", err)
		}
		activated := false
		macBound := false
		voucher, err = p.store.UpdateVoucherLocked(ctx, voucher.ID, func(v *models.Voucher) error {
			if actAt != nil && v.ActivatedAt == nil {
				if err := v.Activate(*actAt, profile.ValidityHours); err != nil {
					return err
				}
				activated = true
			}
			hadMAC := v.MACAddress != nil && *v.MACAddress != ""
			v.BindMAC(line.MAC)
			macBound = !hadMAC && v.MACAddress != nil && *v.MACAddress != ""
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("apply comment activation: %w", err)
		}

		meta := map[string]any{"source": "usage_push", "mac": line.MAC}
		if activated {
			p.appendLedger(ctx, voucher, profile.Name, models.VoucherEventActivated,
				"activated via router comment marker", meta)
		} else if macBound {
			p.appendLedger(ctx, voucher, profile.Name, models.VoucherEventMACBound,
				"MAC bound via usage push", meta)
		}
	}

	// Swap: the stored download is what the router counted as upload.
	voucher.BytesIn = line.BytesOut
	voucher.BytesOut = line.BytesIn
	voucher.Uptime = line.Uptime
	voucher.UpdatedAt = time.Now()
	if err := p.store.UpdateVoucherUsage(ctx, voucher); err != nil {
		return 0, fmt.Errorf("persist usage: %w", err)
	}
	return outcomeProcessed, nil
}

func parseAuthTime(s string) (time.Time, error) {
	for _, layout := range authTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable authenticated_at %q", s)
}
