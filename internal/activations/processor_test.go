package activations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/mikrotik"
	"github.com/radmesh/radmesh/internal/models"
)

type mockStore struct {
	routers  []*models.Router
	vouchers map[string]*models.Voucher // username -> voucher
	profiles map[uuid.UUID]*models.Profile

	usageUpdates []*models.Voucher
	logs         []*models.VoucherLog

	lockErr error
}

func (s *mockStore) ListRoutersByNAS(_ context.Context, nas string) ([]*models.Router, error) {
	var matched []*models.Router
	for _, r := range s.routers {
		if r.MatchesNAS(nas) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func (s *mockStore) GetRouterByID(_ context.Context, id uuid.UUID) (*models.Router, error) {
	for _, r := range s.routers {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.New("router not found")
}

func (s *mockStore) GetVoucherByUsername(_ context.Context, routerID uuid.UUID, username string) (*models.Voucher, error) {
	v, ok := s.vouchers[username]
	if !ok {
		return nil, db.ErrVoucherNotFound
	}
	if routerID != uuid.Nil && v.RouterID != routerID {
		return nil, db.ErrVoucherNotFound
	}
	return v, nil
}

func (s *mockStore) GetProfileByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, errors.New("profile not found")
	}
	return p, nil
}

func (s *mockStore) UpdateVoucherLocked(_ context.Context, id uuid.UUID, fn func(v *models.Voucher) error) (*models.Voucher, error) {
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	for _, v := range s.vouchers {
		if v.ID == id {
			if err := fn(v); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return nil, db.ErrVoucherNotFound
}

func (s *mockStore) UpdateVoucherUsage(_ context.Context, v *models.Voucher) error {
	s.usageUpdates = append(s.usageUpdates, v)
	return nil
}

func (s *mockStore) CreateVoucherLog(_ context.Context, entry *models.VoucherLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

func ingestFixture() (*mockStore, *models.Router, *models.Voucher) {
	profile := &models.Profile{ID: uuid.New(), Name: "daily", ValidityHours: 24, SharedUsers: 1}
	router := &models.Router{ID: uuid.New(), Name: "gw-1", NASIdentifier: "hotspot-1", Host: "gw1.example.net"}
	voucher := models.NewVoucher(router.ID, profile.ID, "batch-1", "vx123", "pw")

	store := &mockStore{
		routers:  []*models.Router{router},
		vouchers: map[string]*models.Voucher{voucher.Username: voucher},
		profiles: map[uuid.UUID]*models.Profile{profile.ID: profile},
	}
	return store, router, voucher
}

func TestProcessActivationsActivates(t *testing.T) {
	store, _, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{{
		Username:         "vx123",
		NASIdentifier:    "hotspot-1",
		CallingStationID: "AA:BB:CC:DD:EE:FF",
		AuthenticatedAt:  "2026-03-05T09:30:15Z",
	}})

	assert.Equal(t, 1, tally.Processed)
	assert.Equal(t, 0, tally.Skipped)
	assert.Equal(t, 0, tally.Errors)

	require.NotNil(t, voucher.ActivatedAt)
	assert.Equal(t, "2026-03-05T09:30:15Z", voucher.ActivatedAt.Format(time.RFC3339))
	require.NotNil(t, voucher.MACAddress)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", *voucher.MACAddress)
	assert.Equal(t, models.VoucherStatusActive, voucher.Status)

	// 24 hour validity from the authentication time.
	require.NotNil(t, voucher.ExpiresAt)
	assert.Equal(t, voucher.ActivatedAt.Add(24*time.Hour), *voucher.ExpiresAt)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.VoucherEventActivated, store.logs[0].EventType)
	assert.Equal(t, "vx123", store.logs[0].Username)
}

func TestProcessActivationsWriteOnce(t *testing.T) {
	store, _, voucher := ingestFixture()
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, voucher.Activate(first, 24))
	voucher.BindMAC("11:11:11:11:11:11")

	p := NewProcessor(store, zerolog.Nop())
	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{{
		Username:         "vx123",
		NASIdentifier:    "hotspot-1",
		CallingStationID: "22:22:22:22:22:22",
		AuthenticatedAt:  "2026-03-05T09:30:15Z",
	}})

	// The replay is skipped and neither field moves.
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, 0, tally.Processed)
	assert.Equal(t, first, *voucher.ActivatedAt)
	assert.Equal(t, "11:11:11:11:11:11", *voucher.MACAddress)
	assert.Empty(t, store.logs)
}

func TestProcessActivationsPerRecordIsolation(t *testing.T) {
	store, _, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{
		{Username: "nobody", NASIdentifier: "hotspot-1", AuthenticatedAt: "2026-03-05T09:30:15Z"},
		{Username: "vx123", NASIdentifier: "hotspot-1", AuthenticatedAt: "not a time"},
		{Username: "vx123", NASIdentifier: "hotspot-1", AuthenticatedAt: "2026-03-05T09:30:15Z"},
	})

	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, 1, tally.Errors)
	assert.Equal(t, 1, tally.Processed)
	assert.NotNil(t, voucher.ActivatedAt)
}

func TestProcessActivationsMatchesNASByHost(t *testing.T) {
	store, router, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{{
		Username:        "vx123",
		NASIdentifier:   router.Host,
		AuthenticatedAt: "2026-03-05 09:30:15",
	}})

	assert.Equal(t, 1, tally.Processed)
	assert.NotNil(t, voucher.ActivatedAt)
}

func TestProcessActivationsUnknownNASSkips(t *testing.T) {
	store, _, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{{
		Username:        "vx123",
		NASIdentifier:   "someone-elses-hotspot",
		AuthenticatedAt: "2026-03-05T09:30:15Z",
	}})

	assert.Equal(t, 1, tally.Skipped)
	assert.Nil(t, voucher.ActivatedAt)
}

func TestProcessUsageSwapsCounters(t *testing.T) {
	store, router, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessUsage(context.Background(), router.ID, []mikrotik.UsageLine{{
		Username: "vx123",
		MAC:      "AA:BB:CC:DD:EE:FF",
		BytesIn:  1000,
		BytesOut: 5000,
		Uptime:   "1h30m",
	}})

	assert.Equal(t, 1, tally.Processed)
	require.Len(t, store.usageUpdates, 1)
	assert.Equal(t, int64(5000), voucher.BytesIn)
	assert.Equal(t, int64(1000), voucher.BytesOut)
	assert.Equal(t, "1h30m", voucher.Uptime)
}

func TestProcessUsageCommentActivation(t *testing.T) {
	store, router, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessUsage(context.Background(), router.ID, []mikrotik.UsageLine{{
		Username: "vx123",
		MAC:      "AA:BB:CC:DD:EE:FF",
		Uptime:   "5m",
		Comment:  "RadMesh | LOCK=1 | Act: 3/5/2026 09:30:15",
	}})

	assert.Equal(t, 1, tally.Processed)
	require.NotNil(t, voucher.ActivatedAt)
	assert.Equal(t, time.Date(2026, 3, 5, 9, 30, 15, 0, time.UTC), *voucher.ActivatedAt)
	require.NotNil(t, voucher.MACAddress)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.VoucherEventActivated, store.logs[0].EventType)
	assert.Equal(t, "usage_push", store.logs[0].Meta["source"])
}

func TestProcessUsageRouterGeneratedStamp(t *testing.T) {
	store, router, voucher := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	// The on-login hook writes `/system clock get date` verbatim, which
	// RouterOS renders month-name formatted.
	tally := p.ProcessUsage(context.Background(), router.ID, []mikrotik.UsageLine{{
		Username: "vx123",
		MAC:      "AA:BB:CC:DD:EE:FF",
		Uptime:   "5m",
		Comment:  "ACT=dec/04/2025 10:00:00 | RadMesh | LOCK=1",
	}})

	assert.Equal(t, 1, tally.Processed)
	require.NotNil(t, voucher.ActivatedAt)
	assert.Equal(t, time.Date(2025, 12, 4, 10, 0, 0, 0, time.UTC), *voucher.ActivatedAt)
	assert.Equal(t, models.VoucherStatusActive, voucher.Status)
	require.NotNil(t, voucher.ExpiresAt)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.VoucherEventActivated, store.logs[0].EventType)
}

func TestProcessActivationsMACFillLogged(t *testing.T) {
	store, _, voucher := ingestFixture()
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, voucher.Activate(first, 24))

	p := NewProcessor(store, zerolog.Nop())
	tally := p.ProcessActivations(context.Background(), []models.ActivationRecord{{
		Username:         "vx123",
		NASIdentifier:    "hotspot-1",
		CallingStationID: "AA:BB:CC:DD:EE:FF",
		AuthenticatedAt:  "2026-03-05T09:30:15Z",
	}})

	// Already activated, so the record is a replay; the MAC fill still
	// lands in the ledger.
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, first, *voucher.ActivatedAt)
	require.NotNil(t, voucher.MACAddress)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.VoucherEventMACBound, store.logs[0].EventType)
}

func TestProcessUsageCommentNeverOverwritesActivation(t *testing.T) {
	store, router, voucher := ingestFixture()
	first := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, voucher.Activate(first, 24))

	p := NewProcessor(store, zerolog.Nop())
	tally := p.ProcessUsage(context.Background(), router.ID, []mikrotik.UsageLine{{
		Username: "vx123",
		BytesIn:  10,
		BytesOut: 20,
		Uptime:   "2h",
		Comment:  "RadMesh | LOCK=0 | Act: 3/5/2026 09:30:15",
	}})

	assert.Equal(t, 1, tally.Processed)
	assert.Equal(t, first, *voucher.ActivatedAt)
	assert.Equal(t, int64(20), voucher.BytesIn)
}

func TestProcessUsageUnknownUserSkips(t *testing.T) {
	store, router, _ := ingestFixture()
	p := NewProcessor(store, zerolog.Nop())

	tally := p.ProcessUsage(context.Background(), router.ID, []mikrotik.UsageLine{{
		Username: "ghost",
		BytesIn:  1,
	}})

	assert.Equal(t, 1, tally.Skipped)
	assert.Empty(t, store.usageUpdates)
}

func TestActivationsHandler(t *testing.T) {
	store, _, _ := ingestFixture()
	handler := NewActivationsHandler(NewProcessor(store, zerolog.Nop()), zerolog.Nop())

	serverID := uuid.New()
	job := models.NewActivationsJob(serverID, []models.ActivationRecord{{
		Username:        "vx123",
		NASIdentifier:   "hotspot-1",
		AuthenticatedAt: "2026-03-05T09:30:15Z",
	}})

	result, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, result["processed"])
}

func TestActivationsHandlerEmptyReport(t *testing.T) {
	store, _, _ := ingestFixture()
	handler := NewActivationsHandler(NewProcessor(store, zerolog.Nop()), zerolog.Nop())

	job := models.NewActivationsJob(uuid.New(), nil)
	_, err := handler.Handle(context.Background(), job)
	require.Error(t, err)
}

func TestUsageIngestHandler(t *testing.T) {
	store, router, voucher := ingestFixture()
	handler := NewUsageIngestHandler(NewProcessor(store, zerolog.Nop()), zerolog.Nop())

	body := "vx123;AA:BB:CC:DD:EE:FF;100;200;1h;RadMesh | LOCK=0\n\nmalformed line\n"
	job := models.NewUsageIngestJob(router.ID, body)

	result, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, result["processed"])
	assert.Equal(t, int64(200), voucher.BytesIn)
}
