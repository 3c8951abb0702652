package vouchers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radmesh/radmesh/internal/models"
	"github.com/radmesh/radmesh/internal/radius"
)

type mockStore struct {
	router  *models.Router
	parent  *models.Router
	profile *models.Profile
	node    *models.RadiusServer

	created     []*models.Voucher
	deleted     []uuid.UUID
	expired     []*models.Voucher
	logs        []*models.VoucherLog
	syncUpdates []*models.Voucher
}

func (s *mockStore) GetRouterWithParent(_ context.Context, _ uuid.UUID) (*models.Router, *models.Router, error) {
	return s.router, s.parent, nil
}

func (s *mockStore) GetProfileByID(_ context.Context, _ uuid.UUID) (*models.Profile, error) {
	return s.profile, nil
}

func (s *mockStore) GetRadiusServerByID(_ context.Context, _ uuid.UUID) (*models.RadiusServer, error) {
	return s.node, nil
}

func (s *mockStore) CreateVouchers(_ context.Context, vouchers []*models.Voucher) error {
	s.created = append(s.created, vouchers...)
	return nil
}

func (s *mockStore) CreateVoucher(_ context.Context, v *models.Voucher) error {
	s.created = append(s.created, v)
	return nil
}

func (s *mockStore) GetVoucherByID(_ context.Context, id uuid.UUID) (*models.Voucher, error) {
	for _, v := range s.created {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, errors.New("voucher not found")
}

func (s *mockStore) UpdateVoucherSyncStatus(_ context.Context, v *models.Voucher) error {
	s.syncUpdates = append(s.syncUpdates, v)
	return nil
}

func (s *mockStore) DeleteVoucher(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *mockStore) ExpireVouchers(_ context.Context, limit int) ([]*models.Voucher, error) {
	if len(s.expired) > limit {
		return s.expired[:limit], nil
	}
	return s.expired, nil
}

func (s *mockStore) CreateVoucherLog(_ context.Context, entry *models.VoucherLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

type mockLedger struct {
	debits []float64
	memos  []string
	err    error
}

func (l *mockLedger) DebitUser(_ context.Context, _ uuid.UUID, amount float64, memo string) error {
	if l.err != nil {
		return l.err
	}
	l.debits = append(l.debits, amount)
	l.memos = append(l.memos, memo)
	return nil
}

func (l *mockLedger) CreditUser(_ context.Context, _ uuid.UUID, amount float64, _ string) error {
	return nil
}

type mockClient struct {
	created   []radius.SyncVoucher
	deleted   []string
	createErr error
	deleteErr error
}

func (c *mockClient) SyncBatch(_ context.Context, _ *models.RadiusServer, vouchers []radius.SyncVoucher) (*radius.SyncResult, error) {
	return &radius.SyncResult{Synced: len(vouchers)}, nil
}

func (c *mockClient) CreateVoucher(_ context.Context, _ *models.RadiusServer, v radius.SyncVoucher) (*radius.SyncResult, error) {
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.created = append(c.created, v)
	return &radius.SyncResult{Synced: 1}, nil
}

func (c *mockClient) DeleteVoucher(_ context.Context, _ *models.RadiusServer, username string) error {
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, username)
	return nil
}

func (c *mockClient) ToggleVoucher(_ context.Context, _ *models.RadiusServer, _ string, _ bool) error {
	return nil
}

func (c *mockClient) Health(_ context.Context, _ *models.RadiusServer) error { return nil }

type mockQueue struct {
	batches []string
	routers []uuid.UUID
}

func (q *mockQueue) EnqueueVoucherSync(_ context.Context, routerID uuid.UUID, batch string) (*models.Job, error) {
	q.routers = append(q.routers, routerID)
	q.batches = append(q.batches, batch)
	return models.NewVoucherSyncJob(routerID, batch), nil
}

func serviceFixture() (*Service, *mockStore, *mockLedger, *mockClient, *mockQueue) {
	nodeID := uuid.New()
	node := models.NewRadiusServer(uuid.New(), "node-1", "us-east", "nanode-1", "ubuntu24.04")
	node.Host = "radius1.example.net"
	node.AuthToken = "tok"
	node.InstallationStatus = models.InstallCompleted
	node.IsActive = true
	node.ID = nodeID

	store := &mockStore{
		router:  &models.Router{ID: uuid.New(), UserID: uuid.New(), Name: "gw-1", NASIdentifier: "hotspot-1", RadiusServerID: &nodeID},
		profile: &models.Profile{ID: uuid.New(), Name: "daily", RateLimit: "5M/5M", SharedUsers: 1, ValidityHours: 24, Price: 1.5},
		node:    node,
	}
	ledger := &mockLedger{}
	client := &mockClient{}
	queue := &mockQueue{}
	svc := NewService(store, ledger, client, queue, zerolog.Nop())
	return svc, store, ledger, client, queue
}

func TestGenerateBatch(t *testing.T) {
	svc, store, ledger, _, queue := serviceFixture()

	result, err := svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID:  store.router.ID,
		ProfileID: store.profile.ID,
		Count:     10,
	})
	require.NoError(t, err)
	assert.Len(t, result.Vouchers, 10)
	assert.True(t, result.Queued)
	assert.NotEmpty(t, result.Batch)

	require.Len(t, ledger.debits, 1)
	assert.InDelta(t, 15.0, ledger.debits[0], 0.001)
	assert.Contains(t, ledger.memos[0], result.Batch)

	require.Len(t, queue.batches, 1)
	assert.Equal(t, result.Batch, queue.batches[0])

	assert.Len(t, store.created, 10)
	for _, v := range store.created {
		assert.Len(t, v.Username, DefaultCodeLength)
		assert.Equal(t, models.SyncStatusPending, v.RadiusSyncStatus)
		assert.Equal(t, result.Batch, v.Batch)
		for _, ch := range v.Username {
			assert.Contains(t, usernameCharset, string(ch))
		}
	}
	assert.Len(t, store.logs, 10)
	assert.Equal(t, models.VoucherEventGenerated, store.logs[0].EventType)
}

func TestGenerateBatchInsufficientFunds(t *testing.T) {
	svc, store, ledger, _, queue := serviceFixture()
	ledger.err = errors.New("insufficient balance")

	_, err := svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID:  store.router.ID,
		ProfileID: store.profile.ID,
		Count:     5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	// Nothing was created or queued.
	assert.Empty(t, store.created)
	assert.Empty(t, queue.batches)
}

func TestGenerateBatchFreeProfileSkipsDebit(t *testing.T) {
	svc, store, ledger, _, _ := serviceFixture()
	store.profile.Price = 0

	_, err := svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID:  store.router.ID,
		ProfileID: store.profile.ID,
		Count:     3,
	})
	require.NoError(t, err)
	assert.Empty(t, ledger.debits)
}

func TestGenerateBatchNoNodeSkipsQueue(t *testing.T) {
	svc, store, _, _, queue := serviceFixture()
	store.router.RadiusServerID = nil

	result, err := svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID:  store.router.ID,
		ProfileID: store.profile.ID,
		Count:     2,
	})
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Empty(t, queue.batches)
	assert.Len(t, store.created, 2)
}

func TestGenerateBatchValidation(t *testing.T) {
	svc, store, _, _, _ := serviceFixture()

	_, err := svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID: store.router.ID, ProfileID: store.profile.ID, Count: 0,
	})
	require.Error(t, err)

	_, err = svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID: store.router.ID, ProfileID: store.profile.ID, Count: MaxBatchSize + 1,
	})
	require.Error(t, err)

	_, err = svc.GenerateBatch(context.Background(), GenerateRequest{
		RouterID: store.router.ID, ProfileID: store.profile.ID, Count: 1, CodeLength: 3,
	})
	require.Error(t, err)
}

func TestCreateSinglePushesInline(t *testing.T) {
	svc, store, ledger, client, _ := serviceFixture()

	voucher, err := svc.CreateSingle(context.Background(), store.router.ID, store.profile.ID)
	require.NoError(t, err)

	require.Len(t, client.created, 1)
	assert.Equal(t, voucher.Username, client.created[0].Username)
	assert.Equal(t, "hotspot-1", client.created[0].NASIdentifier)
	assert.Equal(t, models.SyncStatusSynced, voucher.RadiusSyncStatus)
	require.Len(t, ledger.debits, 1)
	assert.InDelta(t, 1.5, ledger.debits[0], 0.001)
}

func TestCreateSinglePushFailureLeavesRetry(t *testing.T) {
	svc, store, _, client, _ := serviceFixture()
	client.createErr = errors.New("node unreachable")

	voucher, err := svc.CreateSingle(context.Background(), store.router.ID, store.profile.ID)
	require.NoError(t, err)

	// The voucher survives with the failure recorded for the sweep.
	assert.Equal(t, models.SyncStatusFailed, voucher.RadiusSyncStatus)
	require.NotNil(t, voucher.RadiusSyncError)
	assert.Contains(t, *voucher.RadiusSyncError, "node unreachable")
	assert.Len(t, store.created, 1)
}

func TestDeletePropagatesToNode(t *testing.T) {
	svc, store, _, client, _ := serviceFixture()

	voucher := models.NewVoucher(store.router.ID, store.profile.ID, "batch-1", "vx123", "pw")
	voucher.MarkSynced()
	store.created = append(store.created, voucher)

	require.NoError(t, svc.Delete(context.Background(), voucher.ID))

	require.Len(t, client.deleted, 1)
	assert.Equal(t, "vx123", client.deleted[0])
	require.Len(t, store.deleted, 1)
	assert.Equal(t, voucher.ID, store.deleted[0])

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.VoucherEventDeleted, store.logs[0].EventType)
	assert.Equal(t, "vx123", store.logs[0].Username)
}

func TestDeleteNodeRefusalKeepsRow(t *testing.T) {
	svc, store, _, client, _ := serviceFixture()
	client.deleteErr = errors.New("node returned 500")

	voucher := models.NewVoucher(store.router.ID, store.profile.ID, "batch-1", "vx123", "pw")
	voucher.MarkSynced()
	store.created = append(store.created, voucher)

	err := svc.Delete(context.Background(), voucher.ID)
	require.Error(t, err)
	assert.Empty(t, store.deleted)
}

func TestDeleteUnsyncedSkipsPropagation(t *testing.T) {
	svc, store, _, client, _ := serviceFixture()

	voucher := models.NewVoucher(store.router.ID, store.profile.ID, "batch-1", "vx123", "pw")
	store.created = append(store.created, voucher)

	require.NoError(t, svc.Delete(context.Background(), voucher.ID))
	assert.Empty(t, client.deleted)
	assert.Len(t, store.deleted, 1)
}

func TestExpireSweep(t *testing.T) {
	svc, store, _, _, _ := serviceFixture()
	for i := 0; i < 3; i++ {
		v := models.NewVoucher(store.router.ID, store.profile.ID, "batch-1", strings.Repeat("x", 8), "pw")
		past := time.Now().Add(-time.Hour)
		require.NoError(t, v.Activate(past.Add(-24*time.Hour), 24))
		v.Status = models.VoucherStatusExpired
		store.expired = append(store.expired, v)
	}

	count, err := svc.ExpireSweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, store.logs, 3)
	assert.Equal(t, models.VoucherEventExpired, store.logs[0].EventType)
}
