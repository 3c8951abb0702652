package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
)

type mockVoucherStore struct {
	vouchers []*models.Voucher
	logs     []*models.VoucherLog
}

func (s *mockVoucherStore) GetVoucherByID(_ context.Context, id uuid.UUID) (*models.Voucher, error) {
	for _, v := range s.vouchers {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, db.ErrVoucherNotFound
}

func (s *mockVoucherStore) ListVouchersByBatch(_ context.Context, routerID uuid.UUID, batch string, _ models.SyncStatus) ([]*models.Voucher, error) {
	var out []*models.Voucher
	for _, v := range s.vouchers {
		if v.RouterID == routerID && v.Batch == batch {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *mockVoucherStore) ListVoucherLogs(_ context.Context, voucherID uuid.UUID, _ int) ([]*models.VoucherLog, error) {
	var out []*models.VoucherLog
	for _, l := range s.logs {
		if l.VoucherID != nil && *l.VoucherID == voucherID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *mockVoucherStore) ListRouterVoucherLogs(_ context.Context, _ uuid.UUID, _ int) ([]*models.VoucherLog, error) {
	return s.logs, nil
}

func voucherFixture(t *testing.T) (*gin.Engine, *mockVoucherStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &mockVoucherStore{}
	handler := NewVoucherHandler(store, nil, zerolog.Nop())

	engine := gin.New()
	handler.RegisterRoutes(engine.Group("/api/v1"))
	return engine, store
}

func TestBatchStatusCounts(t *testing.T) {
	engine, store := voucherFixture(t)

	routerID := uuid.New()
	profileID := uuid.New()
	for _, status := range []models.SyncStatus{
		models.SyncStatusSynced,
		models.SyncStatusSynced,
		models.SyncStatusFailed,
		models.SyncStatusPending,
	} {
		v := models.NewVoucher(routerID, profileID, "batch-7", "u", "p")
		v.RadiusSyncStatus = status
		store.vouchers = append(store.vouchers, v)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/routers/"+routerID.String()+"/batches/batch-7", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":4`)
	assert.Contains(t, w.Body.String(), `"synced":2`)
	assert.Contains(t, w.Body.String(), `"failed":1`)
	assert.Contains(t, w.Body.String(), `"pending":1`)
}

func TestBatchStatusUnknownBatch(t *testing.T) {
	engine, _ := voucherFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/routers/"+uuid.NewString()+"/batches/nope", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVoucherNotFound(t *testing.T) {
	engine, _ := voucherFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vouchers/"+uuid.NewString(), nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVoucherInvalidID(t *testing.T) {
	engine, _ := voucherFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vouchers/not-a-uuid", nil)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
