package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radmesh/radmesh/internal/api/middleware"
	"github.com/radmesh/radmesh/internal/db"
	"github.com/radmesh/radmesh/internal/models"
)

type mockNodeStore struct {
	node *models.RadiusServer
}

func (s *mockNodeStore) GetRadiusServerByToken(_ context.Context, token string) (*models.RadiusServer, error) {
	if s.node != nil && s.node.AuthToken == token {
		return s.node, nil
	}
	return nil, db.ErrRadiusServerNotFound
}

type mockActivationsQueue struct {
	serverIDs []uuid.UUID
	records   [][]models.ActivationRecord
}

func (q *mockActivationsQueue) EnqueueActivations(_ context.Context, serverID uuid.UUID, records []models.ActivationRecord) (*models.Job, error) {
	q.serverIDs = append(q.serverIDs, serverID)
	q.records = append(q.records, records)
	return models.NewActivationsJob(serverID, records), nil
}

func intakeFixture(t *testing.T) (*gin.Engine, *mockNodeStore, *mockActivationsQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node := models.NewRadiusServer(uuid.New(), "node-1", "us-east", "nanode-1", "ubuntu24.04")
	node.AuthToken = "node-token"

	store := &mockNodeStore{node: node}
	queue := &mockActivationsQueue{}
	handler := NewRadiusIntakeHandler(queue, zerolog.Nop())

	engine := gin.New()
	group := engine.Group("/api/radius")
	group.Use(middleware.RadiusNodeAuth(store, zerolog.Nop()))
	handler.RegisterRoutes(group)
	return engine, store, queue
}

func postActivations(engine *gin.Engine, auth, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/radius/activations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	engine.ServeHTTP(w, req)
	return w
}

func TestReceiveActivations(t *testing.T) {
	engine, store, queue := intakeFixture(t)

	body := `{"activations": [
		{"username": "vx111", "nas_identifier": "gw-1", "calling_station_id": "AA:BB:CC:DD:EE:FF", "authenticated_at": "2026-03-05T09:30:15Z"},
		{"username": "vx222", "authenticated_at": "2026-03-05T09:31:00Z"}
	]}`
	w := postActivations(engine, "Bearer node-token", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"received":2`)
	assert.Contains(t, w.Body.String(), `"queued_at"`)

	require.Len(t, queue.records, 1)
	assert.Equal(t, store.node.ID, queue.serverIDs[0])
	assert.Equal(t, "vx111", queue.records[0][0].Username)
}

func TestReceiveActivationsMissingToken(t *testing.T) {
	engine, _, queue := intakeFixture(t)

	w := postActivations(engine, "", `{"activations": []}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, queue.records)
}

func TestReceiveActivationsBadToken(t *testing.T) {
	engine, _, queue := intakeFixture(t)

	w := postActivations(engine, "Bearer wrong", `{"activations": []}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, queue.records)
}

func TestReceiveActivationsInvalidBody(t *testing.T) {
	engine, _, queue := intakeFixture(t)

	cases := []string{
		`{}`,
		`{"activations": []}`,
		`{"activations": [{"username": "vx111"}]}`,
		`not json`,
	}
	for _, body := range cases {
		w := postActivations(engine, "Bearer node-token", body)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "body: %s", body)
	}
	assert.Empty(t, queue.records)
}
