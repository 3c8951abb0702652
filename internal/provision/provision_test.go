package provision

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
)

type fakeNodeStore struct {
	node    *models.RadiusServer
	updates int
}

func (s *fakeNodeStore) GetRadiusServerByID(_ context.Context, _ uuid.UUID) (*models.RadiusServer, error) {
	if s.node == nil {
		return nil, errors.New("node not found")
	}
	return s.node, nil
}

func (s *fakeNodeStore) UpdateRadiusServer(_ context.Context, node *models.RadiusServer) error {
	s.node = node
	s.updates++
	return nil
}

type fakeCloud struct {
	created   []CreateInstanceRequest
	instance  *Instance
	createErr error
	waitErr   error
}

func (c *fakeCloud) CreateInstance(_ context.Context, req CreateInstanceRequest) (*Instance, error) {
	c.created = append(c.created, req)
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.instance, nil
}

func (c *fakeCloud) GetInstance(_ context.Context, _ int) (*Instance, error) {
	return c.instance, nil
}

func (c *fakeCloud) DeleteInstance(_ context.Context, _ int) error { return nil }

func (c *fakeCloud) WaitForRunning(_ context.Context, _ int) (*Instance, error) {
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	running := *c.instance
	running.Status = "running"
	return &running, nil
}

type fakeEnqueuer struct {
	serverIDs []uuid.UUID
	fresh     []bool
}

func (e *fakeEnqueuer) EnqueueConfigure(_ context.Context, serverID uuid.UUID, fresh bool) (*models.Job, error) {
	e.serverIDs = append(e.serverIDs, serverID)
	e.fresh = append(e.fresh, fresh)
	return models.NewConfigureJob(serverID, fresh), nil
}

type fakeRunner struct {
	commands  []string
	responses map[string]string
	failOn    string
}

func (r *fakeRunner) Run(_ context.Context, _ *models.RadiusServer, command string) (string, error) {
	r.commands = append(r.commands, command)
	if r.failOn != "" && strings.Contains(command, r.failOn) {
		return "", errors.New("command failed")
	}
	for prefix, out := range r.responses {
		if strings.HasPrefix(command, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func pendingNode() *models.RadiusServer {
	node := models.NewRadiusServer(uuid.New(), "node-1", "us-east", "nanode-1", "ubuntu24.04")
	return node
}

func TestProvisionHandlerCreatesInstance(t *testing.T) {
	node := pendingNode()
	store := &fakeNodeStore{node: node}
	cloud := &fakeCloud{instance: &Instance{ID: 42, Label: "radmesh-x", Status: "provisioning", IPv4: []string{"203.0.113.9"}}}
	queue := &fakeEnqueuer{}
	handler := NewProvisionHandler(store, cloud, queue, zerolog.Nop())

	job := models.NewProvisionJob(node.ID)
	result, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 42, result["instance_id"])

	require.Len(t, cloud.created, 1)
	assert.Equal(t, "us-east", cloud.created[0].Region)
	assert.Equal(t, "nanode-1", cloud.created[0].Type)
	assert.NotEmpty(t, cloud.created[0].RootPass)

	assert.Equal(t, models.InstallConfiguring, node.InstallationStatus)
	require.NotNil(t, node.InstanceID)
	assert.Equal(t, "42", *node.InstanceID)
	assert.Equal(t, "203.0.113.9", node.IPv4)
	assert.Equal(t, "203.0.113.9", node.Host)

	require.Len(t, queue.serverIDs, 1)
	assert.Equal(t, node.ID, queue.serverIDs[0])
	assert.True(t, queue.fresh[0])
}

func TestProvisionHandlerReattachesOnRetry(t *testing.T) {
	node := pendingNode()
	require.NoError(t, node.Transition(models.InstallProvisioning, "first attempt"))
	existing := "42"
	node.InstanceID = &existing

	store := &fakeNodeStore{node: node}
	cloud := &fakeCloud{instance: &Instance{ID: 42, Status: "running", IPv4: []string{"203.0.113.9"}}}
	queue := &fakeEnqueuer{}
	handler := NewProvisionHandler(store, cloud, queue, zerolog.Nop())

	job := models.NewProvisionJob(node.ID)
	_, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)

	// No second instance was created.
	assert.Empty(t, cloud.created)
	require.Len(t, queue.fresh, 1)
	assert.False(t, queue.fresh[0])
}

func TestProvisionHandlerWaitFailure(t *testing.T) {
	node := pendingNode()
	store := &fakeNodeStore{node: node}
	cloud := &fakeCloud{
		instance: &Instance{ID: 42, Status: "provisioning"},
		waitErr:  errors.New("instance stuck in provisioning"),
	}
	handler := NewProvisionHandler(store, cloud, &fakeEnqueuer{}, zerolog.Nop())

	_, err := handler.Handle(context.Background(), models.NewProvisionJob(node.ID))
	require.Error(t, err)
	assert.Equal(t, models.InstallProvisioning, node.InstallationStatus)
	assert.Contains(t, node.InstallationLog, "instance stuck in provisioning")
}

func TestProvisionHandlerDeadLetter(t *testing.T) {
	node := pendingNode()
	require.NoError(t, node.Transition(models.InstallProvisioning, "attempt"))
	store := &fakeNodeStore{node: node}
	handler := NewProvisionHandler(store, &fakeCloud{}, &fakeEnqueuer{}, zerolog.Nop())

	job := models.NewProvisionJob(node.ID)
	job.ErrorMessage = "cloud api returned 503"
	handler.OnDeadLetter(context.Background(), job)

	assert.Equal(t, models.InstallFailed, node.InstallationStatus)
	assert.Contains(t, node.InstallationLog, "provisioning failed after 3 attempts: cloud api returned 503")
}

func configuringNode() *models.RadiusServer {
	node := pendingNode()
	node.Host = "203.0.113.9"
	node.IPv4 = "203.0.113.9"
	node.SSHPassword = "rootpass"
	_ = node.Transition(models.InstallProvisioning, "")
	_ = node.Transition(models.InstallConfiguring, "")
	return node
}

func healthyRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]string{
		"echo":                "radmesh-ready",
		"systemctl is-active": "active",
	}}
}

func TestConfigureHandlerCompletesNode(t *testing.T) {
	node := configuringNode()
	store := &fakeNodeStore{node: node}
	runner := healthyRunner()
	handler := NewConfigureHandler(store, runner, zerolog.Nop())

	job := models.NewConfigureJob(node.ID, false)
	_, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.InstallCompleted, node.InstallationStatus)
	assert.True(t, node.IsActive)
	assert.NotNil(t, node.InstalledAt)
	assert.NotEmpty(t, node.AuthToken)
	assert.NotEmpty(t, node.SharedSecret)

	// Probe, token, secret, restart, two verifies.
	require.Len(t, runner.commands, 6)
	assert.Contains(t, runner.commands[1], node.AuthToken)
	assert.Contains(t, runner.commands[2], node.SharedSecret)
	assert.Contains(t, runner.commands[3], "systemctl restart")
}

func TestConfigureHandlerKeepsExistingSecrets(t *testing.T) {
	node := configuringNode()
	node.AuthToken = "existing-token"
	node.SharedSecret = "existing-secret"
	store := &fakeNodeStore{node: node}
	handler := NewConfigureHandler(store, healthyRunner(), zerolog.Nop())

	_, err := handler.Handle(context.Background(), models.NewConfigureJob(node.ID, false))
	require.NoError(t, err)
	assert.Equal(t, "existing-token", node.AuthToken)
	assert.Equal(t, "existing-secret", node.SharedSecret)
}

func TestConfigureHandlerProbeMismatch(t *testing.T) {
	node := configuringNode()
	store := &fakeNodeStore{node: node}
	runner := &fakeRunner{responses: map[string]string{"echo": "garbage"}}
	handler := NewConfigureHandler(store, runner, zerolog.Nop())

	_, err := handler.Handle(context.Background(), models.NewConfigureJob(node.ID, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connectivity probe")
	assert.Equal(t, models.InstallConfiguring, node.InstallationStatus)
}

func TestConfigureHandlerInactiveService(t *testing.T) {
	node := configuringNode()
	store := &fakeNodeStore{node: node}
	runner := &fakeRunner{responses: map[string]string{
		"echo":                "radmesh-ready",
		"systemctl is-active": "failed",
	}}
	handler := NewConfigureHandler(store, runner, zerolog.Nop())

	_, err := handler.Handle(context.Background(), models.NewConfigureJob(node.ID, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after restart")
	assert.False(t, node.IsActive)
}

func TestConfigureHandlerStabilizationDelay(t *testing.T) {
	node := configuringNode()
	store := &fakeNodeStore{node: node}
	handler := NewConfigureHandler(store, healthyRunner(), zerolog.Nop())
	handler.stabilizationDelay = 50 * time.Millisecond

	start := time.Now()
	job := models.NewConfigureJob(node.ID, true)
	_, err := handler.Handle(context.Background(), job)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestConfigureHandlerDeadLetter(t *testing.T) {
	node := configuringNode()
	store := &fakeNodeStore{node: node}
	handler := NewConfigureHandler(store, healthyRunner(), zerolog.Nop())

	job := models.NewConfigureJob(node.ID, false)
	job.ErrorMessage = "dial timeout"
	handler.OnDeadLetter(context.Background(), job)

	assert.Equal(t, models.InstallFailed, node.InstallationStatus)
	assert.Contains(t, node.InstallationLog, "configuration failed after 3 attempts: dial timeout")
}
