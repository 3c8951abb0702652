// Package radius implements the push channel toward managed RADIUS nodes:
// the HTTP client speaking the node's voucher API and the job handlers
// that drive batch synchronization.
package radius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/models"
)

// ErrNodeNotReady is returned when a push targets a node that has not
// completed installation or is deactivated.
var ErrNodeNotReady = errors.New("radius node is not ready")

// SyncVoucher is one credential in a push payload.
type SyncVoucher struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	RateLimit     string `json:"mikrotik_rate_limit,omitempty"`
	NASIdentifier string `json:"nas_identifier,omitempty"`
}

// SyncResult reports the node-side outcome of a push.
type SyncResult struct {
	Synced int      `json:"synced"`
	Errors []string `json:"errors,omitempty"`
}

// Client is the voucher API of a managed RADIUS node.
type Client interface {
	// SyncBatch pushes a set of vouchers. The node upserts by username,
	// so replays of the same batch are safe.
	SyncBatch(ctx context.Context, node *models.RadiusServer, vouchers []SyncVoucher) (*SyncResult, error)
	// CreateVoucher pushes a single credential.
	CreateVoucher(ctx context.Context, node *models.RadiusServer, voucher SyncVoucher) (*SyncResult, error)
	// DeleteVoucher removes a credential from the node.
	DeleteVoucher(ctx context.Context, node *models.RadiusServer, username string) error
	// ToggleVoucher enables or disables a credential on the node.
	ToggleVoucher(ctx context.Context, node *models.RadiusServer, username string, enabled bool) error
	// Health probes the node's API with a short deadline.
	Health(ctx context.Context, node *models.RadiusServer) error
}

// HTTPClient talks to the node's voucher API over HTTPS with a bearer
// token. Every call builds its own request; nothing is cached between
// calls.
type HTTPClient struct {
	client       *http.Client
	healthClient *http.Client
	logger       zerolog.Logger
}

// NewHTTPClient creates a node API client. timeout bounds sync calls;
// health probes always use a 5 second deadline.
func NewHTTPClient(timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		client:       &http.Client{Timeout: timeout},
		healthClient: &http.Client{Timeout: 5 * time.Second},
		logger:       logger.With().Str("component", "radius_client").Logger(),
	}
}

// SyncBatch pushes a set of vouchers to the node.
func (c *HTTPClient) SyncBatch(ctx context.Context, node *models.RadiusServer, vouchers []SyncVoucher) (*SyncResult, error) {
	if err := validateNode(node); err != nil {
		return nil, err
	}
	if len(vouchers) == 0 {
		return &SyncResult{}, nil
	}

	payload := map[string]any{"vouchers": vouchers}
	result := &SyncResult{}
	if err := c.do(ctx, c.client, node, http.MethodPost, "/api/vouchers/sync", payload, result); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("node", node.Name).
		Int("sent", len(vouchers)).
		Int("synced", result.Synced).
		Msg("voucher batch pushed")
	return result, nil
}

// CreateVoucher pushes a single credential to the node.
func (c *HTTPClient) CreateVoucher(ctx context.Context, node *models.RadiusServer, voucher SyncVoucher) (*SyncResult, error) {
	if err := validateNode(node); err != nil {
		return nil, err
	}
	result := &SyncResult{}
	if err := c.do(ctx, c.client, node, http.MethodPost, "/api/vouchers", voucher, result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteVoucher removes a credential from the node.
func (c *HTTPClient) DeleteVoucher(ctx context.Context, node *models.RadiusServer, username string) error {
	if err := validateNode(node); err != nil {
		return err
	}
	return c.do(ctx, c.client, node, http.MethodDelete, "/api/vouchers/"+username, nil, nil)
}

// ToggleVoucher enables or disables a credential on the node.
func (c *HTTPClient) ToggleVoucher(ctx context.Context, node *models.RadiusServer, username string, enabled bool) error {
	if err := validateNode(node); err != nil {
		return err
	}
	payload := map[string]any{"enabled": enabled}
	return c.do(ctx, c.client, node, http.MethodPatch, "/api/vouchers/"+username+"/status", payload, nil)
}

// Health probes the node's API.
func (c *HTTPClient) Health(ctx context.Context, node *models.RadiusServer) error {
	if node.SyncEndpoint() == "" || node.AuthToken == "" {
		return ErrNodeNotReady
	}
	return c.do(ctx, c.healthClient, node, http.MethodGet, "/api/health", nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, client *http.Client, node *models.RadiusServer, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, node.SyncEndpoint()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+node.AuthToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("radius node request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("radius node returned %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func validateNode(node *models.RadiusServer) error {
	if node == nil || !node.IsReady() {
		return ErrNodeNotReady
	}
	if node.SyncEndpoint() == "" || node.AuthToken == "" {
		return fmt.Errorf("%w: missing endpoint or token", ErrNodeNotReady)
	}
	return nil
}
