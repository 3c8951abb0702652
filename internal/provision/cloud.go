package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Instance is a cloud VM as reported by the provider API.
type Instance struct {
	ID     int      `json:"id"`
	Label  string   `json:"label"`
	Status string   `json:"status"`
	IPv4   []string `json:"ipv4"`
	Region string   `json:"region"`
}

// CreateInstanceRequest describes the VM to create.
type CreateInstanceRequest struct {
	Label    string `json:"label"`
	Region   string `json:"region"`
	Type     string `json:"type"`
	Image    string `json:"image"`
	RootPass string `json:"root_pass"`
}

// CloudClient is the provider API surface provisioning needs.
type CloudClient interface {
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error)
	GetInstance(ctx context.Context, id int) (*Instance, error)
	DeleteInstance(ctx context.Context, id int) error
	// WaitForRunning polls the instance until it reports running or the
	// attempt budget is spent.
	WaitForRunning(ctx context.Context, id int) (*Instance, error)
}

// HTTPCloudClient talks to a Linode-compatible instance API.
type HTTPCloudClient struct {
	baseURL      string
	token        string
	client       *http.Client
	pollInterval time.Duration
	pollAttempts int
	logger       zerolog.Logger
}

// NewHTTPCloudClient creates a provider API client.
func NewHTTPCloudClient(baseURL, token string, logger zerolog.Logger) *HTTPCloudClient {
	return &HTTPCloudClient{
		baseURL:      baseURL,
		token:        token,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 10 * time.Second,
		pollAttempts: 30,
		logger:       logger.With().Str("component", "cloud_client").Logger(),
	}
}

// CreateInstance creates a VM and returns the provider's record of it.
func (c *HTTPCloudClient) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*Instance, error) {
	instance := &Instance{}
	if err := c.do(ctx, http.MethodPost, "/linode/instances", req, instance); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	c.logger.Info().
		Int("instance_id", instance.ID).
		Str("label", instance.Label).
		Str("region", instance.Region).
		Msg("instance created")
	return instance, nil
}

// GetInstance fetches the current state of a VM.
func (c *HTTPCloudClient) GetInstance(ctx context.Context, id int) (*Instance, error) {
	instance := &Instance{}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/linode/instances/%d", id), nil, instance); err != nil {
		return nil, fmt.Errorf("get instance %d: %w", id, err)
	}
	return instance, nil
}

// DeleteInstance destroys a VM.
func (c *HTTPCloudClient) DeleteInstance(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/linode/instances/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete instance %d: %w", id, err)
	}
	return nil
}

// WaitForRunning polls until the instance reports running.
func (c *HTTPCloudClient) WaitForRunning(ctx context.Context, id int) (*Instance, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		instance, err := c.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if instance.Status == "running" {
			return instance, nil
		}

		c.logger.Debug().
			Int("instance_id", id).
			Str("status", instance.Status).
			Int("attempt", attempt+1).
			Msg("waiting for instance")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, fmt.Errorf("instance %d not running after %d polls", id, c.pollAttempts)
}

func (c *HTTPCloudClient) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("cloud api returned %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
