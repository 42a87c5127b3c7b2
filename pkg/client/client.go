// Package client is a typed HTTP client for the PANfm API. The integration
// tests drive a running api-server through it, and external tooling can use
// it instead of hand-building requests.
//
// Methods mirror the API routes one to one: reads return the decoded payload,
// writes send JSON and return the server's view of the written record. A
// non-2xx response surfaces as *APIError carrying the server's message.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/types"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBytes bounds response reads. The largest legitimate
	// payload, a 90-day daily history, is well under a megabyte.
	maxResponseBytes = 8 << 20
)

// Client talks to one PANfm API server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the API at baseURL, e.g. "http://localhost:8080".
// token authenticates mutating calls; pass "" when the server runs without
// an API token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) del(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Health is the readiness payload of GET /health.
type Health struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Timestamp    types.ISOTime     `json:"timestamp"`
	Version      string            `json:"version"`
	Checks       map[string]string `json:"checks"`
	RetryAfter   int               `json:"retry_after,omitempty"`
	ErrorDetails string            `json:"error_details,omitempty"`
}

// Health reports server readiness. A 503 while the database initializes is
// not an error here: the decoded payload says Ready false and names the
// failing check.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &h, nil
}

// ServiceState describes one moving part in the services-status report.
type ServiceState struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`

	LastHeartbeat          *types.ISOTime `json:"last_heartbeat,omitempty"`
	RefreshIntervalSeconds int            `json:"refresh_interval_seconds,omitempty"`
	CollectionsCompleted   int64          `json:"collections_completed,omitempty"`
	DevicesPolled          int64          `json:"devices_polled,omitempty"`
	PollErrors             int64          `json:"poll_errors,omitempty"`
}

// ServicesStatus reports on the API, the database and the scheduler, keyed
// by service name.
func (c *Client) ServicesStatus(ctx context.Context) (map[string]ServiceState, error) {
	var resp struct {
		Services map[string]ServiceState `json:"services"`
	}
	if err := c.get(ctx, "/api/services/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// Settings fetches the runtime settings shared by both processes.
func (c *Client) Settings(ctx context.Context) (config.Settings, error) {
	var resp struct {
		Settings config.Settings `json:"settings"`
	}
	if err := c.get(ctx, "/api/settings", nil, &resp); err != nil {
		return config.Settings{}, err
	}
	return resp.Settings, nil
}

// SaveSettings persists new runtime settings. The scheduler re-paces its
// polling jobs on its next heartbeat.
func (c *Client) SaveSettings(ctx context.Context, in config.Settings) (config.Settings, error) {
	var resp struct {
		Settings config.Settings `json:"settings"`
	}
	if err := c.put(ctx, "/api/settings", in, &resp); err != nil {
		return config.Settings{}, err
	}
	return resp.Settings, nil
}
