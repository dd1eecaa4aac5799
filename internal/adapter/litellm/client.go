// Package litellm provides the completion gateway and an admin client for the
// LiteLLM Proxy.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxAdminResponse bounds the body read from admin endpoints.
const maxAdminResponse = 4 << 20

// Model is one entry of the proxy's model list.
type Model struct {
	ModelName string         `json:"model_name"`
	Provider  string         `json:"litellm_provider,omitempty"`
	ModelID   string         `json:"model_id,omitempty"`
	ModelInfo map[string]any `json:"model_info,omitempty"`
}

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("litellm: status %d: %s", e.Status, e.Body)
}

// Client reads model and health information from the LiteLLM admin API.
// Chat completions go through Gateway instead.
type Client struct {
	baseURL   string
	masterKey string
	http      *http.Client
}

// NewClient returns an admin client for baseURL.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient replaces the transport, e.g. with an instrumented one.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// ListModels returns the configured models, never nil.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []Model `json:"data"`
	}
	if err := c.get(ctx, "/model/info", &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if out.Data == nil {
		out.Data = []Model{}
	}
	return out.Data, nil
}

// Health probes the proxy's liveness route, which does not call providers.
func (c *Client) Health(ctx context.Context) error {
	if err := c.get(ctx, "/health/liveliness", nil); err != nil {
		return fmt.Errorf("litellm health: %w", err)
	}
	return nil
}

// get issues an authenticated GET and decodes the JSON body into out unless
// out is nil.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAdminResponse))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
