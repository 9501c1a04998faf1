package ward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to the Ward backend over JSON HTTP. It is safe for
// concurrent use; every method suspends on the network and honors the
// supplied context.
type Client struct {
	serverAddr string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new backend client. It reads defaults from WARD_*
// environment variables; options override them.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("WARD_SERVER_ADDR"),
		apiKey:     os.Getenv("WARD_API_KEY"),
		timeout:    10 * time.Second,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c
}

// PolicyStatus fetches the current policy snapshot.
func (c *Client) PolicyStatus(ctx context.Context) (*PolicyStatus, error) {
	var status PolicyStatus
	if err := c.doRequest(ctx, "policy status", http.MethodGet, "/policy/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetMode requests a change of operational mode. Mode changes can invalidate
// the active grant and repartition the tool catalog, so callers should
// reload policy status after a successful call.
func (c *Client) SetMode(ctx context.Context, mode string) (*SetModeResponse, error) {
	body := map[string]string{"mode": mode}
	var resp SetModeResponse
	if err := c.doRequest(ctx, "set mode", http.MethodPost, "/policy/set-mode", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GrantTemporary requests a time-bounded emergency grant. The response
// carries the authoritative absolute expiry.
func (c *Client) GrantTemporary(ctx context.Context, durationSeconds int, reason string) (*GrantResponse, error) {
	body := map[string]any{
		"duration_seconds": durationSeconds,
		"reason":           reason,
	}
	var resp GrantResponse
	if err := c.doRequest(ctx, "grant temporary", http.MethodPost, "/policy/grant-temporary", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExtendTemporary asks the backend to push the active grant's expiry forward.
func (c *Client) ExtendTemporary(ctx context.Context, additionalSeconds int) (*GrantResponse, error) {
	body := map[string]any{"additional_seconds": additionalSeconds}
	var resp GrantResponse
	if err := c.doRequest(ctx, "extend temporary", http.MethodPost, "/policy/extend-temporary", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevokeTemporary requests immediate termination of the active grant.
func (c *Client) RevokeTemporary(ctx context.Context) error {
	return c.doRequest(ctx, "revoke temporary", http.MethodPost, "/policy/revoke-temporary", nil, nil)
}

// SetIncidentScope declares the affected-service scope for an incident.
func (c *Client) SetIncidentScope(ctx context.Context, services []string, incidentType, reason string) error {
	body := map[string]any{
		"affected_services": services,
		"incident_type":     incidentType,
		"reason":            reason,
	}
	return c.doRequest(ctx, "set incident scope", http.MethodPost, "/policy/set-incident-scope", body, nil)
}

// ClearIncidentScope clears the declared incident scope.
func (c *Client) ClearIncidentScope(ctx context.Context) error {
	return c.doRequest(ctx, "clear incident scope", http.MethodPost, "/policy/clear-incident-scope", nil, nil)
}

// InfrastructureStatus fetches the health snapshot.
func (c *Client) InfrastructureStatus(ctx context.Context) (*InfrastructureStatus, error) {
	var status InfrastructureStatus
	if err := c.doRequest(ctx, "infrastructure status", http.MethodGet, "/infrastructure/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SimulateIncident flips a service's health for test and demo purposes.
func (c *Client) SimulateIncident(ctx context.Context, service, status string) error {
	q := url.Values{}
	q.Set("service", service)
	q.Set("status", status)
	path := "/infrastructure/simulate-incident?" + q.Encode()
	return c.doRequest(ctx, "simulate incident", http.MethodPost, path, nil, nil)
}

// ToolCatalog fetches the available tools and quick actions.
func (c *Client) ToolCatalog(ctx context.Context) (*ToolCatalog, error) {
	var catalog ToolCatalog
	if err := c.doRequest(ctx, "tool catalog", http.MethodGet, "/tools/catalog", nil, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// ExecuteTool runs (or shadow-runs) a tool. A policy violation is a
// well-formed result, not an error; callers must inspect the ToolResult.
func (c *Client) ExecuteTool(ctx context.Context, req ExecuteRequest) (*ToolResult, error) {
	if req.ExecutionMode == "" {
		req.ExecutionMode = ModeReal
	}
	var result ToolResult
	if err := c.doRequest(ctx, "execute tool", http.MethodPost, "/tools/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendChat enqueues a chat turn for the session and returns the transcript
// as of the enqueue, typically with is_processing already true.
func (c *Client) SendChat(ctx context.Context, sessionID, message string) (*ChatSnapshot, error) {
	body := map[string]string{
		"message":    message,
		"session_id": sessionID,
	}
	var snap ChatSnapshot
	if err := c.doRequest(ctx, "send chat", http.MethodPost, "/chat/send", body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ChatMessages fetches the full transcript and processing flag for a session.
func (c *Client) ChatMessages(ctx context.Context, sessionID string) (*ChatSnapshot, error) {
	var snap ChatSnapshot
	path := "/chat/messages/" + url.PathEscape(sessionID)
	if err := c.doRequest(ctx, "chat messages", http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ClearChat deletes the session transcript server-side.
func (c *Client) ClearChat(ctx context.Context, sessionID string) error {
	path := "/chat/messages/" + url.PathEscape(sessionID)
	return c.doRequest(ctx, "clear chat", http.MethodDelete, path, nil, nil)
}

// doRequest performs a JSON HTTP request against the backend and decodes
// the response into result when non-nil.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body any, result any) error {
	reqURL := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Context cancellation is the caller's doing, not a backend outage.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return &ConnectivityError{Op: op, Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &ConnectivityError{Op: op, Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{
			Op:         op,
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s: failed to unmarshal response: %w", op, err)
		}
	}

	return nil
}
