package brigadesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Brigade HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Role struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	ArchivedAt *string `json:"archived_at,omitempty"`
}

type Cascade struct {
	Tasks          int64 `json:"tasks"`
	UserLinks      int64 `json:"user_links"`
	PhaseLinks     int64 `json:"phase_links"`
	LogAssignments int64 `json:"log_assignments"`
}

// ArchiveResult is returned by ArchiveRole.
type ArchiveResult struct {
	ArchivedID    string  `json:"archived_id"`
	PlaceholderID string  `json:"placeholder_id"`
	EventID       string  `json:"event_id"`
	Cascade       Cascade `json:"cascade"`
}

// OutboxEvent is an event row as exposed by the API.
type OutboxEvent struct {
	Seq           int64   `json:"seq"`
	EventID       string  `json:"event_id"`
	AggregateType string  `json:"aggregate_type"`
	AggregateID   string  `json:"aggregate_id"`
	EventType     string  `json:"event_type"`
	Payload       string  `json:"payload_json"`
	CreatedAt     string  `json:"created_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
	Attempts      int     `json:"attempts"`
	LastError     string  `json:"last_error,omitempty"`
	QuarantinedAt *string `json:"quarantined_at,omitempty"`
}

type TickResult struct {
	Claimed       int    `json:"claimed"`
	Handled       int    `json:"handled"`
	Unhandled     int    `json:"unhandled"`
	Processed     int    `json:"processed"`
	Error         string `json:"error,omitempty"`
	FailedEventID string `json:"failed_event_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRole creates an active role. id may be empty.
func (c *Client) CreateRole(ctx context.Context, id, name string) (Role, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	var resp Role
	err := c.do(ctx, http.MethodPost, "roles", body, &resp)
	return resp, err
}

// ArchiveRole archives a role as the authenticated actor.
func (c *Client) ArchiveRole(ctx context.Context, roleID string) (ArchiveResult, error) {
	var resp ArchiveResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("roles/%s/archive", url.PathEscape(roleID)), nil, &resp)
	return resp, err
}

// RoleDependents counts the rows still referencing a role.
func (c *Client) RoleDependents(ctx context.Context, roleID string) (Cascade, error) {
	var resp Cascade
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("roles/%s/dependents", url.PathEscape(roleID)), nil, &resp)
	return resp, err
}

// OutboxQuery filters ListOutbox.
type OutboxQuery struct {
	Pending     bool
	AggregateID string
	Limit       int
}

func (c *Client) ListOutbox(ctx context.Context, q OutboxQuery) ([]OutboxEvent, error) {
	params := url.Values{}
	if q.Pending {
		params.Set("pending", "true")
	}
	if q.AggregateID != "" {
		params.Set("aggregate_id", q.AggregateID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "outbox"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []OutboxEvent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequeueEvent releases a quarantined event.
func (c *Client) RequeueEvent(ctx context.Context, eventID string) (OutboxEvent, error) {
	var resp OutboxEvent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("outbox/%s/requeue", url.PathEscape(eventID)), nil, &resp)
	return resp, err
}

// Tick asks the server to process one outbox batch.
func (c *Client) Tick(ctx context.Context) (TickResult, error) {
	var resp TickResult
	err := c.do(ctx, http.MethodPost, "relay/tick", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
