package shiftdropsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal shiftdrop HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Pool struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant is a casual or a pool admin.
type Participant struct {
	ID        string    `json:"id"`
	PoolID    string    `json:"pool_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Claim struct {
	ID         string     `json:"id"`
	ShiftID    string     `json:"shift_id"`
	CasualID   string     `json:"casual_id"`
	Status     string     `json:"status"`
	ClaimedAt  time.Time  `json:"claimed_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

type Shift struct {
	ID             string    `json:"id"`
	PoolID         string    `json:"pool_id"`
	Description    string    `json:"description"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	SpotsNeeded    int       `json:"spots_needed"`
	SpotsRemaining int       `json:"spots_remaining"`
	Status         string    `json:"status"`
	Version        int64     `json:"version"`
	Claims         []Claim   `json:"claims"`
}

// ClaimResult is returned by claim and release calls.
type ClaimResult struct {
	Shift Shift `json:"shift"`
	Claim Claim `json:"claim"`
}

// NewShift describes a shift to post.
type NewShift struct {
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	SpotsNeeded int       `json:"spots_needed"`
}

type OutboxMessage struct {
	ID          string         `json:"id"`
	MessageType string         `json:"message_type"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Reference   string         `json:"reference,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

type OutboxStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
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

// IsCode reports whether err is an APIError with the given code, e.g. "already_filled".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreatePool(ctx context.Context, name string) (Pool, error) {
	var resp Pool
	err := c.do(ctx, http.MethodPost, "pools", map[string]any{"name": name}, &resp)
	return resp, err
}

// AddCasual registers a casual; the server sends them an invite.
func (c *Client) AddCasual(ctx context.Context, poolID, name, phone string) (Participant, error) {
	var resp Participant
	endpoint := fmt.Sprintf("pools/%s/casuals", url.PathEscape(poolID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"name": name, "phone": phone}, &resp)
	return resp, err
}

func (c *Client) AddAdmin(ctx context.Context, poolID, name, phone string) (Participant, error) {
	var resp Participant
	endpoint := fmt.Sprintf("pools/%s/admins", url.PathEscape(poolID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"name": name, "phone": phone}, &resp)
	return resp, err
}

// PostShift posts a shift and broadcasts it to the pool.
func (c *Client) PostShift(ctx context.Context, poolID string, s NewShift) (Shift, error) {
	var resp Shift
	endpoint := fmt.Sprintf("pools/%s/shifts", url.PathEscape(poolID))
	err := c.do(ctx, http.MethodPost, endpoint, s, &resp)
	return resp, err
}

func (c *Client) ListShifts(ctx context.Context, poolID string) ([]Shift, error) {
	var resp []Shift
	endpoint := fmt.Sprintf("pools/%s/shifts", url.PathEscape(poolID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetShift(ctx context.Context, shiftID string) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodGet, "shifts/"+url.PathEscape(shiftID), nil, &resp)
	return resp, err
}

func (c *Client) ClaimShift(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	return c.claimCall(ctx, shiftID, "claims", casualID)
}

func (c *Client) ReleaseShift(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	return c.claimCall(ctx, shiftID, "release", casualID)
}

func (c *Client) ManagerRelease(ctx context.Context, shiftID, casualID string) (ClaimResult, error) {
	return c.claimCall(ctx, shiftID, "manager-release", casualID)
}

func (c *Client) claimCall(ctx context.Context, shiftID, action, casualID string) (ClaimResult, error) {
	var resp ClaimResult
	endpoint := fmt.Sprintf("shifts/%s/%s", url.PathEscape(shiftID), action)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"casual_id": casualID}, &resp)
	return resp, err
}

func (c *Client) CancelShift(ctx context.Context, shiftID string) (Shift, error) {
	var resp Shift
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("shifts/%s/cancel", url.PathEscape(shiftID)), nil, &resp)
	return resp, err
}

// CasualClaims returns the casual's active claims.
func (c *Client) CasualClaims(ctx context.Context, casualID string) ([]Claim, error) {
	var resp []Claim
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("casuals/%s/claims", url.PathEscape(casualID)), nil, &resp)
	return resp, err
}

// ListOutbox returns messages newest first. Empty status means any.
func (c *Client) ListOutbox(ctx context.Context, status string, limit int) ([]OutboxMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "outbox"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []OutboxMessage `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) OutboxStats(ctx context.Context) (OutboxStats, error) {
	var resp OutboxStats
	err := c.do(ctx, http.MethodGet, "outbox/stats", nil, &resp)
	return resp, err
}

// CancelMessage withdraws a pending message. The bool is false when it had already finished.
func (c *Client) CancelMessage(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("outbox/%s/cancel", url.PathEscape(id)), nil, &resp)
	return resp.Cancelled, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
