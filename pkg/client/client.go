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

	"github.com/treservi/notify-engine/pkg/utils"
)

// APIKeyHeader carries the backend API key
const APIKeyHeader = "X-API-Key"

// Client talks to the notify-engine backend API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends key with every request
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: utils.NewDefaultHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubscriptionKeys are the client encryption keys of a push subscription
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscriptionRequest registers a push subscription
type SubscriptionRequest struct {
	UserID    string           `json:"user_id"`
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	UserAgent string           `json:"user_agent,omitempty"`
}

// SubscriptionResponse is a stored push subscription
type SubscriptionResponse struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Endpoint   string           `json:"endpoint"`
	Keys       SubscriptionKeys `json:"keys"`
	UserAgent  string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastUsedAt time.Time        `json:"last_used_at"`
}

// SubscriptionsResponse lists the active subscriptions of a user
type SubscriptionsResponse struct {
	Subscriptions []SubscriptionResponse `json:"subscriptions"`
}

// UnreadQuery selects the unread window
type UnreadQuery struct {
	Role    string
	SalonID string
	StaffID string
	Since   time.Time
}

// UnreadCountResponse is the authoritative unread count
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// BadgeRequest asks the backend to push a badge update to every device of a user
type BadgeRequest struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// DispatchResponse summarizes a push fan-out
type DispatchResponse struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	Recipients    int    `json:"recipients"`
	Sent          int    `json:"sent"`
	Failed        int    `json:"failed"`
	Stale         int    `json:"stale"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// VAPIDKeyResponse carries the application server key
type VAPIDKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// UpsertSubscription registers or refreshes a subscription by endpoint
func (c *Client) UpsertSubscription(ctx context.Context, req *SubscriptionRequest) (*SubscriptionResponse, error) {
	var out SubscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/api/push-subscriptions", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSubscription retires the subscription with endpoint
func (c *Client) DeleteSubscription(ctx context.Context, endpoint string) error {
	return c.do(ctx, http.MethodDelete, "/api/push-subscriptions", nil, map[string]string{"endpoint": endpoint}, nil)
}

// ListSubscriptions returns the active subscriptions of userID
func (c *Client) ListSubscriptions(ctx context.Context, userID string) (*SubscriptionsResponse, error) {
	var out SubscriptionsResponse
	query := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/api/push-subscriptions", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount fetches the authoritative unread count
func (c *Client) UnreadCount(ctx context.Context, q UnreadQuery) (int, error) {
	query := url.Values{"role": {q.Role}}
	if q.SalonID != "" {
		query.Set("salon_id", q.SalonID)
	}
	if q.StaffID != "" {
		query.Set("staff_id", q.StaffID)
	}
	if !q.Since.IsZero() {
		query.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}

	var out UnreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", query, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// SyncBadge pushes a badge update to every device of a user
func (c *Client) SyncBadge(ctx context.Context, req *BadgeRequest) (*DispatchResponse, error) {
	var out DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/badge", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostAppointment submits an appointment insert for fan-out. The body is forwarded as is.
func (c *Client) PostAppointment(ctx context.Context, appointment any) (*DispatchResponse, error) {
	var out DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/appointments/events", nil, appointment, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VAPIDPublicKey returns the application server key devices subscribe with
func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var out VAPIDKeyResponse
	if err := c.do(ctx, http.MethodGet, "/api/vapid-public-key", nil, nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer utils.SafeCloseResponse(resp)

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return utils.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
			URL:        target,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
