package entities

import (
	"errors"
	"time"
)

// SubscriptionID represents a unique subscription identifier
type SubscriptionID string

// SubscriptionStatus is the push subscription state of one user session
type SubscriptionStatus string

const (
	SubscriptionStatusUnknown           SubscriptionStatus = "unknown"
	SubscriptionStatusUnsupported       SubscriptionStatus = "unsupported"
	SubscriptionStatusPermissionDefault SubscriptionStatus = "permission-default"
	SubscriptionStatusPermissionDenied  SubscriptionStatus = "permission-denied"
	SubscriptionStatusUnsubscribed      SubscriptionStatus = "unsubscribed"
	SubscriptionStatusSubscribed        SubscriptionStatus = "subscribed"
	SubscriptionStatusError             SubscriptionStatus = "error"
)

// Permission is the tri-state notification permission of a device
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// EncryptionKeys are the client keys a push channel hands out; forwarded verbatim
type EncryptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushChannelInfo is what an opened device push channel exposes
type PushChannelInfo struct {
	Endpoint string         `json:"endpoint"`
	Keys     EncryptionKeys `json:"keys"`
}

// Validate ensures the channel handed out an endpoint and both keys
func (c *PushChannelInfo) Validate() error {
	if c == nil {
		return errors.New("push channel info cannot be nil")
	}
	if c.Endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	if c.Keys.P256dh == "" {
		return errors.New("p256dh key is required")
	}
	if c.Keys.Auth == "" {
		return errors.New("auth key is required")
	}
	return nil
}

// PushSubscriptionRecord is the server-side row of a device push subscription.
// The endpoint is the natural key: re-subscribing from the same browser updates the row.
type PushSubscriptionRecord struct {
	id         SubscriptionID
	userID     UserID
	endpoint   string
	keys       EncryptionKeys
	userAgent  string
	createdAt  time.Time
	lastUsedAt time.Time
	stale      bool
}

// NewPushSubscriptionRecord creates a new subscription record
func NewPushSubscriptionRecord(id SubscriptionID, userID UserID, endpoint string, keys EncryptionKeys, userAgent string) *PushSubscriptionRecord {
	now := time.Now()
	return &PushSubscriptionRecord{
		id:         id,
		userID:     userID,
		endpoint:   endpoint,
		keys:       keys,
		userAgent:  userAgent,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// RestorePushSubscriptionRecord rebuilds a record loaded from storage
func RestorePushSubscriptionRecord(id SubscriptionID, userID UserID, endpoint string, keys EncryptionKeys, userAgent string, createdAt, lastUsedAt time.Time, stale bool) *PushSubscriptionRecord {
	return &PushSubscriptionRecord{
		id:         id,
		userID:     userID,
		endpoint:   endpoint,
		keys:       keys,
		userAgent:  userAgent,
		createdAt:  createdAt,
		lastUsedAt: lastUsedAt,
		stale:      stale,
	}
}

// ID returns the subscription ID
func (r *PushSubscriptionRecord) ID() SubscriptionID {
	return r.id
}

// UserID returns the owning user
func (r *PushSubscriptionRecord) UserID() UserID {
	return r.userID
}

// Endpoint returns the push service endpoint URL
func (r *PushSubscriptionRecord) Endpoint() string {
	return r.endpoint
}

// Keys returns the client encryption keys
func (r *PushSubscriptionRecord) Keys() EncryptionKeys {
	return r.keys
}

// UserAgent returns the user agent hint recorded at subscribe time
func (r *PushSubscriptionRecord) UserAgent() string {
	return r.userAgent
}

// CreatedAt returns when the record was first stored
func (r *PushSubscriptionRecord) CreatedAt() time.Time {
	return r.createdAt
}

// LastUsedAt returns the last subscribe or delivery time
func (r *PushSubscriptionRecord) LastUsedAt() time.Time {
	return r.lastUsedAt
}

// IsStale returns true once the device unsubscribed or the push service reported the endpoint gone
func (r *PushSubscriptionRecord) IsStale() bool {
	return r.stale
}

// Touch updates the last used timestamp
func (r *PushSubscriptionRecord) Touch(at time.Time) {
	r.lastUsedAt = at
}

// MarkStale logically retires the record
func (r *PushSubscriptionRecord) MarkStale() {
	r.stale = true
}

// Refresh applies the values of a re-subscription onto an existing row
func (r *PushSubscriptionRecord) Refresh(other *PushSubscriptionRecord) {
	r.userID = other.userID
	r.keys = other.keys
	r.userAgent = other.userAgent
	r.lastUsedAt = other.lastUsedAt
	r.stale = false
}

// Clone returns an independent copy
func (r *PushSubscriptionRecord) Clone() *PushSubscriptionRecord {
	c := *r
	return &c
}

// Validate ensures the record is in a valid state
func (r *PushSubscriptionRecord) Validate() error {
	if r.id == "" {
		return errors.New("subscription ID cannot be empty")
	}
	if r.userID == "" {
		return errors.New("user ID cannot be empty")
	}
	if r.endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	if r.keys.P256dh == "" {
		return errors.New("p256dh key is required")
	}
	if r.keys.Auth == "" {
		return errors.New("auth key is required")
	}
	return nil
}
