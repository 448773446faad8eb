package repositories

import (
	"context"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

// SubscriptionRepository persists push subscription records.
// Records are keyed by endpoint and are never hard-deleted.
type SubscriptionRepository interface {
	// Upsert inserts the record or refreshes the existing one with the same endpoint.
	// The stored record is returned; its ID is the one of the first insert.
	Upsert(ctx context.Context, record *entities.PushSubscriptionRecord) (*entities.PushSubscriptionRecord, error)

	// FindByEndpoint returns entities.ErrNotFound if no record uses the endpoint
	FindByEndpoint(ctx context.Context, endpoint string) (*entities.PushSubscriptionRecord, error)

	// FindByUserID returns the user's records that are not stale
	FindByUserID(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error)

	// MarkStale flags the record so it is skipped by delivery
	MarkStale(ctx context.Context, endpoint string) error

	// Touch records a successful delivery
	Touch(ctx context.Context, endpoint string, at time.Time) error
}

// UnreadRepository answers the authoritative unread query
type UnreadRepository interface {
	// CountUnread counts actionable appointments in scope created strictly after since
	CountUnread(ctx context.Context, scope entities.Scope, since time.Time) (int, error)
}

// AppointmentRepository stores appointment rows for deployments that own the table
type AppointmentRepository interface {
	Save(ctx context.Context, appointment *entities.AppointmentEvent) error
}
