package repositories

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/pkg/client"
	"github.com/treservi/notify-engine/pkg/utils"
)

// APINotificationRepository reaches the backend API for subscriptions and unread counts.
// Device agents use it in place of a database connection.
type APINotificationRepository struct {
	client *client.Client
}

// NewAPINotificationRepository creates a repository over the backend client
func NewAPINotificationRepository(c *client.Client) *APINotificationRepository {
	return &APINotificationRepository{client: c}
}

// Upsert registers the subscription with the backend
func (r *APINotificationRepository) Upsert(ctx context.Context, record *entities.PushSubscriptionRecord) (*entities.PushSubscriptionRecord, error) {
	if record == nil {
		return nil, errors.New("subscription cannot be nil")
	}
	keys := record.Keys()
	resp, err := r.client.UpsertSubscription(ctx, &client.SubscriptionRequest{
		UserID:    string(record.UserID()),
		Endpoint:  record.Endpoint(),
		Keys:      client.SubscriptionKeys{P256dh: keys.P256dh, Auth: keys.Auth},
		UserAgent: record.UserAgent(),
	})
	if err != nil {
		return nil, err
	}
	return fromSubscriptionResponse(resp), nil
}

// FindByEndpoint is not exposed by the backend API
func (r *APINotificationRepository) FindByEndpoint(ctx context.Context, endpoint string) (*entities.PushSubscriptionRecord, error) {
	return nil, fmt.Errorf("lookup by endpoint is not available over the backend API")
}

// FindByUserID lists the active subscriptions of a user
func (r *APINotificationRepository) FindByUserID(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error) {
	resp, err := r.client.ListSubscriptions(ctx, string(userID))
	if err != nil {
		return nil, err
	}
	records := make([]*entities.PushSubscriptionRecord, 0, len(resp.Subscriptions))
	for i := range resp.Subscriptions {
		records = append(records, fromSubscriptionResponse(&resp.Subscriptions[i]))
	}
	return records, nil
}

// MarkStale retires the subscription with the backend
func (r *APINotificationRepository) MarkStale(ctx context.Context, endpoint string) error {
	err := r.client.DeleteSubscription(ctx, endpoint)
	if utils.StatusCode(err) == http.StatusNotFound {
		return entities.ErrNotFound
	}
	return err
}

// Touch is a no-op; the backend refreshes last_used_at on every upsert and delivery
func (r *APINotificationRepository) Touch(ctx context.Context, endpoint string, at time.Time) error {
	return nil
}

// CountUnread fetches the authoritative count from the backend
func (r *APINotificationRepository) CountUnread(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	return r.client.UnreadCount(ctx, client.UnreadQuery{
		Role:    string(scope.Role),
		SalonID: scope.SalonID,
		StaffID: scope.StaffID,
		Since:   since,
	})
}

func fromSubscriptionResponse(resp *client.SubscriptionResponse) *entities.PushSubscriptionRecord {
	return entities.RestorePushSubscriptionRecord(
		entities.SubscriptionID(resp.ID),
		entities.UserID(resp.UserID),
		resp.Endpoint,
		entities.EncryptionKeys{P256dh: resp.Keys.P256dh, Auth: resp.Keys.Auth},
		resp.UserAgent,
		resp.CreatedAt,
		resp.LastUsedAt,
		false,
	)
}
