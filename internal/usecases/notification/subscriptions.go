package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/repositories"
)

// ManageSubscriptionUseCase handles push subscription management on the backend
type ManageSubscriptionUseCase struct {
	subscriptions repositories.SubscriptionRepository
}

// NewManageSubscriptionUseCase creates a new ManageSubscriptionUseCase
func NewManageSubscriptionUseCase(subscriptions repositories.SubscriptionRepository) *ManageSubscriptionUseCase {
	return &ManageSubscriptionUseCase{subscriptions: subscriptions}
}

// CreateSubscriptionRequest represents the input for registering a subscription
type CreateSubscriptionRequest struct {
	UserID    entities.UserID
	Endpoint  string
	Keys      entities.EncryptionKeys
	UserAgent string
}

// CreateSubscription upserts the subscription by endpoint
func (uc *ManageSubscriptionUseCase) CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*entities.PushSubscriptionRecord, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if req.UserID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	info := &entities.PushChannelInfo{Endpoint: req.Endpoint, Keys: req.Keys}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	record := entities.NewPushSubscriptionRecord(
		entities.SubscriptionID(uuid.NewString()),
		req.UserID,
		req.Endpoint,
		req.Keys,
		req.UserAgent,
	)
	stored, err := uc.subscriptions.Upsert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save subscription: %w", entities.ErrSubscription, err)
	}
	return stored, nil
}

// DeleteSubscription retires the subscription with endpoint. The row is kept and marked stale.
func (uc *ManageSubscriptionUseCase) DeleteSubscription(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint cannot be empty")
	}
	if err := uc.subscriptions.MarkStale(ctx, endpoint); err != nil {
		return fmt.Errorf("failed to retire subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns the active subscriptions of userID
func (uc *ManageSubscriptionUseCase) ListSubscriptions(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	return uc.subscriptions.FindByUserID(ctx, userID)
}

// CountUnreadUseCase answers the role-scoped unread query
type CountUnreadUseCase struct {
	unread repositories.UnreadRepository
}

// NewCountUnreadUseCase creates a new CountUnreadUseCase
func NewCountUnreadUseCase(unread repositories.UnreadRepository) *CountUnreadUseCase {
	return &CountUnreadUseCase{unread: unread}
}

// Execute counts actionable appointments in scope created after since
func (uc *CountUnreadUseCase) Execute(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return uc.unread.CountUnread(ctx, scope, since)
}
