package presenters

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/notification"
	"github.com/treservi/notify-engine/pkg/client"
)

// NotificationPresenter defines how notification data is written to HTTP responses
type NotificationPresenter interface {
	PresentSubscription(ctx echo.Context, status int, record *entities.PushSubscriptionRecord) error
	PresentSubscriptions(ctx echo.Context, records []*entities.PushSubscriptionRecord) error
	PresentUnreadCount(ctx echo.Context, count int) error
	PresentDispatch(ctx echo.Context, result *notification.DispatchResult) error
}

// HTTPNotificationPresenter renders the pkg/client wire types as JSON
type HTTPNotificationPresenter struct{}

// NewHTTPNotificationPresenter creates a new HTTPNotificationPresenter
func NewHTTPNotificationPresenter() *HTTPNotificationPresenter {
	return &HTTPNotificationPresenter{}
}

// PresentSubscription writes a single subscription
func (p *HTTPNotificationPresenter) PresentSubscription(ctx echo.Context, status int, record *entities.PushSubscriptionRecord) error {
	return ctx.JSON(status, ToSubscriptionResponse(record))
}

// PresentSubscriptions writes the active subscriptions of a user
func (p *HTTPNotificationPresenter) PresentSubscriptions(ctx echo.Context, records []*entities.PushSubscriptionRecord) error {
	resp := client.SubscriptionsResponse{Subscriptions: make([]client.SubscriptionResponse, 0, len(records))}
	for _, record := range records {
		resp.Subscriptions = append(resp.Subscriptions, ToSubscriptionResponse(record))
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (p *HTTPNotificationPresenter) PresentUnreadCount(ctx echo.Context, count int) error {
	return ctx.JSON(http.StatusOK, client.UnreadCountResponse{Count: count})
}

func (p *HTTPNotificationPresenter) PresentDispatch(ctx echo.Context, result *notification.DispatchResult) error {
	return ctx.JSON(http.StatusOK, ToDispatchResponse(result))
}

// ToSubscriptionResponse converts a record to its wire form. Keys are included so the
// device that owns the subscription can compare them after a key rotation.
func ToSubscriptionResponse(record *entities.PushSubscriptionRecord) client.SubscriptionResponse {
	keys := record.Keys()
	return client.SubscriptionResponse{
		ID:         string(record.ID()),
		UserID:     string(record.UserID()),
		Endpoint:   record.Endpoint(),
		Keys:       client.SubscriptionKeys{P256dh: keys.P256dh, Auth: keys.Auth},
		UserAgent:  record.UserAgent(),
		CreatedAt:  record.CreatedAt(),
		LastUsedAt: record.LastUsedAt(),
	}
}

func ToDispatchResponse(result *notification.DispatchResult) client.DispatchResponse {
	if result == nil {
		return client.DispatchResponse{}
	}
	return client.DispatchResponse{
		AppointmentID: result.AppointmentID,
		Recipients:    result.Recipients,
		Sent:          result.Sent,
		Failed:        result.Failed,
		Stale:         result.Stale,
		Skipped:       result.Skipped,
	}
}
