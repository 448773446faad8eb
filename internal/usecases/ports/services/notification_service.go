package services

import (
	"context"
	"errors"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

// ErrEndpointGone is returned by a PushSender when the push service reports the endpoint expired
var ErrEndpointGone = errors.New("push endpoint gone")

var (
	// ErrUnknownChannel is returned for pushes addressed to a channel this device no longer holds
	ErrUnknownChannel = errors.New("unknown push channel")
	// ErrPushUnauthorized is returned when the VAPID authorization of a push does not verify
	ErrPushUnauthorized = errors.New("push authorization rejected")
)

// PushSender delivers push messages to subscription endpoints
type PushSender interface {
	Send(ctx context.Context, record *entities.PushSubscriptionRecord, message *entities.PushMessage) error
}

// EventPublisher fans appointment events out to the live change feed
type EventPublisher interface {
	// PublishAppointment emits a scoped insert event
	PublishAppointment(ctx context.Context, appointment *entities.AppointmentEvent) error
	// PublishUserNotification emits a pre-computed payload on the user's broadcast channel
	PublishUserNotification(ctx context.Context, userID entities.UserID, payload *entities.NotificationPayload) error
}

// FeedListener receives deliveries from a change feed subscription.
// Callbacks may be invoked concurrently and more than once for the same event.
type FeedListener struct {
	OnEvent     func(event entities.LiveEvent)
	OnReconnect func()
}

// FeedHandle is one open change feed subscription
type FeedHandle interface {
	Close() error
}

// ChangeFeed opens scoped subscriptions on the live change feed
type ChangeFeed interface {
	Subscribe(ctx context.Context, identity entities.Identity, listener FeedListener) (FeedHandle, error)
}

// PushChannel is the device side of web push: permission prompt and channel registration
type PushChannel interface {
	Permission() entities.Permission
	// RequestPermission shows the platform prompt and returns the resulting permission
	RequestPermission(ctx context.Context) (entities.Permission, error)
	// Open returns the existing channel or creates one bound to the application server key
	Open(ctx context.Context, applicationServerKey string) (*entities.PushChannelInfo, error)
	// Current returns the open channel, or nil
	Current(ctx context.Context) (*entities.PushChannelInfo, error)
	Close(ctx context.Context) error
}

// BadgePlatform is the OS app-icon badge
type BadgePlatform interface {
	Supported() bool
	SetBadge(ctx context.Context, count int) error
	ClearBadge(ctx context.Context) error
}

// Feedback plays the attention cues of a new appointment
type Feedback interface {
	PlaySound(ctx context.Context) error
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
