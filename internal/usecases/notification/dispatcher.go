package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/repositories"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// DefaultDispatchConcurrency bounds parallel push deliveries per dispatch
const DefaultDispatchConcurrency = 8

// DispatchResult summarizes one fan-out
type DispatchResult struct {
	AppointmentID string `json:"appointment_id"`
	Recipients    int    `json:"recipients"`
	Sent          int    `json:"sent"`
	Failed        int    `json:"failed"`
	Stale         int    `json:"stale"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// Dispatcher fans a newly created appointment out to the live feed and to web push
type Dispatcher struct {
	subscriptions repositories.SubscriptionRepository
	appointments  repositories.AppointmentRepository
	sender        services.PushSender
	publisher     services.EventPublisher
	logger        *slog.Logger
	metrics       services.EngineMetrics
	clock         services.Clock
	concurrency   int
}

// NewDispatcher creates a Dispatcher. A nil sender disables web push, a nil publisher disables live fan-out.
func NewDispatcher(
	subscriptions repositories.SubscriptionRepository,
	sender services.PushSender,
	publisher services.EventPublisher,
	logger *slog.Logger,
	metrics services.EngineMetrics,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	return &Dispatcher{
		subscriptions: subscriptions,
		sender:        sender,
		publisher:     publisher,
		logger:        logger.With("component", "dispatcher"),
		metrics:       metrics,
		clock:         services.SystemClock{},
		concurrency:   DefaultDispatchConcurrency,
	}
}

// WithAppointmentStore makes Dispatch record the appointment before fanning it out,
// for deployments where this service owns the appointments table
func (d *Dispatcher) WithAppointmentStore(appointments repositories.AppointmentRepository) *Dispatcher {
	d.appointments = appointments
	return d
}

// Dispatch publishes the scoped insert event, the per-recipient broadcast payloads and the
// web push messages for an appointment. Delivery failures are counted, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, appointment *entities.AppointmentEvent) (*DispatchResult, error) {
	if appointment == nil {
		return nil, errors.New("appointment cannot be nil")
	}
	if err := appointment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid appointment: %w", err)
	}

	result := &DispatchResult{AppointmentID: appointment.ID}
	if appointment.Status != "" && !appointment.Status.IsActionable() {
		result.Skipped = true
		return result, nil
	}
	if appointment.CreatedAt.IsZero() {
		appointment.CreatedAt = d.clock.Now()
	}

	if d.appointments != nil {
		if err := d.appointments.Save(ctx, appointment); err != nil {
			return nil, fmt.Errorf("failed to store appointment: %w", err)
		}
	}

	if d.publisher != nil {
		if err := d.publisher.PublishAppointment(ctx, appointment); err != nil {
			d.logger.Warn("failed to publish appointment event", "appointment_id", appointment.ID, "error", err)
		}
	}

	recipients := appointment.Recipients()
	result.Recipients = len(recipients)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, recipient := range recipients {
		payload := entities.NewAppointmentPayload(appointment, recipient, d.clock.Now())

		if d.publisher != nil {
			if err := d.publisher.PublishUserNotification(ctx, recipient, payload); err != nil {
				d.logger.Warn("failed to publish user notification", "user_id", recipient, "error", err)
			}
		}

		if d.sender == nil || d.subscriptions == nil {
			continue
		}

		records, err := d.subscriptions.FindByUserID(ctx, recipient)
		if err != nil {
			d.logger.Warn("failed to load subscriptions", "user_id", recipient, "error", err)
			continue
		}

		message := entities.NewAppointmentPushMessage(payload)
		for _, record := range records {
			record := record
			g.Go(func() error {
				outcome := d.deliver(gctx, record, message)
				mu.Lock()
				defer mu.Unlock()
				switch outcome {
				case deliverySent:
					result.Sent++
				case deliveryStale:
					result.Stale++
				default:
					result.Failed++
				}
				return nil
			})
		}
	}

	_ = g.Wait()

	d.logger.Info("appointment dispatched",
		"appointment_id", appointment.ID,
		"recipients", result.Recipients,
		"sent", result.Sent,
		"failed", result.Failed,
		"stale", result.Stale)
	return result, nil
}

// SyncBadge sends a silent badge update to every active subscription of userID
func (d *Dispatcher) SyncBadge(ctx context.Context, userID entities.UserID, count int) (*DispatchResult, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	result := &DispatchResult{Recipients: 1}
	if d.sender == nil || d.subscriptions == nil {
		result.Skipped = true
		return result, nil
	}

	records, err := d.subscriptions.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	message := entities.NewBadgePushMessage(count)
	for _, record := range records {
		switch d.deliver(ctx, record, message) {
		case deliverySent:
			result.Sent++
		case deliveryStale:
			result.Stale++
		default:
			result.Failed++
		}
	}
	return result, nil
}

type deliveryOutcome int

const (
	deliverySent deliveryOutcome = iota
	deliveryStale
	deliveryFailed
)

func (d *Dispatcher) deliver(ctx context.Context, record *entities.PushSubscriptionRecord, message *entities.PushMessage) deliveryOutcome {
	err := d.sender.Send(ctx, record, message)
	switch {
	case err == nil:
		d.metrics.PushDelivered(true)
		if err := d.subscriptions.Touch(ctx, record.Endpoint(), d.clock.Now()); err != nil {
			d.logger.Debug("failed to touch subscription", "error", err)
		}
		return deliverySent
	case errors.Is(err, services.ErrEndpointGone):
		d.metrics.PushDelivered(false)
		if err := d.subscriptions.MarkStale(ctx, record.Endpoint()); err != nil {
			d.logger.Warn("failed to mark subscription stale", "subscription_id", record.ID(), "error", err)
		}
		return deliveryStale
	default:
		d.metrics.PushDelivered(false)
		d.logger.Warn("push delivery failed", "subscription_id", record.ID(), "user_id", record.UserID(), "error", err)
		return deliveryFailed
	}
}
