package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

const defaultSubjectPrefix = "notify"

// NATSConfig configures the NATS connection of the live feed
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
}

// ConnectNATS opens a connection that keeps reconnecting in the background
func ConnectNATS(config NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	if config.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("connection closed")
		}),
	}
	if config.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(config.ReconnectWait))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected", "url", nc.ConnectedUrl())
	return nc, nil
}

// Subjects names the NATS subjects of the live feed
type Subjects struct {
	prefix string
}

// NewSubjects creates subject names under prefix
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return Subjects{prefix: prefix}
}

// Scope returns the subject carrying the inserts visible to scope
func (s Subjects) Scope(scope entities.Scope) string {
	if scope.Role == entities.RoleStaff {
		return s.Staff(scope.StaffID)
	}
	return s.Salon(scope.SalonID)
}

// Salon returns the insert subject of a salon
func (s Subjects) Salon(salonID string) string {
	return s.prefix + ".appointments.salon." + subjectToken(salonID)
}

// Staff returns the insert subject of a staff member
func (s Subjects) Staff(staffID string) string {
	return s.prefix + ".appointments.staff." + subjectToken(staffID)
}

// User returns the broadcast subject of a user
func (s Subjects) User(userID entities.UserID) string {
	return s.prefix + ".notifications.user." + subjectToken(string(userID))
}

// subjectToken keeps ids from introducing extra subject levels or wildcards
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

// NATSChangeFeed is a ChangeFeed and EventPublisher over NATS subjects
type NATSChangeFeed struct {
	nc       *nats.Conn
	subjects Subjects
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[int]services.FeedListener
	nextID    int
}

// NewNATSChangeFeed creates a feed on nc. It takes over the reconnect handler of the connection.
func NewNATSChangeFeed(nc *nats.Conn, subjectPrefix string, logger *slog.Logger) *NATSChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &NATSChangeFeed{
		nc:        nc,
		subjects:  NewSubjects(subjectPrefix),
		logger:    logger.With("component", "nats_feed"),
		listeners: make(map[int]services.FeedListener),
	}
	nc.SetReconnectHandler(func(*nats.Conn) { f.notifyReconnect() })
	return f
}

// Subscribe opens the scope subject and the user's broadcast subject
func (f *NATSChangeFeed) Subscribe(ctx context.Context, identity entities.Identity, listener services.FeedListener) (services.FeedHandle, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	h := &natsHandle{feed: f}
	inserts, err := f.nc.Subscribe(f.subjects.Scope(identity.Scope), func(msg *nats.Msg) {
		event, err := decodeInsertEvent(msg.Data)
		if err != nil {
			f.logger.Warn("dropping malformed insert", "subject", msg.Subject, "error", err)
			return
		}
		deliver(listener, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.subjects.Scope(identity.Scope), err)
	}
	h.subs = append(h.subs, inserts)

	broadcasts, err := f.nc.Subscribe(f.subjects.User(identity.UserID), func(msg *nats.Msg) {
		event, err := decodeBroadcastEvent(msg.Data)
		if err != nil {
			f.logger.Warn("dropping malformed broadcast", "subject", msg.Subject, "error", err)
			return
		}
		deliver(listener, event)
	})
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.subjects.User(identity.UserID), err)
	}
	h.subs = append(h.subs, broadcasts)

	if err := f.nc.FlushWithContext(ctx); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to register subscriptions: %w", err)
	}

	f.mu.Lock()
	h.id = f.nextID
	f.nextID++
	f.listeners[h.id] = listener
	f.mu.Unlock()

	f.logger.Debug("subscribed", "identity", identity.Key())
	return h, nil
}

// PublishAppointment emits the insert on the salon subject and, when assigned, the staff subject
func (f *NATSChangeFeed) PublishAppointment(ctx context.Context, appointment *entities.AppointmentEvent) error {
	data, err := json.Marshal(appointment)
	if err != nil {
		return fmt.Errorf("failed to marshal appointment: %w", err)
	}
	subjects := []string{f.subjects.Salon(appointment.SalonID)}
	if appointment.StaffID != "" {
		subjects = append(subjects, f.subjects.Staff(appointment.StaffID))
	}
	for _, subject := range subjects {
		if err := f.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
	}
	return nil
}

// PublishUserNotification emits a pre-computed payload on the user's broadcast subject
func (f *NATSChangeFeed) PublishUserNotification(ctx context.Context, userID entities.UserID, payload *entities.NotificationPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := f.nc.Publish(f.subjects.User(userID), data); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

func (f *NATSChangeFeed) notifyReconnect() {
	f.mu.Lock()
	listeners := make([]services.FeedListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	f.logger.Info("reconnected", "listeners", len(listeners))
	for _, l := range listeners {
		if l.OnReconnect != nil {
			l.OnReconnect()
		}
	}
}

func (f *NATSChangeFeed) forget(id int) {
	f.mu.Lock()
	delete(f.listeners, id)
	f.mu.Unlock()
}

type natsHandle struct {
	feed *NATSChangeFeed
	id   int
	subs []*nats.Subscription
	once sync.Once
}

// Close drains both subscriptions
func (h *natsHandle) Close() error {
	var errs []error
	h.once.Do(func() {
		h.feed.forget(h.id)
		for _, sub := range h.subs {
			if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func deliver(listener services.FeedListener, event entities.LiveEvent) {
	if listener.OnEvent != nil {
		listener.OnEvent(event)
	}
}

func decodeInsertEvent(data []byte) (entities.LiveEvent, error) {
	var appointment entities.AppointmentEvent
	if err := json.Unmarshal(data, &appointment); err != nil {
		return entities.LiveEvent{}, err
	}
	if err := appointment.Validate(); err != nil {
		return entities.LiveEvent{}, err
	}
	return entities.LiveEvent{
		Kind:        entities.LiveEventInsert,
		ID:          appointment.ID,
		Appointment: &appointment,
		ReceivedAt:  time.Now(),
	}, nil
}

func decodeBroadcastEvent(data []byte) (entities.LiveEvent, error) {
	var payload entities.NotificationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return entities.LiveEvent{}, err
	}
	if payload.AppointmentID == "" {
		return entities.LiveEvent{}, errors.New("broadcast without appointment id")
	}
	return entities.LiveEvent{
		Kind:       entities.LiveEventBroadcast,
		ID:         payload.AppointmentID,
		Payload:    &payload,
		ReceivedAt: time.Now(),
	}, nil
}
