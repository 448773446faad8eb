package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

const (
	// DefaultInsertChannel is the channel the appointments insert trigger notifies on
	DefaultInsertChannel = "appointment_inserts"
	// DefaultBroadcastChannel carries per-user notification payloads
	DefaultBroadcastChannel = "user_notifications"

	defaultReconnectInterval = 2 * time.Second
)

// PostgresFeedConfig configures the LISTEN/NOTIFY feed
type PostgresFeedConfig struct {
	InsertChannel     string        `mapstructure:"insert_channel"`
	BroadcastChannel  string        `mapstructure:"broadcast_channel"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

type broadcastEnvelope struct {
	UserID  entities.UserID               `json:"user_id"`
	Payload *entities.NotificationPayload `json:"payload"`
}

// PostgresChangeFeed delivers appointment inserts through LISTEN/NOTIFY.
// Each subscription holds one pooled connection; a lost connection is re-established at
// most once per reconnect interval and reported to the listener.
type PostgresChangeFeed struct {
	pool   *pgxpool.Pool
	config PostgresFeedConfig
	logger *slog.Logger
}

// NewPostgresChangeFeed creates a new feed on pool
func NewPostgresChangeFeed(pool *pgxpool.Pool, config PostgresFeedConfig, logger *slog.Logger) *PostgresChangeFeed {
	if config.InsertChannel == "" {
		config.InsertChannel = DefaultInsertChannel
	}
	if config.BroadcastChannel == "" {
		config.BroadcastChannel = DefaultBroadcastChannel
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaultReconnectInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresChangeFeed{
		pool:   pool,
		config: config,
		logger: logger.With("component", "postgres_feed"),
	}
}

// Subscribe listens for inserts in the identity's scope and broadcasts to its user
func (f *PostgresChangeFeed) Subscribe(ctx context.Context, identity entities.Identity, listener services.FeedListener) (services.FeedHandle, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	conn, err := f.listen(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &postgresHandle{cancel: cancel, done: make(chan struct{})}
	go f.run(runCtx, conn, identity, listener, h.done)

	f.logger.Debug("subscribed", "identity", identity.Key())
	return h, nil
}

// PublishAppointment is a no-op: inserts reach the feed through the table trigger
func (f *PostgresChangeFeed) PublishAppointment(ctx context.Context, appointment *entities.AppointmentEvent) error {
	return nil
}

// PublishUserNotification notifies the broadcast channel
func (f *PostgresChangeFeed) PublishUserNotification(ctx context.Context, userID entities.UserID, payload *entities.NotificationPayload) error {
	data, err := json.Marshal(broadcastEnvelope{UserID: userID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if _, err := f.pool.Exec(ctx, "SELECT pg_notify($1, $2)", f.config.BroadcastChannel, string(data)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func (f *PostgresChangeFeed) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	for _, channel := range []string{f.config.InsertChannel, f.config.BroadcastChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
	}
	return conn, nil
}

func (f *PostgresChangeFeed) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// the connection is broken; keep it out of the pool
		_ = conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}

func (f *PostgresChangeFeed) run(ctx context.Context, conn *pgxpool.Conn, identity entities.Identity, listener services.FeedListener, done chan<- struct{}) {
	defer close(done)
	limiter := rate.NewLimiter(rate.Every(f.config.ReconnectInterval), 1)

	for {
		err := f.receive(ctx, conn, identity, listener)
		f.release(conn)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("listen connection lost", "identity", identity.Key(), "error", err)

		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			conn, err = f.listen(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("reconnect failed", "identity", identity.Key(), "error", err)
		}

		f.logger.Info("reconnected", "identity", identity.Key())
		if listener.OnReconnect != nil {
			listener.OnReconnect()
		}
	}
}

func (f *PostgresChangeFeed) receive(ctx context.Context, conn *pgxpool.Conn, identity entities.Identity, listener services.FeedListener) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		event, ok, err := f.accept(identity, n.Channel, []byte(n.Payload))
		if err != nil {
			f.logger.Warn("dropping malformed notification", "channel", n.Channel, "error", err)
			continue
		}
		if ok {
			deliver(listener, event)
		}
	}
}

// accept decodes one notification and reports whether identity should see it
func (f *PostgresChangeFeed) accept(identity entities.Identity, channel string, payload []byte) (entities.LiveEvent, bool, error) {
	switch channel {
	case f.config.InsertChannel:
		event, err := decodeInsertEvent(payload)
		if err != nil {
			return entities.LiveEvent{}, false, err
		}
		return event, identity.Scope.Matches(event.SalonID(), event.StaffID()), nil
	case f.config.BroadcastChannel:
		var envelope broadcastEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return entities.LiveEvent{}, false, err
		}
		if envelope.UserID != identity.UserID {
			return entities.LiveEvent{}, false, nil
		}
		if envelope.Payload == nil || envelope.Payload.AppointmentID == "" {
			return entities.LiveEvent{}, false, errors.New("broadcast without appointment id")
		}
		return entities.LiveEvent{
			Kind:       entities.LiveEventBroadcast,
			ID:         envelope.Payload.AppointmentID,
			Payload:    envelope.Payload,
			ReceivedAt: time.Now(),
		}, true, nil
	default:
		return entities.LiveEvent{}, false, nil
	}
}

type postgresHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops listening and waits for the connection to be returned
func (h *postgresHandle) Close() error {
	h.cancel()
	<-h.done
	return nil
}
