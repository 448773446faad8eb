package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, user_agent, created_at, last_used_at, stale`

// PostgresSubscriptionRepository stores push subscriptions in the push_subscriptions table
type PostgresSubscriptionRepository struct {
	db pgQuerier
}

// NewPostgresSubscriptionRepository creates a repository over db, usually a *pgxpool.Pool
func NewPostgresSubscriptionRepository(db pgQuerier) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{db: db}
}

// Upsert inserts the record or refreshes the row with the same endpoint.
// A refreshed row keeps its id and created_at and is no longer stale.
func (r *PostgresSubscriptionRepository) Upsert(ctx context.Context, record *entities.PushSubscriptionRecord) (*entities.PushSubscriptionRecord, error) {
	if record == nil {
		return nil, errors.New("subscription cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	keys := record.Keys()
	row := r.db.QueryRow(ctx, `
		INSERT INTO push_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent,
			last_used_at = EXCLUDED.last_used_at,
			stale = false
		RETURNING `+subscriptionColumns,
		string(record.ID()), string(record.UserID()), record.Endpoint(), keys.P256dh, keys.Auth,
		record.UserAgent(), record.CreatedAt(), record.LastUsedAt(),
	)

	stored, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return stored, nil
}

// FindByEndpoint retrieves a subscription by endpoint
func (r *PostgresSubscriptionRepository) FindByEndpoint(ctx context.Context, endpoint string) (*entities.PushSubscriptionRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	record, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return record, nil
}

// FindByUserID retrieves the active subscriptions of a user, oldest first
func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1 AND NOT stale ORDER BY created_at`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var result []*entities.PushSubscriptionRecord
	for rows.Next() {
		record, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return result, nil
}

// MarkStale retires a subscription
func (r *PostgresSubscriptionRepository) MarkStale(ctx context.Context, endpoint string) error {
	tag, err := r.db.Exec(ctx, `UPDATE push_subscriptions SET stale = true WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to mark subscription stale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}

// Touch records a successful delivery
func (r *PostgresSubscriptionRepository) Touch(ctx context.Context, endpoint string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE push_subscriptions SET last_used_at = $2 WHERE endpoint = $1`, endpoint, at)
	if err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrNotFound
	}
	return nil
}

func scanSubscription(row pgx.Row) (*entities.PushSubscriptionRecord, error) {
	var (
		id, userID, endpoint, p256dh, auth, userAgent string
		createdAt, lastUsedAt                         time.Time
		stale                                         bool
	)
	if err := row.Scan(&id, &userID, &endpoint, &p256dh, &auth, &userAgent, &createdAt, &lastUsedAt, &stale); err != nil {
		return nil, err
	}
	return entities.RestorePushSubscriptionRecord(
		entities.SubscriptionID(id),
		entities.UserID(userID),
		endpoint,
		entities.EncryptionKeys{P256dh: p256dh, Auth: auth},
		userAgent,
		createdAt,
		lastUsedAt,
		stale,
	), nil
}
