package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
)

// MemoryNotificationRepository keeps subscriptions and appointments in process memory.
// It implements SubscriptionRepository, UnreadRepository and AppointmentRepository.
type MemoryNotificationRepository struct {
	mu            sync.RWMutex
	subscriptions map[string]*entities.PushSubscriptionRecord
	appointments  map[string]*entities.AppointmentEvent
}

// NewMemoryNotificationRepository creates a new MemoryNotificationRepository
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{
		subscriptions: make(map[string]*entities.PushSubscriptionRecord),
		appointments:  make(map[string]*entities.AppointmentEvent),
	}
}

// Upsert inserts the record or refreshes the one with the same endpoint
func (r *MemoryNotificationRepository) Upsert(ctx context.Context, record *entities.PushSubscriptionRecord) (*entities.PushSubscriptionRecord, error) {
	if record == nil {
		return nil, errors.New("subscription cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.subscriptions[record.Endpoint()]; ok {
		existing.Refresh(record)
		return existing.Clone(), nil
	}
	r.subscriptions[record.Endpoint()] = record.Clone()
	return record.Clone(), nil
}

// FindByEndpoint retrieves a subscription by endpoint
func (r *MemoryNotificationRepository) FindByEndpoint(ctx context.Context, endpoint string) (*entities.PushSubscriptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.subscriptions[endpoint]
	if !ok {
		return nil, entities.ErrNotFound
	}
	return record.Clone(), nil
}

// FindByUserID retrieves the active subscriptions of a user, oldest first
func (r *MemoryNotificationRepository) FindByUserID(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entities.PushSubscriptionRecord
	for _, record := range r.subscriptions {
		if record.UserID() == userID && !record.IsStale() {
			result = append(result, record.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt().Before(result[j].CreatedAt())
	})
	return result, nil
}

// MarkStale retires a subscription
func (r *MemoryNotificationRepository) MarkStale(ctx context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.subscriptions[endpoint]
	if !ok {
		return entities.ErrNotFound
	}
	record.MarkStale()
	return nil
}

// Touch records a successful delivery
func (r *MemoryNotificationRepository) Touch(ctx context.Context, endpoint string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.subscriptions[endpoint]
	if !ok {
		return entities.ErrNotFound
	}
	record.Touch(at)
	return nil
}

// Save stores an appointment; saving an existing id replaces it
func (r *MemoryNotificationRepository) Save(ctx context.Context, appointment *entities.AppointmentEvent) error {
	if appointment == nil {
		return errors.New("appointment cannot be nil")
	}
	if err := appointment.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *appointment
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	r.appointments[copied.ID] = &copied
	return nil
}

// CountUnread counts actionable appointments in scope created after since
func (r *MemoryNotificationRepository) CountUnread(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, a := range r.appointments {
		if !a.Status.IsActionable() {
			continue
		}
		if !scope.Matches(a.SalonID, a.StaffID) {
			continue
		}
		if !since.IsZero() && !a.CreatedAt.After(since) {
			continue
		}
		count++
	}
	return count, nil
}
