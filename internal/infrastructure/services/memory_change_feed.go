package services

import (
	"context"
	"sync"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// MemoryChangeFeed is an in-process ChangeFeed and EventPublisher.
// Deliveries are synchronous on the publishing goroutine.
type MemoryChangeFeed struct {
	mu          sync.RWMutex
	subscribers map[int]*memorySubscriber
	nextID      int
}

type memorySubscriber struct {
	identity entities.Identity
	listener services.FeedListener
}

// NewMemoryChangeFeed creates a new in-process feed
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{subscribers: make(map[int]*memorySubscriber)}
}

// Subscribe registers listener for the identity's scope and broadcasts
func (f *MemoryChangeFeed) Subscribe(ctx context.Context, identity entities.Identity, listener services.FeedListener) (services.FeedHandle, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subscribers[id] = &memorySubscriber{identity: identity, listener: listener}
	return &memoryHandle{feed: f, id: id}, nil
}

// PublishAppointment delivers an insert to every subscriber whose scope matches
func (f *MemoryChangeFeed) PublishAppointment(ctx context.Context, appointment *entities.AppointmentEvent) error {
	copied := *appointment
	event := entities.LiveEvent{
		Kind:        entities.LiveEventInsert,
		ID:          appointment.ID,
		Appointment: &copied,
		ReceivedAt:  time.Now(),
	}
	for _, sub := range f.snapshot() {
		if sub.identity.Scope.Matches(appointment.SalonID, appointment.StaffID) {
			deliver(sub.listener, event)
		}
	}
	return nil
}

// PublishUserNotification delivers a broadcast to every subscriber of userID
func (f *MemoryChangeFeed) PublishUserNotification(ctx context.Context, userID entities.UserID, payload *entities.NotificationPayload) error {
	copied := *payload
	event := entities.LiveEvent{
		Kind:       entities.LiveEventBroadcast,
		ID:         payload.AppointmentID,
		Payload:    &copied,
		ReceivedAt: time.Now(),
	}
	for _, sub := range f.snapshot() {
		if sub.identity.UserID == userID {
			deliver(sub.listener, event)
		}
	}
	return nil
}

// Reconnect reports a reconnect to every subscriber
func (f *MemoryChangeFeed) Reconnect() {
	for _, sub := range f.snapshot() {
		if sub.listener.OnReconnect != nil {
			sub.listener.OnReconnect()
		}
	}
}

// Subscribers returns the number of open subscriptions
func (f *MemoryChangeFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *MemoryChangeFeed) snapshot() []*memorySubscriber {
	f.mu.RLock()
	defer f.mu.RUnlock()
	subs := make([]*memorySubscriber, 0, len(f.subscribers))
	for _, s := range f.subscribers {
		subs = append(subs, s)
	}
	return subs
}

type memoryHandle struct {
	feed *MemoryChangeFeed
	id   int
}

func (h *memoryHandle) Close() error {
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	delete(h.feed.subscribers, h.id)
	return nil
}
