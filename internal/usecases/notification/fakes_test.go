package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/storage"
)

// fakeUnreadRepository returns a configurable count. When gate is set, calls block until
// a value is sent on it, which lets tests control completion order.
type fakeUnreadRepository struct {
	mu     sync.Mutex
	count  int
	err    error
	calls  []time.Time
	scopes []entities.Scope
	gate   chan fetchReply
}

type fetchReply struct {
	count int
	err   error
}

func (f *fakeUnreadRepository) CountUnread(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, since)
	f.scopes = append(f.scopes, scope)
	gate, count, err := f.gate, f.count, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case reply := <-gate:
			return reply.count, reply.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return count, err
}

func (f *fakeUnreadRepository) set(count int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = count
	f.err = err
}

func (f *fakeUnreadRepository) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeUnreadRepository) lastSince() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return time.Time{}
	}
	return f.calls[len(f.calls)-1]
}

// fakeSubscriptionRepository is an in-memory subscription table keyed by endpoint
type fakeSubscriptionRepository struct {
	mu        sync.Mutex
	records   map[string]*entities.PushSubscriptionRecord
	upsertErr error
	stale     []string
	touched   []string
}

func newFakeSubscriptionRepository() *fakeSubscriptionRepository {
	return &fakeSubscriptionRepository{records: make(map[string]*entities.PushSubscriptionRecord)}
}

func (f *fakeSubscriptionRepository) Upsert(ctx context.Context, record *entities.PushSubscriptionRecord) (*entities.PushSubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if existing, ok := f.records[record.Endpoint()]; ok {
		existing.Refresh(record)
		return existing.Clone(), nil
	}
	f.records[record.Endpoint()] = record.Clone()
	return record.Clone(), nil
}

func (f *fakeSubscriptionRepository) FindByEndpoint(ctx context.Context, endpoint string) (*entities.PushSubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[endpoint]; ok {
		return r.Clone(), nil
	}
	return nil, entities.ErrNotFound
}

func (f *fakeSubscriptionRepository) FindByUserID(ctx context.Context, userID entities.UserID) ([]*entities.PushSubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.PushSubscriptionRecord
	for _, r := range f.records {
		if r.UserID() == userID && !r.IsStale() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (f *fakeSubscriptionRepository) MarkStale(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale = append(f.stale, endpoint)
	r, ok := f.records[endpoint]
	if !ok {
		return entities.ErrNotFound
	}
	r.MarkStale()
	return nil
}

func (f *fakeSubscriptionRepository) Touch(ctx context.Context, endpoint string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, endpoint)
	if r, ok := f.records[endpoint]; ok {
		r.Touch(at)
	}
	return nil
}

func (f *fakeSubscriptionRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeSubscriptionRepository) get(endpoint string) *entities.PushSubscriptionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[endpoint]
}

// fakePushChannel simulates the device push manager
type fakePushChannel struct {
	mu           sync.Mutex
	permission   entities.Permission
	promptResult entities.Permission
	prompts      int
	opened       *entities.PushChannelInfo
	nextEndpoint string
	openErr      error
	closeErr     error
	closeCalls   int
}

func newFakePushChannel(permission entities.Permission) *fakePushChannel {
	return &fakePushChannel{
		permission:   permission,
		promptResult: entities.PermissionGranted,
		nextEndpoint: "https://push.example.com/send/device-1",
	}
}

func (f *fakePushChannel) Permission() entities.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakePushChannel) RequestPermission(ctx context.Context) (entities.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts++
	f.permission = f.promptResult
	return f.permission, nil
}

func (f *fakePushChannel) Open(ctx context.Context, key string) (*entities.PushChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.opened == nil || f.opened.Endpoint != f.nextEndpoint {
		f.opened = &entities.PushChannelInfo{
			Endpoint: f.nextEndpoint,
			Keys:     entities.EncryptionKeys{P256dh: "BPublicKey", Auth: "authSecret"},
		}
	}
	info := *f.opened
	return &info, nil
}

func (f *fakePushChannel) Current(ctx context.Context) (*entities.PushChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened == nil {
		return nil, nil
	}
	info := *f.opened
	return &info, nil
}

func (f *fakePushChannel) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closeErr != nil {
		return f.closeErr
	}
	f.opened = nil
	return nil
}

func (f *fakePushChannel) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts
}

// fakeBadgePlatform records badge writes
type fakeBadgePlatform struct {
	mu        sync.Mutex
	supported bool
	value     int
	calls     []int
	err       error
}

func (f *fakeBadgePlatform) Supported() bool { return f.supported }

func (f *fakeBadgePlatform) SetBadge(ctx context.Context, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, count)
	if f.err != nil {
		return f.err
	}
	f.value = count
	return nil
}

func (f *fakeBadgePlatform) ClearBadge(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, 0)
	if f.err != nil {
		return f.err
	}
	f.value = 0
	return nil
}

func (f *fakeBadgePlatform) current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// fakeFeed is an in-process change feed that tests drive by hand
type fakeFeed struct {
	mu        sync.Mutex
	listeners map[int]services.FeedListener
	keys      map[int]string
	next      int
	opened    []string
	closed    []string
	err       error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		listeners: make(map[int]services.FeedListener),
		keys:      make(map[int]string),
	}
}

type fakeFeedHandle struct {
	feed *fakeFeed
	id   int
}

func (h *fakeFeedHandle) Close() error {
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	if key, ok := h.feed.keys[h.id]; ok {
		h.feed.closed = append(h.feed.closed, key)
	}
	delete(h.feed.listeners, h.id)
	delete(h.feed.keys, h.id)
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, identity entities.Identity, listener services.FeedListener) (services.FeedHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := f.next
	f.next++
	f.listeners[id] = listener
	f.keys[id] = identity.Key()
	f.opened = append(f.opened, identity.Key())
	return &fakeFeedHandle{feed: f, id: id}, nil
}

// emit delivers event to every open listener
func (f *fakeFeed) emit(event entities.LiveEvent) {
	f.mu.Lock()
	var listeners []services.FeedListener
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		if l.OnEvent != nil {
			l.OnEvent(event)
		}
	}
}

func (f *fakeFeed) reconnect() {
	f.mu.Lock()
	var listeners []services.FeedListener
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()
	for _, l := range listeners {
		if l.OnReconnect != nil {
			l.OnReconnect()
		}
	}
}

func (f *fakeFeed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// fakeFeedback records cues and can fail
type fakeFeedback struct {
	mu     sync.Mutex
	sounds int
	vibes  int
	err    error
}

func (f *fakeFeedback) PlaySound(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sounds++
	return f.err
}

func (f *fakeFeedback) Vibrate(ctx context.Context, pattern []time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vibes++
	return f.err
}

// failingStorage fails every operation
type failingStorage struct{}

var errDiskFull = errors.New("disk full")

func (failingStorage) Save(*storage.BadgeStateData) error { return errDiskFull }
func (failingStorage) Load(string) (*storage.BadgeStateData, error) { return nil, errDiskFull }
func (failingStorage) Delete(string) error { return errDiskFull }
func (failingStorage) Close() error { return nil }

// fixedClock is a controllable clock
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	ownerIdentity  = entities.Identity{UserID: "owner-1", Scope: entities.OwnerScope("salon-1")}
	staffAIdentity = entities.Identity{UserID: "staff-a", Scope: entities.StaffScope("salon-1", "staff-a")}
)

func insertEvent(id, salonID, staffID string, createdAt time.Time) entities.LiveEvent {
	return entities.LiveEvent{
		Kind: entities.LiveEventInsert,
		ID:   id,
		Appointment: &entities.AppointmentEvent{
			ID:           id,
			SalonID:      salonID,
			StaffID:      staffID,
			Status:       entities.AppointmentStatusPending,
			CreatedAt:    createdAt,
			CustomerName: "Amira",
			ServiceName:  "Haircut",
		},
	}
}
