package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/pkg/storage"
)

type reconcilerFixture struct {
	unread     *fakeUnreadRepository
	badge      *fakeBadgePlatform
	backend    *storage.MemoryStorage
	store      *LocalStateStore
	clock      *fixedClock
	reconciler *Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		unread:  &fakeUnreadRepository{},
		badge:   &fakeBadgePlatform{supported: true},
		backend: storage.NewMemoryStorage(),
		clock:   &fixedClock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)},
	}
	f.store = NewLocalStateStore(f.backend, nil, nil)
	f.reconciler = NewReconciler(f.unread, f.store, NewBadgeBridge(f.badge, nil, nil), ReconcilerConfig{}, nil, nil)
	f.reconciler.clock = f.clock
	return f
}

func TestReconciler_OwnerScenario(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	assert.Equal(t, 0, f.reconciler.GetUnreadCount(ctx, ownerIdentity))
	assert.Equal(t, 0, f.badge.current())

	counted := f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-1", "salon-1", "staff-a", f.clock.Now().Add(time.Second)))
	assert.True(t, counted)
	assert.Equal(t, 1, f.reconciler.Count())
	assert.Equal(t, 1, f.badge.current())

	f.clock.advance(time.Minute)
	f.reconciler.MarkAllAsRead(ctx)
	assert.Equal(t, 0, f.reconciler.Count())
	assert.Equal(t, 0, f.badge.current())

	f.unread.set(0, nil)
	assert.Equal(t, 0, f.reconciler.GetUnreadCount(ctx, ownerIdentity))
	assert.Equal(t, f.clock.Now(), f.unread.lastSince(), "fetch must use the mark-all-read time as window start")
}

func TestReconciler_DedupCountsEventOnce(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)

	event := insertEvent("appt-1", "salon-1", "", f.clock.Now().Add(time.Second))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.reconciler.ApplyLiveEvent(ctx, event)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.reconciler.Count())
	assert.Equal(t, 1, f.reconciler.SeenCount())
}

func TestReconciler_InsertAndBroadcastForSameAppointmentCountOnce(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)

	insert := insertEvent("appt-7", "salon-1", "staff-a", f.clock.Now().Add(time.Second))
	broadcast := entities.LiveEvent{
		Kind: entities.LiveEventBroadcast,
		ID:   "appt-7",
		Payload: &entities.NotificationPayload{
			AppointmentID: "appt-7",
			SalonID:       "salon-1",
			UserID:        "owner-1",
			Timestamp:     f.clock.Now().Add(time.Second),
		},
	}

	assert.True(t, f.reconciler.ApplyLiveEvent(ctx, broadcast))
	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, insert))
	assert.Equal(t, 1, f.reconciler.Count())
}

func TestReconciler_ScopeIsolation(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, staffAIdentity)
	created := f.clock.Now().Add(time.Second)

	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-1", "salon-1", "staff-b", created)),
		"staff of the same salon must not see another staff member's appointment")
	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-2", "salon-2", "staff-x", created)))
	assert.True(t, f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-3", "salon-1", "staff-a", created)))
	assert.Equal(t, 1, f.reconciler.Count())

	other := entities.LiveEvent{
		Kind:    entities.LiveEventBroadcast,
		ID:      "appt-4",
		Payload: &entities.NotificationPayload{StaffID: "staff-a", UserID: "someone-else", Timestamp: created},
	}
	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, other), "broadcast for another user must be ignored")
}

func TestReconciler_IgnoresAcknowledgedAndInactiveEvents(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)
	f.reconciler.MarkAllAsRead(ctx)

	old := insertEvent("appt-old", "salon-1", "", f.clock.Now().Add(-time.Minute))
	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, old))

	completed := insertEvent("appt-done", "salon-1", "", f.clock.Now().Add(time.Minute))
	completed.Appointment.Status = entities.AppointmentStatusCompleted
	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, completed))

	assert.False(t, f.reconciler.ApplyLiveEvent(ctx, entities.LiveEvent{ID: "empty"}))
	assert.Equal(t, 0, f.reconciler.Count())
}

func TestReconciler_FetchFailureKeepsLocalCount(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	f.unread.set(4, nil)
	require.Equal(t, 4, f.reconciler.GetUnreadCount(ctx, ownerIdentity))

	errRefused := errors.New("connection refused")
	f.unread.set(0, errRefused)
	assert.Equal(t, 4, f.reconciler.GetUnreadCount(ctx, ownerIdentity))
	assert.Equal(t, 4, f.badge.current())
	assert.ErrorIs(t, f.reconciler.LastError(), entities.ErrNetwork)
	assert.ErrorIs(t, f.reconciler.LastError(), errRefused)
	assert.Equal(t, entities.FailureNetwork, entities.Classify(f.reconciler.LastError()))

	f.unread.set(2, nil)
	assert.Equal(t, 2, f.reconciler.GetUnreadCount(ctx, ownerIdentity))
	assert.NoError(t, f.reconciler.LastError())
}

func TestReconciler_SuccessfulFetchReplacesLocalDeltas(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)

	for i := 0; i < 3; i++ {
		f.reconciler.ApplyLiveEvent(ctx, insertEvent(fmt.Sprintf("appt-%d", i), "salon-1", "", f.clock.Now().Add(time.Second)))
	}
	require.Equal(t, 3, f.reconciler.Count())

	f.unread.set(2, nil)
	assert.Equal(t, 2, f.reconciler.Refresh(ctx))
	assert.Equal(t, 2, f.reconciler.Count())
	assert.Equal(t, 2, f.badge.current())
}

func TestReconciler_StaleFetchDoesNotOverwriteMarkAllAsRead(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)
	f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-1", "salon-1", "", f.clock.Now().Add(time.Second)))

	gate := make(chan fetchReply)
	f.unread.mu.Lock()
	f.unread.gate = gate
	f.unread.mu.Unlock()

	done := make(chan int)
	go func() { done <- f.reconciler.Refresh(ctx) }()
	require.Eventually(t, func() bool { return f.unread.callCount() == 2 }, time.Second, 5*time.Millisecond)

	f.clock.advance(time.Minute)
	f.reconciler.MarkAllAsRead(ctx)

	gate <- fetchReply{count: 5}
	assert.Equal(t, 0, <-done)
	assert.Equal(t, 0, f.reconciler.Count())
	assert.Equal(t, 0, f.badge.current())
}

func TestReconciler_NewestIssuedFetchWins(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.SetIdentity(ctx, ownerIdentity)

	gate := make(chan fetchReply)
	f.unread.mu.Lock()
	f.unread.gate = gate
	f.unread.mu.Unlock()

	first := make(chan int)
	go func() { first <- f.reconciler.Refresh(ctx) }()
	require.Eventually(t, func() bool { return f.unread.callCount() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan int)
	go func() { second <- f.reconciler.Refresh(ctx) }()
	require.Eventually(t, func() bool { return f.unread.callCount() == 2 }, time.Second, 5*time.Millisecond)

	// either goroutine may take either reply; the fetch issued last decides the count
	gate <- fetchReply{count: 7}
	gate <- fetchReply{count: 3}
	<-first
	latest := <-second

	assert.Contains(t, []int{3, 7}, f.reconciler.Count())
	assert.Equal(t, latest, f.reconciler.Count())
}

func TestReconciler_SetIdentityLoadsCachedState(t *testing.T) {
	f := newReconcilerFixture()
	checked := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.backend.Save(&storage.BadgeStateData{Key: ownerIdentity.Key(), Count: 6, LastCheckedAt: checked}))

	f.unread.set(0, errors.New("offline"))
	assert.Equal(t, 6, f.reconciler.GetUnreadCount(context.Background(), ownerIdentity))
	assert.Equal(t, checked, f.unread.lastSince())
	assert.Equal(t, 6, f.badge.current())
}

func TestReconciler_SwitchingIdentityClearsSeenEvents(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)
	f.reconciler.ApplyLiveEvent(ctx, insertEvent("appt-1", "salon-1", "staff-a", f.clock.Now().Add(time.Second)))
	require.Equal(t, 1, f.reconciler.SeenCount())

	f.reconciler.GetUnreadCount(ctx, staffAIdentity)
	assert.Equal(t, 0, f.reconciler.SeenCount())
	assert.Equal(t, entities.StaffScope("salon-1", "staff-a"), f.unread.scopes[len(f.unread.scopes)-1])
}

func TestReconciler_InvalidIdentityReturnsLastCount(t *testing.T) {
	f := newReconcilerFixture()
	count := f.reconciler.GetUnreadCount(context.Background(), entities.Identity{UserID: "u", Scope: entities.Scope{Role: entities.RoleOwner}})
	assert.Equal(t, 0, count)
	assert.ErrorIs(t, f.reconciler.LastError(), entities.ErrInvalidScope)
	assert.Equal(t, 0, f.unread.callCount())
}

func TestReconciler_CancelledFetchKeepsCount(t *testing.T) {
	f := newReconcilerFixture()
	f.unread.set(3, nil)
	f.reconciler.GetUnreadCount(context.Background(), ownerIdentity)

	f.unread.mu.Lock()
	f.unread.gate = make(chan fetchReply)
	f.unread.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 3, f.reconciler.Refresh(ctx))
	assert.Equal(t, entities.FailureCancelled, entities.Classify(f.reconciler.LastError()))
}

func TestReconciler_ConvergesUnderConcurrentTriggers(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()
	f.reconciler.GetUnreadCount(ctx, ownerIdentity)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			f.reconciler.ApplyLiveEvent(ctx, insertEvent(fmt.Sprintf("appt-%d", i%5), "salon-1", "", f.clock.Now().Add(time.Second)))
		}(i)
		go func() {
			defer wg.Done()
			f.reconciler.Refresh(ctx)
		}()
	}
	wg.Wait()

	f.unread.set(5, nil)
	assert.Equal(t, 5, f.reconciler.Refresh(ctx))
	assert.Equal(t, 5, f.badge.current())
	last, ok := f.reconciler.badge.LastRendered()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}
