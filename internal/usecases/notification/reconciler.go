package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/treservi/notify-engine/internal/domain/entities"
	domainservices "github.com/treservi/notify-engine/internal/domain/services"
	"github.com/treservi/notify-engine/internal/usecases/ports/repositories"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// ReconcilerConfig tunes the dedup set
type ReconcilerConfig struct {
	SeenCapacity int
	SeenWindow   time.Duration
}

// Reconciler owns the unread count of one session.
//
// Authoritative fetches are ordered by the sequence number they were issued with, not by
// completion order. Mark-all-read and identity changes bump the epoch, which invalidates
// every fetch issued before them. A fetch that completes successfully and is still current
// replaces the local count; live events only add to it until the next such fetch.
type Reconciler struct {
	unread  repositories.UnreadRepository
	store   *LocalStateStore
	badge   *BadgeBridge
	seen    *domainservices.SeenEventSet
	logger  *slog.Logger
	metrics services.EngineMetrics
	clock   services.Clock

	// render keeps badge writes in the order of state changes
	render sync.Mutex

	mu          sync.Mutex
	identity    entities.Identity
	hasIdentity bool
	state       entities.LocalBadgeState
	epoch       uint64
	issued      uint64
	applied     uint64
	lastErr     error
	onChange    func(entities.LocalBadgeState)
}

// NewReconciler creates a reconciler without an identity
func NewReconciler(
	unread repositories.UnreadRepository,
	store *LocalStateStore,
	badge *BadgeBridge,
	config ReconcilerConfig,
	logger *slog.Logger,
	metrics services.EngineMetrics,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	if store == nil {
		store = NewLocalStateStore(nil, logger, metrics)
	}
	if badge == nil {
		badge = NewBadgeBridge(nil, logger, metrics)
	}
	return &Reconciler{
		unread:  unread,
		store:   store,
		badge:   badge,
		seen:    domainservices.NewSeenEventSet(config.SeenCapacity, config.SeenWindow),
		logger:  logger.With("component", "reconciler"),
		metrics: metrics,
		clock:   services.SystemClock{},
	}
}

// OnChange registers a callback invoked after every applied state change
func (r *Reconciler) OnChange(fn func(entities.LocalBadgeState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// SetIdentity switches the session to identity, loading its cached state.
// In-flight fetches for the previous identity are invalidated.
func (r *Reconciler) SetIdentity(ctx context.Context, identity entities.Identity) {
	r.mu.Lock()
	if r.hasIdentity && r.identity == identity {
		r.mu.Unlock()
		return
	}
	r.identity = identity
	r.hasIdentity = true
	r.epoch++
	r.lastErr = nil
	r.seen.Clear()
	r.state = r.store.Get(identity.Key())
	r.mu.Unlock()

	r.publish(ctx)
}

// GetUnreadCount fetches the authoritative count for identity and returns the resulting count.
// On failure the last known count is returned unchanged.
func (r *Reconciler) GetUnreadCount(ctx context.Context, identity entities.Identity) int {
	if err := identity.Validate(); err != nil {
		r.mu.Lock()
		r.lastErr = err
		count := r.state.Count
		r.mu.Unlock()
		return count
	}
	r.SetIdentity(ctx, identity)
	return r.Refresh(ctx)
}

// Refresh fetches the authoritative count for the current identity
func (r *Reconciler) Refresh(ctx context.Context) int {
	r.mu.Lock()
	if !r.hasIdentity {
		r.mu.Unlock()
		return 0
	}
	r.issued++
	seq, epoch := r.issued, r.epoch
	scope, since := r.identity.Scope, r.state.LastCheckedAt
	r.mu.Unlock()

	count, err := r.fetch(ctx, scope, since)

	r.mu.Lock()
	if err != nil {
		r.lastErr = err
		current := r.state.Count
		r.mu.Unlock()
		r.metrics.FetchCompleted(false)
		if entities.Classify(err) != entities.FailureCancelled {
			r.logger.Warn("unread count fetch failed, keeping local count", "count", current, "error", err)
		}
		return current
	}
	r.metrics.FetchCompleted(true)

	if epoch != r.epoch || seq <= r.applied {
		current := r.state.Count
		r.mu.Unlock()
		r.metrics.FetchDiscarded()
		r.logger.Debug("discarding superseded fetch", "seq", seq, "applied", r.applied)
		return current
	}

	r.applied = seq
	r.lastErr = nil
	r.state = r.state.WithCount(count)
	r.store.Set(r.identity.Key(), r.state)
	r.mu.Unlock()

	r.publish(ctx)
	return count
}

// MarkAllAsRead acknowledges everything up to now
func (r *Reconciler) MarkAllAsRead(ctx context.Context) {
	r.mu.Lock()
	if !r.hasIdentity {
		r.mu.Unlock()
		return
	}
	r.epoch++
	r.seen.Clear()
	r.state = r.state.MarkedRead(r.clock.Now())
	r.store.Set(r.identity.Key(), r.state)
	r.mu.Unlock()

	r.publish(ctx)
}

// ApplyLiveEvent counts a live event at most once and reports whether it was counted
func (r *Reconciler) ApplyLiveEvent(ctx context.Context, event entities.LiveEvent) bool {
	r.mu.Lock()
	if !r.hasIdentity || !r.accepts(event) {
		r.mu.Unlock()
		return false
	}
	if !r.seen.Add(event.ID) {
		r.mu.Unlock()
		return false
	}
	r.state = r.state.WithCount(r.state.Count + 1)
	r.store.Set(r.identity.Key(), r.state)
	r.mu.Unlock()

	r.publish(ctx)
	return true
}

// Reset forgets the identity and the seen events at session teardown
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	r.hasIdentity = false
	r.identity = entities.Identity{}
	r.state = entities.LocalBadgeState{}
	r.seen.Clear()
}

// Count returns the current unread count
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Count
}

// State returns the current badge state
func (r *Reconciler) State() entities.LocalBadgeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Identity returns the current identity and whether one is set
func (r *Reconciler) Identity() (entities.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity, r.hasIdentity
}

// LastError returns the failure of the last fetch, or nil after a successful one
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// SeenCount returns how many live events are remembered
func (r *Reconciler) SeenCount() int {
	return r.seen.Len()
}

// accepts filters events outside the scope, already acknowledged or not actionable.
// Caller must hold the lock.
func (r *Reconciler) accepts(event entities.LiveEvent) bool {
	if event.ID == "" {
		return false
	}
	if !r.identity.Scope.Matches(event.SalonID(), event.StaffID()) {
		return false
	}

	switch {
	case event.Appointment != nil:
		a := event.Appointment
		if a.Status != "" && !a.Status.IsActionable() {
			return false
		}
		if !a.CreatedAt.IsZero() && !a.CreatedAt.After(r.state.LastCheckedAt) {
			return false
		}
	case event.Payload != nil:
		p := event.Payload
		if p.UserID != "" && p.UserID != string(r.identity.UserID) {
			return false
		}
		if !p.Timestamp.IsZero() && !p.Timestamp.After(r.state.LastCheckedAt) {
			return false
		}
	default:
		return false
	}
	return true
}

func (r *Reconciler) fetch(ctx context.Context, scope entities.Scope, since time.Time) (int, error) {
	if r.unread == nil {
		return 0, fmt.Errorf("%w: no unread source configured", entities.ErrNetwork)
	}
	count, err := r.unread.CountUnread(ctx, scope, since)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return 0, fmt.Errorf("unread count: %w", context.Canceled)
		}
		return 0, fmt.Errorf("%w: unread count: %w", entities.ErrNetwork, err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// publish renders the latest state and notifies the change callback
func (r *Reconciler) publish(ctx context.Context) {
	r.render.Lock()
	defer r.render.Unlock()

	r.mu.Lock()
	state := r.state
	onChange := r.onChange
	r.mu.Unlock()

	r.badge.Render(ctx, state.Count)
	if onChange != nil {
		onChange(state)
	}
}
