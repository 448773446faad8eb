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
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/schedule"
)

const (
	// DefaultRecentLimit is how many live notifications a session keeps for toasts
	DefaultRecentLimit = 10
	// DefaultRefreshSchedule is the periodic reconciliation schedule
	DefaultRefreshSchedule = "@every 1m"
)

// DefaultVibratePattern is played with a new appointment
var DefaultVibratePattern = []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// SessionConfig holds session tuning
type SessionConfig struct {
	RefreshSchedule string
	RecentLimit     int
	VibratePattern  []time.Duration
	FetchTimeout    time.Duration
}

// Snapshot is what UI surfaces render
type Snapshot struct {
	UserID          entities.UserID                 `json:"user_id,omitempty"`
	Scope           entities.Scope                  `json:"scope"`
	Count           int                             `json:"count"`
	LastCheckedAt   time.Time                       `json:"last_checked_at"`
	NextRefreshAt   *time.Time                      `json:"next_refresh_at,omitempty"`
	Capability      entities.NotificationCapability `json:"capability"`
	SetupMessage    string                          `json:"setup_message"`
	Status          entities.SubscriptionStatus     `json:"status"`
	Error           string                          `json:"error,omitempty"`
	ErrorKind       entities.FailureKind            `json:"error_kind,omitempty"`
	StorageDegraded bool                            `json:"storage_degraded"`
	LiveFeedActive  bool                            `json:"live_feed_active"`
	Recent          []entities.NotificationPayload  `json:"recent"`
	BadgeSupported  bool                            `json:"badge_supported"`
	GeneratedAt     time.Time                       `json:"generated_at"`
}

// Session is the device-side engine of one signed-in user.
// Every trigger (start, live events, reconnects, refreshes, permission grant, mark-all-read)
// may run concurrently; ordering is enforced by the reconciler.
type Session struct {
	registrar  *Registrar
	reconciler *Reconciler
	live       *LiveChannel
	badge      *BadgeBridge
	store      *LocalStateStore
	feedback   services.Feedback
	config     SessionConfig
	logger     *slog.Logger
	clock      services.Clock

	// liveMu orders feed acquisition between identity switches, retries and Stop
	liveMu sync.Mutex

	mu         sync.Mutex
	capability entities.NotificationCapability
	identity   entities.Identity
	started    bool
	scopeCtx   context.Context
	cancel     context.CancelFunc
	worker     *schedule.Worker
	recent     []entities.NotificationPayload
	watchers   map[int]chan Snapshot
	nextWatch  int
}

// SessionDeps groups the collaborators of a session
type SessionDeps struct {
	Registrar  *Registrar
	Reconciler *Reconciler
	Live       *LiveChannel
	Badge      *BadgeBridge
	Store      *LocalStateStore
	Feedback   services.Feedback
}

// NewSession creates a stopped session
func NewSession(deps SessionDeps, capability entities.NotificationCapability, config SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RecentLimit <= 0 {
		config.RecentLimit = DefaultRecentLimit
	}
	if config.RefreshSchedule == "" {
		config.RefreshSchedule = DefaultRefreshSchedule
	}
	if config.VibratePattern == nil {
		config.VibratePattern = DefaultVibratePattern
	}
	s := &Session{
		registrar:  deps.Registrar,
		reconciler: deps.Reconciler,
		live:       deps.Live,
		badge:      deps.Badge,
		store:      deps.Store,
		feedback:   deps.Feedback,
		config:     config,
		logger:     logger.With("component", "session"),
		clock:      services.SystemClock{},
		capability: capability,
		watchers:   make(map[int]chan Snapshot),
	}
	s.reconciler.OnChange(func(entities.LocalBadgeState) { s.broadcast() })
	return s
}

// Start binds the session to identity, opens the live feed, syncs the subscription status,
// performs the initial fetch and starts periodic reconciliation.
func (s *Session) Start(ctx context.Context, identity entities.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s.SetIdentity(ctx, identity)
	}
	s.started = true
	s.mu.Unlock()

	worker, err := schedule.NewWorker(schedule.WorkerConfig{
		Name:     "reconcile",
		CronExpr: s.config.RefreshSchedule,
		Timeout:  s.config.FetchTimeout,
	}, func(jobCtx context.Context) { s.Refresh(jobCtx) }, s.logger)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("invalid refresh schedule: %w", err)
	}

	if err := s.SetIdentity(ctx, identity); err != nil {
		s.logger.Warn("live feed unavailable, relying on periodic reconciliation", "error", err)
	}

	if err := worker.Start(context.Background()); err != nil {
		return err
	}
	s.mu.Lock()
	s.worker = worker
	s.mu.Unlock()

	s.logger.Info("session started", "user_id", identity.UserID, "scope", identity.Scope.Key(), "strategy", s.Capability().Strategy)
	return nil
}

// SetIdentity switches the user or scope. In-flight work of the previous scope is cancelled,
// its feed handle closed and the new scope fetched.
func (s *Session) SetIdentity(ctx context.Context, identity entities.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cancel != nil && s.identity == identity {
		s.mu.Unlock()
		if key, ok := s.live.Active(); ok && key == identity.Key() {
			return nil
		}
		err := s.acquireLive(ctx)
		s.refresh(ctx)
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.scopeCtx, s.cancel = context.WithCancel(context.Background())
	s.identity = identity
	s.recent = nil
	s.mu.Unlock()

	s.reconciler.SetIdentity(ctx, identity)
	s.registrar.Sync(ctx, identity.UserID)

	err := s.acquireLive(ctx)

	s.refresh(ctx)
	return err
}

// Refresh runs an authoritative fetch and returns the resulting count. A live feed that
// could not be opened earlier is retried first.
// The fetch is cancelled when ctx ends or the identity changes.
func (s *Session) Refresh(ctx context.Context) int {
	s.retryLive(ctx)
	return s.refresh(ctx)
}

// acquireLive opens the feed for the current identity; a held handle for it is kept
func (s *Session) acquireLive(ctx context.Context) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()

	s.mu.Lock()
	identity := s.identity
	bound := s.cancel != nil
	s.mu.Unlock()
	if !bound {
		return nil
	}

	return s.live.Acquire(ctx, identity, services.FeedListener{
		OnEvent:     s.handleEvent,
		OnReconnect: s.handleReconnect,
	})
}

// retryLive reopens the live feed after a failed acquire
func (s *Session) retryLive(ctx context.Context) {
	if _, ok := s.live.Active(); ok {
		return
	}
	if err := s.acquireLive(ctx); err != nil {
		s.logger.Debug("live feed still unavailable", "error", err)
		return
	}
	if _, ok := s.live.Active(); ok {
		s.logger.Info("live feed restored")
		s.broadcast()
	}
}

func (s *Session) refresh(ctx context.Context) int {
	fetchCtx, cancel := s.scoped(ctx)
	defer cancel()
	if s.config.FetchTimeout > 0 {
		var timeoutCancel context.CancelFunc
		fetchCtx, timeoutCancel = context.WithTimeout(fetchCtx, s.config.FetchTimeout)
		defer timeoutCancel()
	}
	return s.reconciler.Refresh(fetchCtx)
}

// MarkAllAsRead acknowledges every unread appointment on this device
func (s *Session) MarkAllAsRead(ctx context.Context) {
	s.reconciler.MarkAllAsRead(ctx)
	s.mu.Lock()
	s.recent = nil
	s.mu.Unlock()
	s.broadcast()
}

// EnableNotifications subscribes the device to web push
func (s *Session) EnableNotifications(ctx context.Context) bool {
	s.mu.Lock()
	userID := s.identity.UserID
	s.mu.Unlock()

	ok := s.registrar.Subscribe(ctx, userID)
	if ok {
		s.Refresh(ctx)
	}
	s.broadcast()
	return ok
}

// DisableNotifications unsubscribes the device from web push
func (s *Session) DisableNotifications(ctx context.Context) bool {
	ok := s.registrar.Unsubscribe(ctx)
	s.broadcast()
	return ok
}

// OnPermissionGranted handles a grant observed outside the prompt, e.g. from system settings
func (s *Session) OnPermissionGranted(ctx context.Context) bool {
	s.registrar.OnPermissionChange(entities.PermissionGranted)
	return s.EnableNotifications(ctx)
}

// OnPermissionChange applies any other observed permission change
func (s *Session) OnPermissionChange(ctx context.Context, permission entities.Permission) {
	if permission == entities.PermissionGranted {
		s.OnPermissionGranted(ctx)
		return
	}
	s.registrar.OnPermissionChange(permission)
	s.broadcast()
}

// OnAppShellUpdate re-registers the push channel after the background worker was replaced
func (s *Session) OnAppShellUpdate(ctx context.Context) bool {
	ok := s.registrar.Resync(ctx)
	s.broadcast()
	return ok
}

// HandlePush processes a push message delivered to the background context of this device.
// Both message types trigger a reconciliation; the count carried by a badge update belongs
// to another device's read state and is never rendered here.
func (s *Session) HandlePush(ctx context.Context, message *entities.PushMessage) error {
	if message == nil {
		return errors.New("push message cannot be nil")
	}
	switch message.Type {
	case entities.PushMessageBadge:
		if message.BadgeCount == nil {
			return errors.New("badge update without count")
		}
		s.logger.Debug("badge update", "remote_count", *message.BadgeCount)
		go s.Refresh(context.Background())
	case entities.PushMessageAppointment:
		s.logger.Info("notification", "title", message.Title, "body", message.Body)
		s.playFeedback(ctx)
		go s.Refresh(context.Background())
	default:
		return fmt.Errorf("unknown push message type %q", message.Type)
	}
	return nil
}

// UpdateDevice re-runs capability detection after an install-state change
func (s *Session) UpdateDevice(ctx context.Context, probe entities.DeviceProbe) entities.NotificationCapability {
	capability := domainservices.DetectCapability(probe)

	s.mu.Lock()
	s.capability = capability
	userID := s.identity.UserID
	s.mu.Unlock()

	s.registrar.UpdateCapability(capability)
	s.registrar.Sync(ctx, userID)
	s.broadcast()
	return capability
}

// Stop releases the live feed, stops periodic work and forgets the seen events
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	worker := s.worker
	s.worker = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.identity = entities.Identity{}
	s.recent = nil
	watchers := s.watchers
	s.watchers = make(map[int]chan Snapshot)
	s.mu.Unlock()

	if worker != nil {
		worker.Stop()
	}
	s.liveMu.Lock()
	s.live.Release()
	s.liveMu.Unlock()
	s.reconciler.Reset()

	for _, ch := range watchers {
		close(ch)
	}
	s.logger.Info("session stopped")
}

// Count returns the current unread count
func (s *Session) Count() int {
	return s.reconciler.Count()
}

// Capability returns the device capability
func (s *Session) Capability() entities.NotificationCapability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capability
}

// Recent returns the latest live notifications, newest first
func (s *Session) Recent() []entities.NotificationPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entities.NotificationPayload, len(s.recent))
	copy(out, s.recent)
	return out
}

// Snapshot returns the state UI surfaces render
func (s *Session) Snapshot() Snapshot {
	state := s.reconciler.State()
	_, liveActive := s.live.Active()

	s.mu.Lock()
	identity := s.identity
	capability := s.capability
	recent := make([]entities.NotificationPayload, len(s.recent))
	copy(recent, s.recent)
	worker := s.worker
	s.mu.Unlock()

	snap := Snapshot{
		UserID:         identity.UserID,
		Scope:          identity.Scope,
		Count:          state.Count,
		LastCheckedAt:  state.LastCheckedAt,
		Capability:     capability,
		SetupMessage:   domainservices.SetupMessage(capability),
		Status:         s.registrar.Status(),
		LiveFeedActive: liveActive,
		Recent:         recent,
		BadgeSupported: s.badge != nil && s.badge.Supported(),
		GeneratedAt:    s.clock.Now(),
	}
	if s.store != nil {
		snap.StorageDegraded = s.store.Degraded()
	}
	if worker != nil {
		if next := worker.NextRun(); !next.IsZero() {
			snap.NextRefreshAt = &next
		}
	}

	err := s.registrar.LastError()
	if err == nil {
		err = s.reconciler.LastError()
	}
	if err == nil && s.store != nil {
		err = s.store.LastError()
	}
	if err != nil {
		snap.Error = err.Error()
		snap.ErrorKind = entities.Classify(err)
	}
	return snap
}

// Watch streams snapshots after every change. The returned function unregisters the watcher.
// Slow watchers miss intermediate snapshots rather than block the session.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- s.Snapshot()

	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(existing)
		}
	}
}

// handleEvent is the live feed callback
func (s *Session) handleEvent(event entities.LiveEvent) {
	ctx, cancel := s.scoped(context.Background())
	defer cancel()

	if !s.reconciler.ApplyLiveEvent(ctx, event) {
		return
	}

	if payload := s.payloadFor(event); payload != nil {
		s.mu.Lock()
		s.recent = append([]entities.NotificationPayload{*payload}, s.recent...)
		if len(s.recent) > s.config.RecentLimit {
			s.recent = s.recent[:s.config.RecentLimit]
		}
		s.mu.Unlock()
		s.broadcast()
	}

	s.playFeedback(ctx)
}

// handleReconnect forces a reconciliation after the feed reconnected
func (s *Session) handleReconnect() {
	s.logger.Info("live feed reconnected, reconciling")
	go s.Refresh(context.Background())
}

func (s *Session) payloadFor(event entities.LiveEvent) *entities.NotificationPayload {
	if event.Payload != nil {
		return event.Payload
	}
	if event.Appointment != nil {
		s.mu.Lock()
		userID := s.identity.UserID
		s.mu.Unlock()
		return entities.NewAppointmentPayload(event.Appointment, userID, s.clock.Now())
	}
	return nil
}

// playFeedback triggers sound and vibration; failures are swallowed
func (s *Session) playFeedback(ctx context.Context) {
	if s.feedback == nil {
		return
	}
	if err := s.feedback.PlaySound(ctx); err != nil {
		s.logger.Debug("sound playback failed", "error", err)
	}
	if err := s.feedback.Vibrate(ctx, s.config.VibratePattern); err != nil {
		s.logger.Debug("vibration failed", "error", err)
	}
}

// scoped derives a context that ends with ctx or with the current identity scope
func (s *Session) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	scopeCtx := s.scopeCtx
	s.mu.Unlock()

	out, cancel := context.WithCancel(ctx)
	if scopeCtx == nil {
		return out, cancel
	}
	stop := context.AfterFunc(scopeCtx, cancel)
	return out, func() {
		stop()
		cancel()
	}
}

// broadcast sends the current snapshot to every watcher without blocking
func (s *Session) broadcast() {
	snap := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
