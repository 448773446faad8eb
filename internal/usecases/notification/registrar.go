package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/repositories"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
)

// RegistrarConfig holds the values a registrar binds new channels to
type RegistrarConfig struct {
	VAPIDPublicKey string
	UserAgent      string
}

// Registrar owns the push subscription lifecycle of one device session.
// Public methods report success as bool; the reason of a failure is available via LastError.
type Registrar struct {
	channel services.PushChannel
	repo    repositories.SubscriptionRepository
	config  RegistrarConfig
	logger  *slog.Logger
	metrics services.EngineMetrics
	clock   services.Clock

	// op serializes lifecycle transitions; mu guards the fields below
	op         sync.Mutex
	mu         sync.Mutex
	capability entities.NotificationCapability
	status     entities.SubscriptionStatus
	lastErr    error
	denied     bool
	userID     entities.UserID
	endpoint   string
}

// NewRegistrar creates a registrar in status unknown
func NewRegistrar(
	channel services.PushChannel,
	repo repositories.SubscriptionRepository,
	capability entities.NotificationCapability,
	config RegistrarConfig,
	logger *slog.Logger,
	metrics services.EngineMetrics,
) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	return &Registrar{
		channel:    channel,
		repo:       repo,
		config:     config,
		logger:     logger.With("component", "registrar"),
		metrics:    metrics,
		clock:      services.SystemClock{},
		capability: capability,
		status:     entities.SubscriptionStatusUnknown,
	}
}

// Sync binds the registrar to userID and derives the status from the capability,
// the device permission and the open channel
func (r *Registrar) Sync(ctx context.Context, userID entities.UserID) entities.SubscriptionStatus {
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()

	if !r.Capability().IsWebPush() || r.channel == nil {
		r.setStatus(entities.SubscriptionStatusUnsupported, nil)
		return r.Status()
	}

	switch r.channel.Permission() {
	case entities.PermissionDenied:
		r.mu.Lock()
		r.denied = true
		r.mu.Unlock()
		r.setStatus(entities.SubscriptionStatusPermissionDenied, nil)
		return r.Status()
	case entities.PermissionDefault:
		r.setStatus(entities.SubscriptionStatusPermissionDefault, nil)
		return r.Status()
	}

	current, err := r.channel.Current(ctx)
	if err != nil {
		r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: read channel: %w", entities.ErrSubscription, err))
		return r.Status()
	}
	if current == nil {
		r.setStatus(entities.SubscriptionStatusUnsubscribed, nil)
		return r.Status()
	}

	r.mu.Lock()
	r.endpoint = current.Endpoint
	r.mu.Unlock()
	r.setStatus(entities.SubscriptionStatusSubscribed, nil)
	return r.Status()
}

// Subscribe requests permission if needed, opens the push channel and upserts the record.
// It never prompts on an unsupported device or after a denial.
func (r *Registrar) Subscribe(ctx context.Context, userID entities.UserID) bool {
	r.op.Lock()
	defer r.op.Unlock()

	if userID == "" {
		r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: user ID cannot be empty", entities.ErrSubscription))
		return false
	}

	capability := r.Capability()
	if !capability.IsWebPush() || r.channel == nil {
		r.setStatus(entities.SubscriptionStatusUnsupported, fmt.Errorf("%w: %s", entities.ErrUnsupported, capability.Description))
		return false
	}

	permission := r.channel.Permission()
	if permission != entities.PermissionGranted && (r.isDenied() || permission == entities.PermissionDenied) {
		r.deny()
		return false
	}

	if permission == entities.PermissionDefault {
		granted, err := r.channel.RequestPermission(ctx)
		if err != nil {
			r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: permission request: %w", entities.ErrSubscription, err))
			return false
		}
		switch granted {
		case entities.PermissionDenied:
			r.deny()
			return false
		case entities.PermissionDefault:
			r.setStatus(entities.SubscriptionStatusPermissionDefault, nil)
			return false
		}
	}

	info, err := r.channel.Open(ctx, r.config.VAPIDPublicKey)
	if err == nil {
		err = info.Validate()
	}
	if err != nil {
		r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: open channel: %w", entities.ErrSubscription, err))
		return false
	}

	if _, err := r.upsert(ctx, userID, info); err != nil {
		r.setStatus(entities.SubscriptionStatusError, err)
		return false
	}

	r.mu.Lock()
	r.userID = userID
	r.endpoint = info.Endpoint
	r.mu.Unlock()
	r.setStatus(entities.SubscriptionStatusSubscribed, nil)
	r.logger.Info("push subscription active", "user_id", userID, "endpoint", endpointHint(info.Endpoint))
	return true
}

// Unsubscribe closes the device channel and marks the server record stale on a best effort basis
func (r *Registrar) Unsubscribe(ctx context.Context) bool {
	r.op.Lock()
	defer r.op.Unlock()

	if !r.Capability().IsWebPush() || r.channel == nil {
		r.setStatus(entities.SubscriptionStatusUnsupported, nil)
		return true
	}

	endpoint := r.Endpoint()
	if current, err := r.channel.Current(ctx); err == nil && current != nil {
		endpoint = current.Endpoint
	}

	if err := r.channel.Close(ctx); err != nil {
		r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: close channel: %w", entities.ErrSubscription, err))
		return false
	}

	r.mu.Lock()
	r.endpoint = ""
	r.mu.Unlock()
	r.setStatus(entities.SubscriptionStatusUnsubscribed, nil)

	if endpoint != "" && r.repo != nil {
		if err := r.repo.MarkStale(ctx, endpoint); err != nil && !errors.Is(err, entities.ErrNotFound) {
			r.logger.Warn("failed to retire subscription record", "endpoint", endpointHint(endpoint), "error", err)
		}
	}
	return true
}

// Resync re-reads the device channel after an app-shell update or a push subscription change
// and re-upserts it. A replaced endpoint retires the old record.
func (r *Registrar) Resync(ctx context.Context) bool {
	r.op.Lock()
	defer r.op.Unlock()

	if r.Status() != entities.SubscriptionStatusSubscribed || r.channel.Permission() != entities.PermissionGranted {
		return false
	}

	info, err := r.channel.Open(ctx, r.config.VAPIDPublicKey)
	if err == nil {
		err = info.Validate()
	}
	if err != nil {
		r.setStatus(entities.SubscriptionStatusError, fmt.Errorf("%w: reopen channel: %w", entities.ErrSubscription, err))
		return false
	}

	r.mu.Lock()
	userID, previous := r.userID, r.endpoint
	r.mu.Unlock()

	if _, err := r.upsert(ctx, userID, info); err != nil {
		r.setStatus(entities.SubscriptionStatusError, err)
		return false
	}

	if previous != "" && previous != info.Endpoint {
		if err := r.repo.MarkStale(ctx, previous); err != nil && !errors.Is(err, entities.ErrNotFound) {
			r.logger.Warn("failed to retire replaced subscription", "endpoint", endpointHint(previous), "error", err)
		}
		r.logger.Info("push endpoint rotated", "user_id", userID)
	}

	r.mu.Lock()
	r.endpoint = info.Endpoint
	r.mu.Unlock()
	r.setStatus(entities.SubscriptionStatusSubscribed, nil)
	return true
}

// OnPermissionChange applies a permission change observed outside Subscribe
func (r *Registrar) OnPermissionChange(permission entities.Permission) {
	r.op.Lock()
	defer r.op.Unlock()

	if !r.Capability().IsWebPush() {
		return
	}

	switch permission {
	case entities.PermissionDenied:
		r.deny()
	case entities.PermissionGranted:
		r.mu.Lock()
		r.denied = false
		r.mu.Unlock()
		if r.Status() != entities.SubscriptionStatusSubscribed {
			r.setStatus(entities.SubscriptionStatusUnsubscribed, nil)
		}
	case entities.PermissionDefault:
		if r.Status() != entities.SubscriptionStatusSubscribed && !r.isDenied() {
			r.setStatus(entities.SubscriptionStatusPermissionDefault, nil)
		}
	}
}

// UpdateCapability swaps the capability after an install-state change
func (r *Registrar) UpdateCapability(capability entities.NotificationCapability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capability = capability
}

// Capability returns the capability the registrar works under
func (r *Registrar) Capability() entities.NotificationCapability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capability
}

// Status returns the current subscription status
func (r *Registrar) Status() entities.SubscriptionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// LastError returns the reason of the last failed transition
func (r *Registrar) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Endpoint returns the endpoint of the active subscription
func (r *Registrar) Endpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

func (r *Registrar) upsert(ctx context.Context, userID entities.UserID, info *entities.PushChannelInfo) (*entities.PushSubscriptionRecord, error) {
	if r.repo == nil {
		return nil, fmt.Errorf("%w: no subscription repository", entities.ErrSubscription)
	}
	record := entities.NewPushSubscriptionRecord(
		entities.SubscriptionID(uuid.NewString()),
		userID,
		info.Endpoint,
		info.Keys,
		r.config.UserAgent,
	)
	record.Touch(r.clock.Now())
	stored, err := r.repo.Upsert(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert: %w", entities.ErrSubscription, err)
	}
	return stored, nil
}

func (r *Registrar) isDenied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.denied
}

func (r *Registrar) deny() {
	r.mu.Lock()
	r.denied = true
	r.mu.Unlock()
	r.setStatus(entities.SubscriptionStatusPermissionDenied, entities.ErrPermissionDenied)
}

func (r *Registrar) setStatus(status entities.SubscriptionStatus, err error) {
	r.mu.Lock()
	changed := r.status != status
	r.status = status
	r.lastErr = err
	r.mu.Unlock()

	if changed {
		r.metrics.SubscriptionStatusChanged(status)
		r.logger.Debug("subscription status changed", "status", status)
	}
	if err != nil && status == entities.SubscriptionStatusError {
		r.logger.Warn("subscription transition failed", "kind", entities.Classify(err), "error", err)
	}
}

// endpointHint shortens an endpoint URL for logs
func endpointHint(endpoint string) string {
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}
