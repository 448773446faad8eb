package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/treservi/notify-engine/internal/domain/entities"
	"github.com/treservi/notify-engine/internal/usecases/ports/services"
	"github.com/treservi/notify-engine/pkg/storage"
)

// LocalStateStore is the device-owned badge cache.
// Storage failures are logged and recorded, never returned. After the first failure the
// store stops touching the backend and serves the rest of the session from memory.
type LocalStateStore struct {
	backend storage.Storage
	logger  *slog.Logger
	metrics services.EngineMetrics
	clock   services.Clock

	mu       sync.Mutex
	cache    map[string]entities.LocalBadgeState
	degraded bool
	lastErr  error
}

// NewLocalStateStore wraps a storage backend. A nil backend runs in memory only.
func NewLocalStateStore(backend storage.Storage, logger *slog.Logger, metrics services.EngineMetrics) *LocalStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = services.NoopMetrics{}
	}
	return &LocalStateStore{
		backend: backend,
		logger:  logger.With("component", "local_state"),
		metrics: metrics,
		clock:   services.SystemClock{},
		cache:   make(map[string]entities.LocalBadgeState),
	}
}

// Get returns the state for key, or the zero state when nothing was stored
func (s *LocalStateStore) Get(key string) entities.LocalBadgeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.cache[key]; ok {
		return state
	}
	if s.backend == nil || s.degraded {
		return entities.LocalBadgeState{}
	}

	data, err := s.backend.Load(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.fail("load", key, err)
		}
		return entities.LocalBadgeState{}
	}

	state := entities.LocalBadgeState{Count: data.Count, LastCheckedAt: data.LastCheckedAt}.Normalize()
	s.cache[key] = state
	return state
}

// Set stores the state for key
func (s *LocalStateStore) Set(key string, state entities.LocalBadgeState) {
	state = state.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = state
	if s.backend == nil || s.degraded {
		return
	}

	err := s.backend.Save(&storage.BadgeStateData{
		Key:           key,
		Count:         state.Count,
		LastCheckedAt: state.LastCheckedAt,
		UpdatedAt:     s.clock.Now(),
	})
	if err != nil {
		s.fail("save", key, err)
	}
}

// Forget drops the in-memory copy for key; the durable copy is kept
func (s *LocalStateStore) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

// Degraded reports whether durable storage was abandoned for this session
func (s *LocalStateStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// LastError returns the storage failure that degraded the store, wrapping entities.ErrStorage
func (s *LocalStateStore) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Unavailable records that the backend could not be opened; the store runs in memory
func (s *LocalStateStore) Unavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail("open", "", err)
}

// fail records a storage failure. Caller must hold the lock.
func (s *LocalStateStore) fail(op, key string, err error) {
	s.degraded = true
	s.lastErr = fmt.Errorf("%w: %s %s: %w", entities.ErrStorage, op, key, err)
	s.metrics.StorageFailure(op)
	s.logger.Warn("local state unavailable, continuing in memory", "op", op, "key", key, "error", err)
}
