package services

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSeenEventCapacity = 1024
	DefaultSeenEventWindow   = 10 * time.Minute
)

// SeenEventSet remembers which live events were already counted.
// Entries are evicted once they are older than the reconciliation window or when the
// capacity is exceeded (least recently seen first); by then a reconciliation has
// replaced whatever delta they contributed.
type SeenEventSet struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
}

// NewSeenEventSet creates a bounded set. Non-positive arguments fall back to defaults.
func NewSeenEventSet(capacity int, window time.Duration) *SeenEventSet {
	if capacity <= 0 {
		capacity = DefaultSeenEventCapacity
	}
	if window <= 0 {
		window = DefaultSeenEventWindow
	}
	return &SeenEventSet{
		cache: expirable.NewLRU[string, time.Time](capacity, nil, window),
	}
}

// Add records id and reports whether it was new
func (s *SeenEventSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache.Peek(id); ok {
		return false
	}
	s.cache.Add(id, time.Now())
	return true
}

// Contains reports whether id was seen inside the window
func (s *SeenEventSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.cache.Peek(id)
	return ok
}

// Len returns the number of tracked ids
func (s *SeenEventSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Clear forgets every id
func (s *SeenEventSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
