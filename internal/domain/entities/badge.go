package entities

import "time"

// LocalBadgeState is the device-owned badge cache.
// It is a fallback when the authoritative count cannot be fetched and a render cache on startup.
type LocalBadgeState struct {
	Count         int       `json:"count"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Normalize clamps the count to zero
func (s LocalBadgeState) Normalize() LocalBadgeState {
	if s.Count < 0 {
		s.Count = 0
	}
	return s
}

// WithCount returns a copy with a new count
func (s LocalBadgeState) WithCount(count int) LocalBadgeState {
	s.Count = count
	return s.Normalize()
}

// MarkedRead returns the state after acknowledging everything up to at
func (s LocalBadgeState) MarkedRead(at time.Time) LocalBadgeState {
	return LocalBadgeState{Count: 0, LastCheckedAt: at}
}
