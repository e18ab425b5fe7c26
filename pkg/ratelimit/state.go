// Package ratelimit implements the process-wide call gate shared by every
// worker. A single Limiter serializes grants so that, regardless of how many
// goroutines call Acquire, no two calls start closer together than the
// configured minimum interval.
package ratelimit

import (
	"time"
)

// SecondsPerMinute converts a per-minute budget into an interval.
const SecondsPerMinute = 60

// State is a point-in-time view of the limiter.
type State struct {
	// LastGrant is the start time handed to the most recent caller.
	// Zero until the first grant.
	LastGrant time.Time `json:"last_grant"`

	// MinInterval is the minimum spacing between two grants.
	MinInterval time.Duration `json:"min_interval"`

	// Grants is the number of calls released so far.
	Grants int64 `json:"grants"`

	// TotalWait is the cumulative time callers spent blocked in Acquire.
	TotalWait time.Duration `json:"total_wait"`
}

// NextGrant returns the earliest time the next caller may start.
func (s *State) NextGrant() time.Time {
	if s.LastGrant.IsZero() {
		return time.Time{}
	}
	return s.LastGrant.Add(s.MinInterval)
}

// TimeUntilNextGrant returns how long a caller arriving at now would wait.
// Returns 0 if a call could start immediately.
func (s *State) TimeUntilNextGrant(now time.Time) time.Duration {
	next := s.NextGrant()
	if next.IsZero() {
		return 0
	}
	wait := next.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// AverageWait returns the mean time a caller spent waiting per grant.
func (s *State) AverageWait() time.Duration {
	if s.Grants == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Grants)
}

// IntervalFor converts a per-minute budget into the minimum spacing between
// calls. A non-positive budget disables limiting and yields 0.
func IntervalFor(maxPerMinute int) time.Duration {
	if maxPerMinute <= 0 {
		return 0
	}
	return time.Duration(SecondsPerMinute) * time.Second / time.Duration(maxPerMinute)
}
