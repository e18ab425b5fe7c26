package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for call gating.
var (
	grantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intel_ratelimit_grants_total",
		Help: "Total number of calls released by the rate limiter",
	})

	waitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intel_ratelimit_wait_seconds",
		Help:    "Time callers spent blocked waiting for a rate limit slot",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Limiter gates calls to at most maxPerMinute across all callers.
//
// Grants are reserved under one mutex: each caller takes the slot
// max(now, lastGrant+interval) and then sleeps outside the lock until that
// slot arrives. Queued callers therefore end up spaced exactly one interval
// apart. There is no FIFO guarantee beyond the order in which callers win the
// mutex.
type Limiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastGrant   time.Time
	grants      int64
	totalWait   time.Duration

	now    func() time.Time
	logger zerolog.Logger
}

// NewLimiter creates a limiter for maxPerMinute calls. A non-positive value
// disables limiting.
func NewLimiter(maxPerMinute int, logger zerolog.Logger) *Limiter {
	return &Limiter{
		minInterval: IntervalFor(maxPerMinute),
		now:         time.Now,
		logger:      logger,
	}
}

// MinInterval returns the minimum spacing between two grants.
func (l *Limiter) MinInterval() time.Duration {
	return l.minInterval
}

// Acquire blocks until the caller may start its call. It only returns an
// error when ctx is done before the slot arrives; the reserved slot is then
// forfeited, which can only make later grants more conservative.
func (l *Limiter) Acquire(ctx context.Context) error {
	slot, wait := l.reserve()
	waitSeconds.Observe(wait.Seconds())

	if wait > 0 {
		l.logger.Debug().
			Dur("wait", wait).
			Time("slot", slot).
			Msg("Rate limit slot reserved, waiting")

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	grantsTotal.Inc()
	return nil
}

// reserve claims the next free slot and returns it with the time to wait.
func (l *Limiter) reserve() (time.Time, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	slot := now
	if !l.lastGrant.IsZero() && l.minInterval > 0 {
		if next := l.lastGrant.Add(l.minInterval); next.After(now) {
			slot = next
		}
	}

	wait := slot.Sub(now)
	l.lastGrant = slot
	l.grants++
	l.totalWait += wait

	return slot, wait
}

// State returns a copy of the limiter's current state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return State{
		LastGrant:   l.lastGrant,
		MinInterval: l.minInterval,
		Grants:      l.grants,
		TotalWait:   l.totalWait,
	}
}
