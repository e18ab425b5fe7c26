// Package retry wraps a single fallible call with bounded exponential-backoff
// retry. Every attempt, retries included, first passes through a shared Gate
// so that retrying never bypasses the global call rate.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	callAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_call_attempts_total",
		Help: "Total number of call attempts by result",
	}, []string{"result"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intel_retries_total",
		Help: "Total number of retries scheduled after a failed attempt",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intel_retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
	})

	retriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "intel_retries_exhausted_total",
		Help: "Total number of calls that failed after exhausting all retries",
	})
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// The call is attempted at most MaxRetries+1 times.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// ExponentialBase multiplies the delay after every retry.
	// Values below 1 are treated as 1.
	ExponentialBase float64

	// Jitter scales each wait by a uniform factor in [0.5, 1.5).
	Jitter bool
}

// DefaultConfig returns the default retry configuration.
//
// Delay growth is not capped: with a large MaxRetries the final waits grow
// as InitialDelay * ExponentialBase^MaxRetries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    2 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// MaxAttempts returns the total number of attempts including the first one.
func (c Config) MaxAttempts() int {
	if c.MaxRetries < 0 {
		return 1
	}
	return c.MaxRetries + 1
}

// BaseDelay returns the un-jittered wait before the given retry (1-based).
func (c Config) BaseDelay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	base := c.ExponentialBase
	if base < 1 {
		base = 1
	}
	return time.Duration(float64(c.InitialDelay) * math.Pow(base, float64(retry-1)))
}

// Gate is the rate limiter every attempt must pass.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Executor runs operations under the retry policy and the shared gate.
// It holds no per-call state and is safe for concurrent use.
type Executor struct {
	config Config
	gate   Gate
	logger zerolog.Logger

	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. gate may be nil to disable rate limiting.
func NewExecutor(config Config, gate Gate, logger zerolog.Logger) *Executor {
	return &Executor{
		config: config,
		gate:   gate,
		logger: logger,
		jitter: func() float64 { return 0.5 + rand.Float64() },
		sleep:  sleepContext,
	}
}

// Config returns the executor's retry configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Do runs op until it succeeds or the retry budget is spent. It returns the
// value, the number of attempts made, and on terminal failure an error that
// wraps both ErrRetriesExhausted and the last failure.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	var lastErr error

	maxAttempts := e.config.MaxAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if e.gate != nil {
			if err := e.gate.Acquire(ctx); err != nil {
				return zero, attempt - 1, fmt.Errorf("%w: waiting for rate limit: %w", ErrContextCancelled, err)
			}
		}

		value, err := op(ctx)
		if err == nil {
			callAttemptsTotal.WithLabelValues("success").Inc()
			if attempt > 1 {
				e.logger.Info().
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return value, attempt, nil
		}

		callAttemptsTotal.WithLabelValues("failure").Inc()
		lastErr = err

		if attempt >= maxAttempts {
			break
		}

		delay := e.config.BaseDelay(attempt)
		if e.config.Jitter {
			delay = time.Duration(float64(delay) * e.jitter())
		}

		retriesTotal.Inc()
		retryBackoffSeconds.Observe(delay.Seconds())

		e.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_retries", e.config.MaxRetries).
			Dur("backoff", delay).
			Msg("Call failed, retrying after backoff")

		if err := e.sleep(ctx, delay); err != nil {
			e.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return zero, attempt, fmt.Errorf("%w: %w", ErrContextCancelled, lastErr)
		}
	}

	retriesExhaustedTotal.Inc()
	e.logger.Error().
		Err(lastErr).
		Int("attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return zero, maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

// Wrap composes call with the executor, producing a single callable that
// applies rate limiting and retry to every invocation.
func Wrap[In, Out any](e *Executor, call func(ctx context.Context, in In) (Out, error)) func(ctx context.Context, in In) (Out, int, error) {
	return func(ctx context.Context, in In) (Out, int, error) {
		return Do(ctx, e, func(ctx context.Context) (Out, error) {
			return call(ctx, in)
		})
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
