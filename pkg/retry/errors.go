package retry

import (
	"errors"
)

// Common errors returned by the executor.
var (
	// ErrRetriesExhausted is returned when every attempt failed. The returned
	// error also wraps the last underlying failure.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrContextCancelled is returned when the context is done while waiting
	// for a rate limit slot or a backoff window.
	ErrContextCancelled = errors.New("context cancelled")
)

// IsExhausted reports whether err is a terminal retry failure.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
