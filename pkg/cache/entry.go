package cache

import (
	"time"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

// Entry represents a cached intelligence record.
type Entry struct {
	// Prompt is kept to detect hash collisions.
	Prompt string `json:"prompt"`

	// Record is the structured answer.
	Record work.Record `json:"record"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the record was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
