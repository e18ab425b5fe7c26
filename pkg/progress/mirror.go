package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counts is the progress view published to a Mirror.
type Counts struct {
	Total       int
	Succeeded   int
	Failed      int
	BatchesDone int
	Phase       string
}

// Mirror receives progress counts so a long run can be watched from outside
// the process.
type Mirror interface {
	Publish(ctx context.Context, counts Counts) error
}

// DefaultKeyPrefix prefixes mirror keys when none is configured.
const DefaultKeyPrefix = "intel"

// RedisMirror writes counts into one Redis hash per run.
type RedisMirror struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisMirror creates a mirror writing to <prefix>:run:<runID>. A positive
// ttl is refreshed on every publish.
func NewRedisMirror(redisClient *redis.Client, prefix, runID string, ttl time.Duration) *RedisMirror {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisMirror{
		redis: redisClient,
		key:   fmt.Sprintf("%s:run:%s", prefix, runID),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Key returns the Redis key of the run hash.
func (m *RedisMirror) Key() string {
	return m.key
}

// Publish overwrites the run hash in a single pipeline.
func (m *RedisMirror) Publish(ctx context.Context, counts Counts) error {
	pipe := m.redis.Pipeline()
	pipe.HSet(ctx, m.key, map[string]any{
		"total":        counts.Total,
		"succeeded":    counts.Succeeded,
		"failed":       counts.Failed,
		"batches_done": counts.BatchesDone,
		"phase":        counts.Phase,
		"updated_at":   m.now().UTC().Format(time.RFC3339),
	})
	if m.ttl > 0 {
		pipe.Expire(ctx, m.key, m.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Read returns the counts currently stored for the run.
func (m *RedisMirror) Read(ctx context.Context) (Counts, error) {
	var raw struct {
		Total       int    `redis:"total"`
		Succeeded   int    `redis:"succeeded"`
		Failed      int    `redis:"failed"`
		BatchesDone int    `redis:"batches_done"`
		Phase       string `redis:"phase"`
	}
	if err := m.redis.HGetAll(ctx, m.key).Scan(&raw); err != nil {
		return Counts{}, fmt.Errorf("redis hgetall: %w", err)
	}
	return Counts{
		Total:       raw.Total,
		Succeeded:   raw.Succeeded,
		Failed:      raw.Failed,
		BatchesDone: raw.BatchesDone,
		Phase:       raw.Phase,
	}, nil
}
