package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/intel-batch/pkg/work"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultTTL is how long records stay cached when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Options configures a Manager.
type Options struct {
	Prefix string
	TTL    time.Duration
	Logger zerolog.Logger
}

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client, opts Options) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Manager{
		redis:  redisClient,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: opts.Logger.With().Str("component", "cache").Logger(),
	}
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist, the entry is expired or it
// belongs to a different prompt.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	if strings.TrimSpace(entry.Prompt) != strings.TrimSpace(key.Prompt) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Lookup returns the cached record for the item's prompt. Any error is
// logged and reported as a miss.
func (m *Manager) Lookup(ctx context.Context, item work.Item) (work.Record, bool) {
	entry, err := m.Get(ctx, KeyFor(m.prefix, item.Prompt))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().
				Err(err).
				Str("item", item.Prompt).
				Msg("Cache lookup failed, calling service")
		}
		return nil, false
	}
	return entry.Record, true
}

// Store caches record for the item's prompt with the configured TTL.
// Failures are logged and otherwise ignored.
func (m *Manager) Store(ctx context.Context, item work.Item, record work.Record) {
	now := time.Now()
	entry := &Entry{
		Prompt:   item.Prompt,
		Record:   record,
		Expires:  now.Add(m.ttl),
		CachedAt: now,
	}

	if err := m.Set(ctx, KeyFor(m.prefix, item.Prompt), entry); err != nil {
		m.logger.Warn().
			Err(err).
			Str("item", item.Prompt).
			Msg("Failed to cache record")
	}
}
