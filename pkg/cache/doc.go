// Package cache provides a Redis-backed result cache for intelligence calls.
//
// A record answered for a prompt is stored under a key derived from the
// SHA-256 of the prompt, so a rerun over the same input (for example after an
// interrupted run) can be served without calling the service again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, cache.Options{
//		Prefix: "intel",
//		TTL:    24 * time.Hour,
//		Logger: logger,
//	})
//
//	// Engine-facing API: errors are logged and reported as misses.
//	if record, ok := manager.Lookup(ctx, item); ok {
//		// use record
//	}
//	manager.Store(ctx, item, record)
//
//	// Low-level API
//	entry, err := manager.Get(ctx, cache.KeyFor("intel", item.Prompt))
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// not cached
//	}
//
// A cache hit does not pass through the rate limiter: no call is made.
//
// # Metrics
//
//   - intel_cache_hits_total - Cache hits
//   - intel_cache_misses_total - Cache misses
//   - intel_cache_errors_total{operation} - Cache operation errors
package cache
