// Package cache provides generic, thread-safe caches with built-in statistics
// and optional Prometheus metrics.
//
// Two eviction policies are offered:
//   - LRU: bounded by entry count, least recently used entry evicted first.
//     The parser and dataset state use it for their hash-keyed surface
//     models, meshes and fields.
//   - TTL: entries expire after a period without reads. Every successful
//     Get (and every Touch) slides the expiry forward by the full TTL, so a
//     regularly read entry never expires. The file cache is built on it.
//
// Statistics are always collected. Prometheus export is enabled per cache
// with WithMetrics:
//
//	files, err := cache.NewTTL[Entry](ctx, 60*time.Second, time.Second,
//		cache.WithMetrics[Entry](registry, "filecache"),
//		cache.WithEvictionCallback[Entry](func(key string, e Entry) {
//			logger.Debug("evicted", "key", key)
//		}))
//
// Eviction callbacks always run outside the cache lock, so they may call back
// into the cache.
package cache
