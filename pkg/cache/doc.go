// Package cache provides a Redis-backed cache for page responses.
//
// Pages are keyed by endpoint URL and request parameters, so the same page
// of the same query is served from Redis until it expires:
//
//   - Deterministic key generation (parameters sorted)
//   - TTL from Cache-Control max-age or Expires, DefaultTTL otherwise
//   - Cache-Control no-store / no-cache responses are never stored
//   - Purge drops every cached page of an endpoint
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.PageKey{
//		URL:    "https://api.example.com/items",
//		Params: url.Values{"page": {"1"}, "pagesize": {"10"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch the page, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(resp.StatusCode, resp.Header, body, cache.DefaultTTL))
//	}
//
// # Metrics
//
//   - scrolltable_cache_hits_total - Cache hits
//   - scrolltable_cache_misses_total - Cache misses
//   - scrolltable_cache_written_bytes_total - Bytes written to the cache
//   - scrolltable_cache_errors_total{operation} - Cache operation errors
package cache
