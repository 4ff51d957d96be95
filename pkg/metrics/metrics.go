// Package metrics exposes the Prometheus metrics of the scroll table
// packages. The metrics themselves are declared with promauto next to the
// code that updates them (scrolltable, transport, cache, ratelimit).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registry every package registers into via promauto.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics of Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Engine Metrics (pkg/scrolltable):
//   - scrolltable_loads_total{outcome} (Counter): success, empty, error, stale, suppressed
//   - scrolltable_records_total{op} (Counter): append, prepend, remove
//   - scrolltable_trigger_checks_total{result} (Counter): fired, below_fold, hidden
//
// Request Metrics (pkg/transport):
//   - scrolltable_requests_total{status} (Counter): HTTP status, cached, rate_limited, network_error
//   - scrolltable_request_duration_seconds (Histogram): page fetch duration
//   - scrolltable_fetch_errors_total{class} (Counter): client, server, rate_limit, network, decode
//   - scrolltable_retries_total{error_class} (Counter)
//   - scrolltable_retry_backoff_seconds{error_class} (Histogram)
//   - scrolltable_retry_exhausted_total{error_class} (Counter)
//
// Cache Metrics (pkg/cache):
//   - scrolltable_cache_hits_total (Counter)
//   - scrolltable_cache_misses_total (Counter)
//   - scrolltable_cache_written_bytes_total (Counter)
//   - scrolltable_cache_errors_total{operation} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scrolltable_ratelimit_remaining{scope} (Gauge)
//   - scrolltable_ratelimit_blocks_total{scope} (Counter)
//   - scrolltable_ratelimit_throttles_total{scope} (Counter)
//
// Prefetch Metrics (pkg/pagination):
//   - scrolltable_prefetch_pages_total{result} (Counter): fetched, failed
//
// Example Prometheus Queries:
//
//   # Failed load ratio
//   sum(rate(scrolltable_loads_total{outcome="error"}[5m])) /
//   sum(rate(scrolltable_loads_total[5m]))
//
//   # Cache Hit Rate
//   sum(rate(scrolltable_cache_hits_total[5m])) /
//   (sum(rate(scrolltable_cache_hits_total[5m])) + sum(rate(scrolltable_cache_misses_total[5m])))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(scrolltable_request_duration_seconds_bucket[5m]))
