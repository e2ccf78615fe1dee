// Package metrics collects proxy metrics off the request path.
//
// Handlers emit MetricEvents on a buffered channel with non-blocking sends;
// a single collector goroutine folds them into:
//   - Per-route registration, request and failure counts
//   - Per-endpoint selections, status codes and latency percentiles (P50, P95, P99)
//   - Prometheus counters and a latency histogram on a private registry
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventForwarded,
//		Route:      "/svc",
//		Endpoint:   "10.0.0.1:9001",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
//
// Requests for unregistered paths are counted as unmatched rather than per
// route, so arbitrary client paths cannot grow the tables or label sets.
// On context cancellation the collector drains pending events before exiting.
package metrics
