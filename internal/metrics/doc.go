// Package metrics provides real-time metrics collection for the balancer.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Accepted and rejected request counts
//   - Backend selection frequencies and forwarding failures
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Health status and FIFO queue depth
//
// The collector runs in a dedicated goroutine. Emit never blocks the request
// path: when the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Backend:    "http://localhost:4001",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot("fifo")
//
// Pending events are drained on shutdown.
package metrics
