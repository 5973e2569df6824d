// Package metric provides Prometheus metrics for the relay.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry and HTTP handler
//   - collector.go: Custom collectors for runtime statistics
//
// Metrics include:
//
//   - Request latency histograms
//   - Storage growth gauges (WAL, snapshots)
//   - Cluster membership gauges
//
// Metrics are exposed at /metrics in Prometheus format. Relay actor
// metrics (connected sessions, broadcast counters) are registered by
// the relay package on the same registry.
package metric
