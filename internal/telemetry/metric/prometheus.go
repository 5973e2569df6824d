// Package metric provides Prometheus metrics for the relay.
//
// It exposes metrics in Prometheus format for monitoring request
// rates, latencies, storage growth, and system health.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application-level metrics shared across the HTTP
// surface and storage engine. Relay actor metrics live with the relay
// package; this registry carries the cross-cutting instruments.
type Registry struct {
	// Request metrics
	RequestsTotal   CounterVec
	RequestDuration HistogramVec

	// Storage metrics
	WALSize      Gauge
	SnapshotSize Gauge

	// Cluster metrics
	ClusterRelays Gauge

	prom *prometheus.Registry
}

// Counter is a cumulative metric that only increases.
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is a Counter with labels.
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// Histogram samples observations and counts them in buckets.
type Histogram interface {
	Observe(float64)
}

// HistogramVec is a Histogram with labels.
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

type counterVec struct{ *prometheus.CounterVec }

func (v counterVec) WithLabelValues(lvs ...string) Counter {
	return v.CounterVec.WithLabelValues(lvs...)
}

type histogramVec struct{ *prometheus.HistogramVec }

func (v histogramVec) WithLabelValues(lvs ...string) Histogram {
	return v.HistogramVec.WithLabelValues(lvs...)
}

// NewRegistry creates the application metrics, registered on prom (a
// nil prom registers nothing, for tests).
func NewRegistry(prom *prometheus.Registry) *Registry {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diaryx",
		Name:      "requests_total",
		Help:      "HTTP requests by method, path, and status.",
	}, []string{"method", "path", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "diaryx",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	walSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diaryx",
		Name:      "wal_size_bytes",
		Help:      "Total WAL segment bytes on disk.",
	})

	snapshotSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diaryx",
		Name:      "snapshot_size_bytes",
		Help:      "Latest durable snapshot size.",
	})

	clusterRelays := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diaryx",
		Name:      "cluster_relays",
		Help:      "Known relays in the gossip cluster.",
	})

	if prom != nil {
		prom.MustRegister(requests, duration, walSize, snapshotSize, clusterRelays)
	}

	return &Registry{
		RequestsTotal:   counterVec{requests},
		RequestDuration: histogramVec{duration},
		WALSize:         walSize,
		SnapshotSize:    snapshotSize,
		ClusterRelays:   clusterRelays,
		prom:            prom,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r.prom == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
