// Package metric provides Prometheus metrics for the relay.
package metric

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector reports process-level runtime stats the default Go
// collector doesn't label the way our dashboards expect.
type Collector struct {
	goroutines *prometheus.Desc
	heapBytes  *prometheus.Desc
}

// NewCollector creates the runtime stats collector.
func NewCollector() *Collector {
	return &Collector{
		goroutines: prometheus.NewDesc(
			"diaryx_goroutines",
			"Current goroutine count.",
			nil, nil),
		heapBytes: prometheus.NewDesc(
			"diaryx_heap_alloc_bytes",
			"Bytes of allocated heap objects.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.goroutines
	ch <- c.heapBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	ch <- prometheus.MustNewConstMetric(c.heapBytes, prometheus.GaugeValue, float64(ms.HeapAlloc))
}
