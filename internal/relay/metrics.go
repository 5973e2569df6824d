package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus instruments.
type Metrics struct {
	SessionsConnected prometheus.Gauge
	UpdatesAppended   prometheus.Counter
	UpdatesBroadcast  prometheus.Counter
	BacklogCloses     prometheus.Counter
	ActorsActive      prometheus.Gauge
}

// NewMetrics creates and registers the relay metrics. A nil registry
// leaves them unregistered (tests).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diaryx",
			Subsystem: "relay",
			Name:      "sessions_connected",
			Help:      "Currently connected sync sessions.",
		}),
		UpdatesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diaryx",
			Subsystem: "relay",
			Name:      "updates_appended_total",
			Help:      "Causal log entries durably appended.",
		}),
		UpdatesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diaryx",
			Subsystem: "relay",
			Name:      "updates_broadcast_total",
			Help:      "Update frames fanned out to sessions.",
		}),
		BacklogCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diaryx",
			Subsystem: "relay",
			Name:      "backlog_closes_total",
			Help:      "Sessions closed for exceeding their outbound backlog.",
		}),
		ActorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "diaryx",
			Subsystem: "relay",
			Name:      "actors_active",
			Help:      "Workspace actors currently running.",
		}),
	}
	if registry != nil {
		registry.MustRegister(
			m.SessionsConnected,
			m.UpdatesAppended,
			m.UpdatesBroadcast,
			m.BacklogCloses,
			m.ActorsActive,
		)
	}
	return m
}
