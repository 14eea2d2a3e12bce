// Package metrics exposes the Prometheus instruments for call admission and
// the deferred call queue. Instruments are carried on a struct and injected
// so tests can run with a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	CallsRecorded      *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	ReplayProcessed    prometheus.Counter
	ReplayDropped      prometheus.Counter
	WindowRollovers    prometheus.Counter
	WebhookEvents      *prometheus.CounterVec
}

// New registers all instruments on reg and returns them. Pass
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gramflow_admission_decisions_total",
			Help: "Admission decisions by outcome and scope that produced them.",
		}, []string{"outcome", "scope"}),
		CallsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gramflow_calls_recorded_total",
			Help: "Meta API calls charged against the window, by tier.",
		}, []string{"tier"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gramflow_deferred_queue_depth",
			Help: "Deferred calls currently waiting for replay.",
		}),
		ReplayProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gramflow_replay_processed_total",
			Help: "Deferred calls successfully replayed.",
		}),
		ReplayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gramflow_replay_dropped_total",
			Help: "Deferred calls dropped after exhausting replay attempts.",
		}),
		WindowRollovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gramflow_window_rollovers_total",
			Help: "Completed rate window archives.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gramflow_webhook_events_total",
			Help: "Instagram webhook events received, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.AdmissionDecisions,
		m.CallsRecorded,
		m.QueueDepth,
		m.ReplayProcessed,
		m.ReplayDropped,
		m.WindowRollovers,
		m.WebhookEvents,
	)
	return m
}

// Decision outcome and scope label values.
const (
	OutcomeAdmitted = "admitted"
	OutcomeDenied   = "denied"
	OutcomeQueued   = "queued"
	OutcomeDropped  = "dropped"

	ScopeGlobal = "global"
	ScopeTenant = "tenant"
	ScopeLedger = "ledger"
)
