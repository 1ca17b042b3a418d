package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	ingested    *prometheus.CounterVec
	assignments *prometheus.CounterVec
	dealsOpened prometheus.Counter
	failOpen    prometheus.Counter
}

// Ingestion outcomes recorded on the ingested counter.
const (
	outcomeCommitted = "committed"
	outcomeDuplicate = "duplicate"
	outcomeUnrouted  = "unrouted"
	outcomeError     = "error"
)

// NewMetrics registers the ingestion collectors. Pass nil to keep the
// collectors unregistered (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_ingest_messages_total",
				Help: "Inbound messages handled, by outcome.",
			},
			[]string{"outcome"},
		),
		assignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapdesk_assignments_total",
				Help: "Agent assignments made, by mode.",
			},
			[]string{"mode"},
		),
		dealsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapdesk_deals_opened_total",
			Help: "New deals created by the funnel synchronizer.",
		}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zapdesk_dedup_failopen_total",
			Help: "Dedup lookups that failed open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ingested, m.assignments, m.dealsOpened, m.failOpen)
	}
	return m
}

func (m *Metrics) observeIngest(outcome string) {
	if m != nil {
		m.ingested.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeAssignment(mode string) {
	if m != nil {
		m.assignments.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) observeDealOpened() {
	if m != nil {
		m.dealsOpened.Inc()
	}
}

func (m *Metrics) observeFailOpen() {
	if m != nil {
		m.failOpen.Inc()
	}
}
