package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes rule lifecycle counters on a dedicated registry so tests and
// multiple engines never collide on the global default registry.
type Metrics struct {
	Registry *prometheus.Registry

	cycles         prometheus.Counter
	cycleFailures  prometheus.Counter
	alertsReceived *prometheus.CounterVec
	alertsRejected prometheus.Counter
	alertsSkipped  prometheus.Counter
	ruleChanges    *prometheus.CounterVec
	activeRules    *prometheus.GaugeVec
	lastPackets    prometheus.Gauge
}

// NewMetrics creates and registers the lifecycle metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "adaptivefw"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_cycles_total",
			Help:      "Total number of committed intake cycles",
		}),
		cycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_cycle_failures_total",
			Help:      "Intake cycles aborted by a persistence failure",
		}),
		alertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_received_total",
			Help:      "Alerts received by the intake, by kind and severity",
		}, []string{"kind", "severity"}),
		alertsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Alerts rejected for an invalid severity",
		}),
		alertsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_skipped_total",
			Help:      "Alerts skipped because they carry no source id",
		}),
		ruleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_changes_total",
			Help:      "Rule store mutations, by change kind",
		}, []string{"change_kind"}),
		activeRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rules",
			Help:      "Active rules, by action",
		}, []string{"action"}),
		lastPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulation_packets",
			Help:      "Total packets in the most recent simulated traffic batch",
		}),
	}
	reg.MustRegister(
		m.cycles, m.cycleFailures, m.alertsReceived, m.alertsRejected,
		m.alertsSkipped, m.ruleChanges, m.activeRules, m.lastPackets,
	)
	return m
}

func (m *Metrics) observeCycle(alerts []Alert, result CycleResult, store *RuleStore) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	for _, a := range alerts {
		m.alertsReceived.WithLabelValues(string(a.Kind), string(a.Severity)).Inc()
	}
	m.alertsRejected.Add(float64(len(result.Rejected)))
	m.alertsSkipped.Add(float64(result.Skipped))
	m.observeEntries(result.Entries)
	m.observeStore(store)
}

func (m *Metrics) observeEntries(entries []AuditEntry) {
	if m == nil {
		return
	}
	for _, e := range entries {
		m.ruleChanges.WithLabelValues(string(e.Kind)).Inc()
	}
}

func (m *Metrics) observeStore(store *RuleStore) {
	if m == nil {
		return
	}
	for _, action := range []Action{ActionBlock, ActionRateLimit, ActionAllow} {
		m.activeRules.WithLabelValues(string(action)).Set(float64(store.CountByAction(action)))
	}
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.cycleFailures.Inc()
}

// SetSimulationPackets records the packet total of the latest simulated batch.
func (m *Metrics) SetSimulationPackets(n int) {
	if m == nil {
		return
	}
	m.lastPackets.Set(float64(n))
}
