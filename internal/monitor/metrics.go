package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts monitor activity. A nil *Metrics records nothing.
type Metrics struct {
	alerts     prometheus.Counter
	deployRuns *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_alerts_total",
			Help: "Trial expiry alerts sent.",
		}),
		deployRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_deploy_runs_total",
			Help: "Deploy pipeline outcomes.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.alerts, m.deployRuns)
	}
	return m
}

func (m *Metrics) alertSent() {
	if m != nil {
		m.alerts.Inc()
	}
}

func (m *Metrics) deployResult(result string) {
	if m != nil {
		m.deployRuns.WithLabelValues(result).Inc()
	}
}
