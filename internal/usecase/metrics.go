package usecase

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts relay traffic. A nil *Metrics records nothing.
type Metrics struct {
	messages     prometheus.Counter
	fallbacks    prometheus.Counter
	stepFailures *prometheus.CounterVec
}

// NewMetrics registers the relay counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Non-empty inbound messages handled by the relay.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fallback_replies_total",
			Help: "Replies that used the fallback text instead of a completion.",
		}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_step_failures_total",
			Help: "Failed relay pipeline steps by step name.",
		}, []string{"step"}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.fallbacks, m.stepFailures)
	}
	return m
}

func (m *Metrics) observe(out Outcome) {
	if m == nil || out.Skipped {
		return
	}
	m.messages.Inc()
	if out.UsedFallback {
		m.fallbacks.Inc()
	}
	for _, e := range out.Errors {
		m.stepFailures.WithLabelValues(string(e.Step)).Inc()
	}
}
