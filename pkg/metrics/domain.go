package metrics

import "github.com/prometheus/client_golang/prometheus"

// DomainMetrics counts lifecycle and quota outcomes across the platform.
type DomainMetrics struct {
	orderTransitions *prometheus.CounterVec
	quotaChecks      *prometheus.CounterVec
}

// NewDomainMetrics registers the domain counters on the provided registerer.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions by source and target status.",
	}, []string{"from", "to"})
	quota := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quota_checks_total",
		Help: "Quota check outcomes by metric.",
	}, []string{"metric", "outcome"})
	reg.MustRegister(transitions, quota)
	return &DomainMetrics{
		orderTransitions: transitions,
		quotaChecks:      quota,
	}
}

// IncOrderTransition records a completed order status transition.
func (d *DomainMetrics) IncOrderTransition(from, to string) {
	if d == nil || d.orderTransitions == nil {
		return
	}
	d.orderTransitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncQuotaAllowed records a quota check that passed.
func (d *DomainMetrics) IncQuotaAllowed(metric string) {
	if d == nil || d.quotaChecks == nil {
		return
	}
	d.quotaChecks.WithLabelValues(normalizeLabel(metric), "allowed").Inc()
}

// IncQuotaDenied records a quota check rejected at the limit.
func (d *DomainMetrics) IncQuotaDenied(metric string) {
	if d == nil || d.quotaChecks == nil {
		return
	}
	d.quotaChecks.WithLabelValues(normalizeLabel(metric), "denied").Inc()
}
