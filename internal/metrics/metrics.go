package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Submissions   prometheus.Counter
	Verifications *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Welcomes      prometheus.Counter
	AuditEvents   *prometheus.CounterVec
	Panics        *prometheus.CounterVec
}

func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "verifybot_submissions_total",
			Help: "verification submissions forwarded to staff",
		}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifybot_verifications_total",
			Help: "resolved verifications by outcome",
		}, []string{"outcome"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifybot_button_rejections_total",
			Help: "verification clicks refused before any mutation",
		}, []string{"reason"}),
		Welcomes: factory.NewCounter(prometheus.CounterOpts{
			Name: "verifybot_welcomes_posted_total",
			Help: "welcome messages posted",
		}),
		AuditEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifybot_audit_events_total",
			Help: "audit events by level and event",
		}, []string{"level", "event"}),
		Panics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verifybot_handler_panics_total",
			Help: "recovered handler panics",
		}, []string{"handler"}),
	}
}

func (m *Metrics) Submission() {
	if m == nil {
		return
	}
	m.Submissions.Inc()
}

func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Welcome() {
	if m == nil {
		return
	}
	m.Welcomes.Inc()
}

func (m *Metrics) Audit(level, event string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(level, event).Inc()
}

func (m *Metrics) Panic(handler string) {
	if m == nil {
		return
	}
	m.Panics.WithLabelValues(handler).Inc()
}
