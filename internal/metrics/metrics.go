package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted    prometheus.Counter
	StepTransitions    *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	WalletPayments     *prometheus.CounterVec
	VerificationTiming prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "sessions_started_total",
			Help:      "Payment sessions created.",
		}),
		StepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "step_transitions_total",
			Help:      "Session step transitions by target step.",
		}, []string{"step"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "submissions_total",
			Help:      "Verification submissions by outcome.",
		}, []string{"outcome"}),
		WalletPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "wallet_payments_total",
			Help:      "Wallet transfers by result category.",
		}, []string{"category"}),
		VerificationTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "verification_seconds",
			Help:      "Latency of the payment verification call.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.SessionsStarted,
		m.StepTransitions,
		m.Submissions,
		m.WalletPayments,
		m.VerificationTiming,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The methods below accept a nil receiver so callers can run without metrics.

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) Step(step string) {
	if m == nil {
		return
	}
	m.StepTransitions.WithLabelValues(step).Inc()
}

func (m *Metrics) Submission(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
	m.VerificationTiming.Observe(took.Seconds())
}

func (m *Metrics) WalletPayment(category string) {
	if m == nil {
		return
	}
	m.WalletPayments.WithLabelValues(category).Inc()
}
