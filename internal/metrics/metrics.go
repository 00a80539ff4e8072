package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the service's prometheus collectors.
type Collector struct {
	verifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	submissions   *prometheus.CounterVec
	scoring       *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainproof_verifications_total",
			Help: "Payment verifications by variant and outcome.",
		}, []string{"variant", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainproof_verification_seconds",
			Help:    "Wall time of one payment verification.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"variant"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainproof_submissions_total",
			Help: "Transaction submissions by result (ok, already_processed, error).",
		}, []string{"result"}),
		scoring: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainproof_token_scoring_total",
			Help: "Token risk and classification requests by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		reg.MustRegister(c.verifications, c.duration, c.submissions, c.scoring)
	}
	return c
}

// ObserveVerification records one finished verification. outcome is "accepted"
// or the failure reason.
func (c *Collector) ObserveVerification(variant, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(variant, outcome).Inc()
	c.duration.WithLabelValues(variant).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveSubmission(result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveScoring(kind string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.scoring.WithLabelValues(kind, result).Inc()
}
