package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the enquiry module: submission outcomes,
// reference number collisions and email delivery results.
type Metrics struct {
	SubmissionsTotal     *prometheus.CounterVec
	ReferenceCollisions  prometheus.Counter
	EnquirerEmailOutcome *prometheus.CounterVec
	PartnerEmailFailures prometheus.Counter
	SubmitDuration       prometheus.Histogram
}

// New registers and returns the enquiry module metrics.
func New() *Metrics {
	return &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tuitionmatch_enquiry_submissions_total",
			Help: "Enquiry submissions by outcome",
		}, []string{"outcome"}),
		ReferenceCollisions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tuitionmatch_enquiry_reference_collisions_total",
			Help: "Support reference number collisions resolved by regeneration",
		}),
		EnquirerEmailOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tuitionmatch_enquirer_email_outcomes_total",
			Help: "Enquirer confirmation email outcomes by status class",
		}, []string{"status"}),
		PartnerEmailFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tuitionmatch_partner_email_failures_total",
			Help: "Tuition partner fan-out sends that failed (best-effort)",
		}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tuitionmatch_enquiry_submit_duration_seconds",
			Help:    "Duration of end-to-end enquiry submissions",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// RecordSubmission counts one submission with the given outcome label.
func (m *Metrics) RecordSubmission(outcome string) {
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordEnquirerEmail counts one enquirer confirmation outcome.
func (m *Metrics) RecordEnquirerEmail(status string) {
	m.EnquirerEmailOutcome.WithLabelValues(status).Inc()
}

// ObserveSubmit records the duration of a Submit call started at start.
func (m *Metrics) ObserveSubmit(start time.Time) {
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}
