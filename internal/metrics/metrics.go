// Package metrics holds the Prometheus instruments of the import and booking pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ParseAttempts counts reader attempts by reader name and result (matched, rejected).
	ParseAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finman_parse_attempts_total",
		Help: "Statement reader attempts",
	}, []string{"reader", "result"})

	// TemplateAttempts counts template trials inside the parsing engine.
	TemplateAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finman_template_attempts_total",
		Help: "Template trials by template name and result",
	}, []string{"template", "result"})

	// DraftsCreated counts drafts created from uploaded files.
	DraftsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finman_drafts_created_total",
		Help: "Drafts created from uploads",
	})

	// Bookings counts booking requests by outcome (booked, rejected, warning, failed).
	Bookings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finman_bookings_total",
		Help: "Booking requests by outcome",
	}, []string{"outcome"})

	// PostingsCreated counts generated postings by kind.
	PostingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finman_postings_created_total",
		Help: "Postings generated by kind",
	}, []string{"kind"})

	// AggregateUpdates counts aggregate upserts by period.
	AggregateUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finman_aggregate_updates_total",
		Help: "Aggregate upserts by period",
	}, []string{"period"})

	// BookingDuration observes the wall time of booking transactions.
	BookingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finman_booking_duration_seconds",
		Help:    "Booking transaction latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
