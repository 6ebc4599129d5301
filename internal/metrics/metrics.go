package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgateway_requests_total",
			Help: "Total number of generation requests by terminal status",
		},
		[]string{"model", "provider", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sparkgateway_generation_duration_seconds",
			Help:    "Wall-clock duration of provider generation calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "provider"},
	)

	ModerationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgateway_moderation_rejections_total",
			Help: "Prompts rejected by moderation, by category",
		},
		[]string{"category"},
	)

	ModerationScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sparkgateway_moderation_score",
			Help:    "Distribution of moderation scores",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	PaymentRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkgateway_payment_rejections_total",
			Help: "Generation requests rejected for unconfirmed payment",
		},
	)

	InvoicesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgateway_invoices_created_total",
			Help: "Lightning invoices created, by payment backend",
		},
		[]string{"backend"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider"},
	)

	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sparkgateway_gateway_errors_total",
			Help: "Total number of payment backend errors",
		},
		[]string{"backend"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sparkgateway_rate_limit_hits_total",
			Help: "Requests refused by the rate limiter",
		},
	)
)

func RecordRequest(model, provider, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(model, provider, status).Inc()
	if status == "completed" {
		GenerationDuration.WithLabelValues(model, provider).Observe(durationSec)
	}
}

func RecordModeration(score float64, safe bool, category string) {
	ModerationScore.Observe(score)
	if !safe {
		ModerationRejections.WithLabelValues(category).Inc()
	}
}

func RecordProviderError(provider string) {
	ProviderErrors.WithLabelValues(provider).Inc()
}

func RecordGatewayError(backend string) {
	GatewayErrors.WithLabelValues(backend).Inc()
}
