package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var paymentsQuantity = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "routerd_payments_total",
		Help: "Payments handled by the router, by terminal outcome.",
	},
	[]string{
		"outcome",
	},
)

var attemptsQuantity = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "routerd_attempts_total",
		Help: "Individual route attempts dispatched to the network.",
	},
)

var attemptLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "routerd_attempt_duration_seconds",
		Help:    "Wall clock duration of individual route attempts.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	},
)

func PaymentInitiated() {
	paymentsQuantity.With(map[string]string{"outcome": "initiated"}).Inc()
}

func PaymentSucceeded() {
	paymentsQuantity.With(map[string]string{"outcome": "succeeded"}).Inc()
}

func PaymentFailed() {
	paymentsQuantity.With(map[string]string{"outcome": "failed"}).Inc()
}

func PaymentTimedOut() {
	paymentsQuantity.With(map[string]string{"outcome": "timed_out"}).Inc()
}
