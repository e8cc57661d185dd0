package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodyledger",
			Subsystem: "gateway",
			Name:      "submissions_total",
			Help:      "Submissions sent to the node, labeled by outcome (accepted, rejected, unavailable).",
		},
		[]string{"outcome"},
	)

	Confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodyledger",
			Subsystem: "gateway",
			Name:      "confirmations_total",
			Help:      "Confirmation waits, labeled by outcome (confirmed, pool_error, timeout).",
		},
		[]string{"outcome"},
	)

	ConfirmationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "custodyledger",
			Subsystem: "gateway",
			Name:      "confirmation_seconds",
			Help:      "Time from submission to observed confirmation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)
)
