package custody

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"custodyledger_go/txerr"
)

var (
	// Client side
	CustodyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodyledger",
			Subsystem: "custody_client",
			Name:      "requests_total",
			Help:      "Custody calls made, labeled by operation and outcome (ok, not_provisioned, unavailable, failed).",
		},
		[]string{"operation", "outcome"},
	)

	CustodyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "custodyledger",
			Subsystem: "custody_client",
			Name:      "request_duration_seconds",
			Help:      "Latency of custody calls including retries.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "custodyledger",
			Subsystem: "custody_client",
			Name:      "session_cache_hits_total",
			Help:      "Public key lookups answered from the request-scoped cache.",
		},
	)

	// Development server side
	ServedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custodyledger",
			Subsystem: "custodyd",
			Name:      "requests_total",
			Help:      "Requests served by the development custody server, labeled by route and status code.",
		},
		[]string{"route", "code"},
	)

	ProvisionedIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "custodyledger",
			Subsystem: "custodyd",
			Name:      "provisioned_identities",
			Help:      "Identities holding a key in the development keystore.",
		},
	)
)

func outcome(err error) string {
	switch txerr.KindOf(err) {
	case "":
		if err != nil {
			return "failed"
		}
		return "ok"
	case txerr.IdentityNotProvisioned:
		return "not_provisioned"
	case txerr.CustodyUnavailable:
		return "unavailable"
	}
	return "failed"
}
