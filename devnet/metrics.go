package devnet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Blocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "blocks_total",
		Help:      "Blocks made.",
	})

	LastRound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "last_round",
		Help:      "Last confirmed round.",
	})

	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "pool_transactions",
		Help:      "Transactions waiting in the pool.",
	})

	ConfirmedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "confirmed_transactions_total",
		Help:      "Transactions written to a block.",
	})

	DroppedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "dropped_transactions_total",
		Help:      "Transactions dropped from the pool after acceptance.",
	})

	Rejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "custodyledger",
		Subsystem: "devnet",
		Name:      "rejected_submissions_total",
		Help:      "Submissions refused at the door.",
	})
)
