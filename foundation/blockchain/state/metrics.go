package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the ledger counters exported on the debug mux.
var metrics = struct {
	opsAdded      prometheus.Counter
	opsRejected   *prometheus.CounterVec
	blocksCreated prometheus.Counter
	blocksPulled  prometheus.Counter
	reverts       *prometheus.CounterVec
	compactions   prometheus.Counter
	rebuilds      prometheus.Counter
	queueSize     prometheus.Gauge
}{
	opsAdded: promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_operations_added_total",
		Help: "Total operations added to the queue.",
	}),
	opsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opledger_operations_rejected_total",
		Help: "Total operations rejected by reason code.",
	}, []string{"code"}),
	blocksCreated: promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_blocks_created_total",
		Help: "Total blocks created by this node.",
	}),
	blocksPulled: promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_blocks_replicated_total",
		Help: "Total blocks replicated from another node.",
	}),
	reverts: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opledger_reverts_total",
		Help: "Total reverts by kind.",
	}, []string{"kind"}),
	compactions: promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_compactions_total",
		Help: "Total merges of sealed superblocks.",
	}),
	rebuilds: promauto.NewCounter(prometheus.CounterOpts{
		Name: "opledger_rebuilds_total",
		Help: "Total rebuilds of the ledger from storage after a broken layer.",
	}),
	queueSize: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opledger_queue_size",
		Help: "Number of operations waiting for a block.",
	}),
}
