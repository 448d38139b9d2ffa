package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TableRows tracks the committed row count per table.
	TableRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kepler",
			Subsystem: "datastore",
			Name:      "num_table_rows",
			Help:      "Number of committed rows per table.",
		}, []string{"table"})

	// CommittedTxs counts transactions that consumed a durable offset.
	CommittedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kepler",
			Subsystem: "datastore",
			Name:      "committed_txs",
			Help:      "Transactions that consumed a durable offset.",
		})

	// RolledBackTxs counts rolled-back transactions.
	RolledBackTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kepler",
			Subsystem: "datastore",
			Name:      "rolled_back_txs",
			Help:      "Rolled back transactions.",
		})

	// SequenceAllocations counts window extensions per sequence.
	SequenceAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kepler",
			Subsystem: "datastore",
			Name:      "sequence_allocations",
			Help:      "Sequence allocation-window extensions.",
		}, []string{"sequence"})

	// ReplayedTxs counts transactions folded from the commit log.
	ReplayedTxs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kepler",
			Subsystem: "replay",
			Name:      "replayed_txs",
			Help:      "Transactions folded from the commit log.",
		})

	// ReplaySeconds records the duration of the last replay.
	ReplaySeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kepler",
			Subsystem: "replay",
			Name:      "replay_seconds",
			Help:      "Wall time of the last commit log replay.",
		})
)

func init() {
	prometheus.MustRegister(TableRows)
	prometheus.MustRegister(CommittedTxs)
	prometheus.MustRegister(RolledBackTxs)
	prometheus.MustRegister(SequenceAllocations)
	prometheus.MustRegister(ReplayedTxs)
	prometheus.MustRegister(ReplaySeconds)
}
