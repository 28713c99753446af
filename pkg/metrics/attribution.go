package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IntentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "deposit_intents_created_total",
			Help:      "Number of off-chain deposit intents created.",
		},
		[]string{"vault_id", "chain_id", "partner_id"},
	)

	IntentsMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "deposit_intents_matched_total",
			Help:      "Number of off-chain deposit intents successfully matched.",
		},
		[]string{"vault_id", "chain_id", "partner_id"},
	)

	IntentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "deposit_intents_expired_total",
			Help:      "Number of deposit intents expired by the sweeper.",
		},
	)

	AttributionsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "attributions_written_total",
			Help:      "Number of attribution records committed.",
		},
		[]string{"source"}, // explicit / inferred
	)

	DepositsUnattributedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "deposits_unattributed_total",
			Help:      "Number of confirmed deposits closed with a zero-confidence terminal record.",
		},
	)

	ClaimConflictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultmesh",
			Name:      "intent_claim_conflict_total",
			Help:      "Number of lost races on intent claims.",
		},
	)

	SweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vaultmesh",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one sweeper batch pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		IntentsCreatedTotal,
		IntentsMatchedTotal,
		IntentsExpiredTotal,
		AttributionsWrittenTotal,
		DepositsUnattributedTotal,
		ClaimConflictTotal,
		SweepDurationSeconds,
	)
}
