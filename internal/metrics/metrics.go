package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "moviematch"

var (
	VotesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vote",
			Name:      "processed_total",
			Help:      "Count of processed votes by result (accepted, duplicate, rejected, failed).",
		},
		[]string{"result"},
	)
	MatchesFound = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vote",
			Name:      "matches_total",
			Help:      "Count of rooms transitioned to MATCHED.",
		},
	)
	InviteCodesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invite",
			Name:      "codes_issued_total",
			Help:      "Count of invite codes persisted.",
		},
	)
	InviteCodeCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invite",
			Name:      "code_collisions_total",
			Help:      "Count of drawn invite codes that already existed.",
		},
	)
	InviteValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invite",
			Name:      "validations_total",
			Help:      "Count of invite code validations by result.",
		},
		[]string{"result"},
	)
	PrecacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "precache",
			Name:      "requests_total",
			Help:      "Count of content pre-cache requests by outcome (hit, provider, fallback).",
		},
		[]string{"outcome"},
	)
	StoreRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Count of retried transient store failures by operation.",
		},
		[]string{"op"},
	)
	BestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Count of swallowed failures of best-effort side effects by kind.",
		},
		[]string{"kind"},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(VotesProcessed)
		reg.MustRegister(MatchesFound)
		reg.MustRegister(InviteCodesIssued)
		reg.MustRegister(InviteCodeCollisions)
		reg.MustRegister(InviteValidations)
		reg.MustRegister(PrecacheRequests)
		reg.MustRegister(StoreRetries)
		reg.MustRegister(BestEffortFailures)
	})
}
