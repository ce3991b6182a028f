// Package metrics holds the Prometheus collectors shared by escapade services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts session lifecycle transitions by target state.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "session_transitions_total",
		Help:      "Session lifecycle transitions.",
	}, []string{"transition"})

	// CheckpointClears counts clear attempts by outcome (created, duplicate, rejected).
	CheckpointClears = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "checkpoint_clears_total",
		Help:      "Checkpoint clear attempts by outcome.",
	}, []string{"source", "result"})

	// PointsAwarded sums points granted, by source.
	PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "points_awarded_total",
		Help:      "Points granted to sessions.",
	}, []string{"source"})

	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "store_tx_retries_total",
		Help:      "Store transactions retried after a serialization failure or deadlock.",
	})

	LeaderboardCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "leaderboard_cache_requests_total",
		Help:      "Leaderboard cache lookups by result.",
	}, []string{"result"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escapade",
		Name:      "events_published_total",
		Help:      "Lifecycle events published to the bus, by result.",
	}, []string{"result"})
)
