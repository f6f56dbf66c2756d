// Package services — Prometheus instrumentation for the matchmaking core.
//
// HTTP-level metrics live in the middleware package; the collectors here
// track domain outcomes that the access log cannot see: how often claims and
// pair locks collide, how many ghost entries get evicted, how often
// reconnection hints actually produce a pair.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// matchesMade counts committed pairs, labeled by how the candidate was
	// found ("pool" or "reconnect").
	matchesMade = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_matches_total",
			Help: "Total number of pairs committed.",
		},
		[]string{"source"},
	)

	// matchMisses counts matchmake calls that exhausted the pool.
	matchMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_no_match_total",
			Help: "Matchmaking attempts that found no candidate.",
		},
	)

	// claimConflicts counts candidates skipped because another attempt held
	// their claim token.
	claimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_claim_conflicts_total",
			Help: "Candidates skipped due to a held claim token.",
		},
	)

	// lockConflicts counts pair-lock acquisition failures.
	lockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_lock_conflicts_total",
			Help: "Pairing attempts aborted at the pair lock.",
		},
	)

	// ghostsEvicted counts stale queue entries removed during candidate scans.
	ghostsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_ghosts_evicted_total",
			Help: "Queue entries removed because their attributes had expired.",
		},
	)

	// idemReplays counts offer/answer retransmissions absorbed by markers.
	idemReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_idempotent_replays_total",
			Help: "Offer/answer POSTs absorbed as idempotent replays.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		matchesMade, matchMisses, claimConflicts,
		lockConflicts, ghostsEvicted, idemReplays,
	)
}
