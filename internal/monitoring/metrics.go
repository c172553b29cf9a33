// internal/monitoring/metrics.go
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_queue_depth",
			Help: "Searching sessions per matchmaking bucket",
		},
		[]string{"game_id", "game_mode", "region"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_queue_operations_total",
			Help: "Queue join/leave/match operations by outcome",
		},
		[]string{"operation", "status"},
	)

	activeLobbies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_active_lobbies",
			Help: "Lobbies currently in a non-terminal state",
		},
		[]string{"game_id", "region"},
	)

	matchWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arena_match_wait_seconds",
			Help:    "Time from joinQueue to lobby formation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"game_id", "region"},
	)

	settlementSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arena_settlement_seconds",
			Help:    "Duration of prize pool settlement calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

// SetQueueDepth records the current depth of one matchmaking bucket.
func SetQueueDepth(gameID, gameMode, region string, depth int) {
	queueDepth.WithLabelValues(gameID, gameMode, region).Set(float64(depth))
}

// TrackQueueOperation counts one queue operation and its outcome.
func TrackQueueOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

// SetActiveLobbies records the number of live lobbies for a game/region.
func SetActiveLobbies(gameID, region string, n int) {
	activeLobbies.WithLabelValues(gameID, region).Set(float64(n))
}

// AddActiveLobby adjusts the live-lobby gauge by delta.
func AddActiveLobby(gameID, region string, delta int) {
	activeLobbies.WithLabelValues(gameID, region).Add(float64(delta))
}

// TrackMatchWait records how long the matched sessions waited.
func TrackMatchWait(gameID, region string, wait time.Duration) {
	matchWaitSeconds.WithLabelValues(gameID, region).Observe(wait.Seconds())
}

// TrackSettlement records one settlement call duration and outcome.
func TrackSettlement(outcome string, d time.Duration) {
	settlementSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}
