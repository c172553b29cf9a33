// internal/queue/stats.go
package queue

import (
	"time"

	"github.com/google/uuid"
)

// PoolBreakdown is the per-bucket slice of a stats snapshot.
type PoolBreakdown struct {
	GameMode       string  `json:"game_mode"`
	Region         string  `json:"region"`
	ActiveSessions int     `json:"active_sessions"`
	AvgWaitSec     float64 `json:"avg_wait_sec"`
}

// PoolStats is an eventually-consistent snapshot of matchmaking demand for
// one game. It never blocks matching; each bucket is sampled under its own
// lock in turn.
type PoolStats struct {
	GameID         string          `json:"game_id"`
	ActivePlayers  int             `json:"active_players"`
	ActiveSessions int             `json:"active_sessions"`
	AvgWaitSec     float64         `json:"avg_wait_sec"`
	Pools          []PoolBreakdown `json:"pools"`
}

// Stats builds a snapshot for gameID, optionally filtered by region and mode
// (empty string matches all).
func (m *Manager) Stats(gameID, reg, mode string) PoolStats {
	m.mu.Lock()
	var todo []*bucket
	for k, b := range m.buckets {
		if k.gameID != gameID {
			continue
		}
		if reg != "" && k.region != reg {
			continue
		}
		if mode != "" && k.gameMode != mode {
			continue
		}
		todo = append(todo, b)
	}
	m.mu.Unlock()

	now := time.Now()
	out := PoolStats{GameID: gameID, Pools: []PoolBreakdown{}}
	players := make(map[uuid.UUID]struct{})
	var totalWait time.Duration

	for _, b := range todo {
		b.mu.Lock()
		var bucketWait time.Duration
		n := len(b.sessions)
		for _, s := range b.sessions {
			players[s.PlayerID] = struct{}{}
			bucketWait += now.Sub(s.RequestedAt)
		}
		b.mu.Unlock()

		bd := PoolBreakdown{
			GameMode:       b.key.gameMode,
			Region:         b.key.region,
			ActiveSessions: n,
		}
		if n > 0 {
			bd.AvgWaitSec = (bucketWait / time.Duration(n)).Seconds()
		}
		out.ActiveSessions += n
		totalWait += bucketWait
		out.Pools = append(out.Pools, bd)
	}

	out.ActivePlayers = len(players)
	if out.ActiveSessions > 0 {
		out.AvgWaitSec = (totalWait / time.Duration(out.ActiveSessions)).Seconds()
	}
	return out
}
