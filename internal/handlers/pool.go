// internal/handlers/pool.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/auth"
	"github.com/vantage-gg/arena/internal/cache"
	"github.com/vantage-gg/arena/internal/models"
)

// GetPoolHandler fetches one pool by pool_id or lobby_id query param.
func GetPoolHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			pool *models.PrizePool
			err  error
		)
		switch {
		case q.Get("pool_id") != "":
			var poolID uuid.UUID
			poolID, err = uuid.Parse(q.Get("pool_id"))
			if err != nil {
				s.writeError(w, r, fmt.Errorf("%w: malformed pool_id", apperr.ErrValidation))
				return
			}
			pool, err = s.Ledger.Pool(poolID)
		case q.Get("lobby_id") != "":
			var lobbyID uuid.UUID
			lobbyID, err = uuid.Parse(q.Get("lobby_id"))
			if err != nil {
				s.writeError(w, r, fmt.Errorf("%w: malformed lobby_id", apperr.ErrValidation))
				return
			}
			pool, err = s.Ledger.PoolByLobby(lobbyID)
		default:
			s.writeError(w, r, fmt.Errorf("%w: pool_id or lobby_id is required", apperr.ErrValidation))
			return
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cacheFor(w, 5)
		writeJSON(w, http.StatusOK, pool)
	}
}

// poolAggregate is the rollup served by the stats endpoint.
type poolAggregate struct {
	GameID            string         `json:"game_id"`
	Region            string         `json:"region,omitempty"`
	PoolCount         int            `json:"pool_count"`
	ByStatus          map[string]int `json:"by_status"`
	EscrowedAmount    int64          `json:"escrowed_amount"`
	DistributedAmount int64          `json:"distributed_amount"`
	RefundedAmount    int64          `json:"refunded_amount"`
}

// PoolAggregateStatsHandler rolls up pools for a game, optionally narrowed by
// region. game_id is mandatory. The rollup joins each pool to its lobby; pools
// whose lobby is unknown are skipped.
func PoolAggregateStatsHandler(s *Server) http.HandlerFunc {
	const ttl = 30 * time.Second
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := r.URL.Query().Get("game_id")
		if gameID == "" {
			s.writeError(w, r, fmt.Errorf("%w: game_id is required", apperr.ErrValidation))
			return
		}
		reg := r.URL.Query().Get("region")

		cacheKey := fmt.Sprintf("pool_stats:%s:%s", gameID, reg)
		if cache.Rdb != nil {
			var cached poolAggregate
			if ok, err := cache.GetStats(r.Context(), cacheKey, &cached); err == nil && ok {
				cacheFor(w, 30)
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}

		agg := poolAggregate{GameID: gameID, Region: reg, ByStatus: map[string]int{}}
		for _, p := range s.Ledger.Pools() {
			l, err := s.Lobbies.Get(p.LobbyID)
			if err != nil || l.GameID != gameID {
				continue
			}
			if reg != "" && l.Region != reg {
				continue
			}
			agg.PoolCount++
			agg.ByStatus[string(p.Status)]++
			switch p.Status {
			case models.PoolEscrowed, models.PoolDisputed:
				agg.EscrowedAmount += p.TotalAmount
			case models.PoolDistributed, models.PoolResolved:
				agg.DistributedAmount += p.TotalAmount
			case models.PoolRefunded:
				agg.RefundedAmount += p.TotalAmount
			}
		}

		if cache.Rdb != nil {
			if err := cache.SetStats(r.Context(), cacheKey, agg, ttl); err != nil {
				s.Logger.WithError(err).Warn("pool stats cache write failed")
			}
		}
		cacheFor(w, 30)
		writeJSON(w, http.StatusOK, agg)
	}
}

type distributeRequest struct {
	Allocations map[uuid.UUID]int64 `json:"allocations"`
}

// DistributeHandler pays out a pool whose lobby has completed. Idempotent on
// an already-distributed pool.
func DistributeHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.FromRequest(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		poolID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed pool id", apperr.ErrValidation))
			return
		}
		var req distributeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad distribution payload", apperr.ErrValidation))
			return
		}
		if err := s.Ledger.Distribute(r.Context(), poolID, req.Allocations); err != nil {
			s.writeError(w, r, err)
			return
		}
		pool, err := s.Ledger.Pool(poolID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}

type raiseDisputeRequest struct {
	Reason string `json:"reason"`
}

// RaiseDisputeHandler opens a dispute against a pool's distribution. Only
// contributors may raise one; the ledger enforces the single-open-dispute
// rule.
func RaiseDisputeHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		poolID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed pool id", apperr.ErrValidation))
			return
		}
		var req raiseDisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad dispute payload", apperr.ErrValidation))
			return
		}
		d, err := s.Ledger.RaiseDispute(r.Context(), poolID, ident.UserID, req.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	}
}

type resolveDisputeRequest struct {
	WinnerAllocations map[uuid.UUID]int64 `json:"winner_allocations"`
}

// ResolveDisputeHandler records the arbiter's ruling and re-executes payouts.
// Arbiter role required.
func ResolveDisputeHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !ident.Admin {
			s.writeError(w, r, fmt.Errorf("%w: arbiter role required", apperr.ErrForbidden))
			return
		}
		poolID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed pool id", apperr.ErrValidation))
			return
		}
		var req resolveDisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad resolution payload", apperr.ErrValidation))
			return
		}
		if err := s.Ledger.ResolveDispute(r.Context(), poolID, ident.UserID, req.WinnerAllocations); err != nil {
			s.writeError(w, r, err)
			return
		}
		pool, err := s.Ledger.Pool(poolID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pool)
	}
}
