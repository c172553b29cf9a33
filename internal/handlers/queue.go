// internal/handlers/queue.go
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
	"github.com/vantage-gg/arena/internal/queue"
)

type joinQueueRequest struct {
	GameID   string         `json:"game_id"`
	GameMode string         `json:"game_mode"`
	Region   string         `json:"region,omitempty"`
	RTTHints map[string]int `json:"rtt_hints,omitempty"`
	Stake    int64          `json:"stake,omitempty"`
	Currency string         `json:"currency,omitempty"`
}

// JoinQueueHandler places the caller into a matchmaking queue.
func JoinQueueHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var req joinQueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad join payload", apperr.ErrValidation))
			return
		}

		session, err := s.Queue.JoinQueue(r.Context(), queue.JoinRequest{
			PlayerID: ident.UserID,
			GameID:   req.GameID,
			GameMode: req.GameMode,
			Region:   req.Region,
			RTTHints: req.RTTHints,
			Stake:    req.Stake,
			Currency: req.Currency,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

// LeaveQueueHandler withdraws a queue session. Safe to retry.
func LeaveQueueHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sessionID, err := uuid.Parse(r.PathValue("session_id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed session_id", apperr.ErrValidation))
			return
		}
		if err := s.Queue.LeaveQueue(r.Context(), sessionID, ident.UserID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
	}
}

// QueueSessionHandler is the pull-based status query for one session.
func QueueSessionHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sessionID, err := uuid.Parse(r.PathValue("session_id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed session_id", apperr.ErrValidation))
			return
		}
		session, err := s.Queue.Session(sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if session.PlayerID != ident.UserID {
			s.writeError(w, r, fmt.Errorf("%w: session %s", apperr.ErrForbidden, sessionID))
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

// PoolStatsHandler reports matchmaking demand for a game, optionally scoped
// by region/mode. The snapshot is cached for a few seconds; it never blocks
// matching.
func PoolStatsHandler(s *Server) http.HandlerFunc {
	const ttl = 5 * time.Second
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := r.PathValue("game_id")
		reg := r.URL.Query().Get("region")
		mode := r.URL.Query().Get("game_mode")

		cacheKey := fmt.Sprintf("queue:%s:%s:%s", gameID, reg, mode)
		if cache.Rdb != nil {
			var cached queue.PoolStats
			if ok, err := cache.GetStats(r.Context(), cacheKey, &cached); err == nil && ok {
				cacheFor(w, 5)
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}

		stats := s.Queue.Stats(gameID, reg, mode)
		if cache.Rdb != nil {
			if err := cache.SetStats(r.Context(), cacheKey, stats, ttl); err != nil {
				s.Logger.WithError(err).Warn("stats cache write failed")
			}
		}
		cacheFor(w, 5)
		writeJSON(w, http.StatusOK, stats)
	}
}
