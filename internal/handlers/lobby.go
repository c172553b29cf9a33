// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/auth"
	"github.com/vantage-gg/arena/internal/lobbies"
	"github.com/vantage-gg/arena/internal/models"
)

type createLobbyRequest struct {
	GameID   string `json:"game_id"`
	GameMode string `json:"game_mode"`
	Region   string `json:"region,omitempty"`
	Capacity int    `json:"capacity"`
	Stake    int64  `json:"stake,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// CreateLobbyHandler opens a lobby with the caller as creator and first member.
func CreateLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		var req createLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad lobby payload", apperr.ErrValidation))
			return
		}

		l, err := s.Lobbies.Create(r.Context(), lobbies.CreateRequest{
			CreatorID: ident.UserID,
			GameID:    req.GameID,
			GameMode:  req.GameMode,
			Region:    req.Region,
			Capacity:  req.Capacity,
			Stake:     req.Stake,
			Currency:  req.Currency,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

// ListLobbiesHandler returns lobby snapshots filtered by query params.
func ListLobbiesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		out := s.Lobbies.List(lobbies.ListFilter{
			GameID: q.Get("game_id"),
			Region: q.Get("region"),
			Status: models.LobbyStatus(q.Get("status")),
		})
		cacheFor(w, 10)
		writeJSON(w, http.StatusOK, out)
	}
}

// GetLobbyHandler returns one lobby snapshot.
func GetLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.Get(lobbyID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		cacheFor(w, 5)
		writeJSON(w, http.StatusOK, l)
	}
}

// CancelLobbyHandler aborts a pre-match lobby. Creator only.
func CancelLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		if err := s.Lobbies.Cancel(r.Context(), lobbyID, ident.UserID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(models.LobbyCancelled)})
	}
}

// JoinLobbyHandler seats the caller in an open lobby.
func JoinLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.Join(r.Context(), lobbyID, ident.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// LeaveLobbyHandler unseats the caller from a pre-match lobby.
func LeaveLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		if err := s.Lobbies.Leave(r.Context(), lobbyID, ident.UserID); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
	}
}

type readyRequest struct {
	Ready bool `json:"ready"`
}

// ReadyHandler toggles the caller's readiness flag.
func ReadyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		var req readyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad ready payload", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.SetReady(r.Context(), lobbyID, ident.UserID, req.Ready)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// StartMatchHandler moves a fully-ready lobby into Starting. Creator only.
func StartMatchHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := auth.FromRequest(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.Start(r.Context(), lobbyID, ident.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

// BeginMatchHandler is the game-server callback confirming the match is live.
func BeginMatchHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.FromRequest(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.BeginMatch(r.Context(), lobbyID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

type completeMatchRequest struct {
	Allocations map[uuid.UUID]int64 `json:"allocations"`
}

// CompleteMatchHandler records the outcome and triggers settlement of any
// escrowed pool.
func CompleteMatchHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.FromRequest(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: malformed lobby id", apperr.ErrValidation))
			return
		}
		var req completeMatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: bad completion payload", apperr.ErrValidation))
			return
		}
		l, err := s.Lobbies.CompleteMatch(r.Context(), lobbyID, req.Allocations)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}
