// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/events"
	"github.com/vantage-gg/arena/internal/ledger"
	"github.com/vantage-gg/arena/internal/lobbies"
	"github.com/vantage-gg/arena/internal/middleware"
	"github.com/vantage-gg/arena/internal/queue"
)

// Server bundles the core components behind the HTTP surface.
type Server struct {
	Queue   *queue.Manager
	Lobbies *lobbies.Coordinator
	Ledger  *ledger.Ledger
	Bus     *events.Bus
	Logger  *log.Logger
}

// NewServer wires a Server. Logger defaults to the standard logrus logger.
func NewServer(q *queue.Manager, c *lobbies.Coordinator, l *ledger.Ledger, bus *events.Bus, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{Queue: q, Lobbies: c, Ledger: l, Bus: bus, Logger: logger}
}

// Register mounts every matchmaking route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	// queue
	mux.HandleFunc("POST /match-making/queue", JoinQueueHandler(s))
	mux.HandleFunc("DELETE /match-making/queue/{session_id}", LeaveQueueHandler(s))
	mux.HandleFunc("GET /match-making/queue/{session_id}", QueueSessionHandler(s))
	mux.HandleFunc("GET /match-making/pools/{game_id}", PoolStatsHandler(s))

	// lobbies
	mux.HandleFunc("POST /match-making/lobbies", CreateLobbyHandler(s))
	mux.HandleFunc("GET /match-making/lobbies", ListLobbiesHandler(s))
	mux.HandleFunc("GET /match-making/lobbies/{id}", GetLobbyHandler(s))
	mux.HandleFunc("DELETE /match-making/lobbies/{id}", CancelLobbyHandler(s))
	mux.HandleFunc("POST /match-making/lobbies/{id}/join", JoinLobbyHandler(s))
	mux.HandleFunc("DELETE /match-making/lobbies/{id}/leave", LeaveLobbyHandler(s))
	mux.HandleFunc("PUT /match-making/lobbies/{id}/ready", ReadyHandler(s))
	mux.HandleFunc("POST /match-making/lobbies/{id}/start", StartMatchHandler(s))
	mux.HandleFunc("POST /match-making/lobbies/{id}/begin", BeginMatchHandler(s))
	mux.HandleFunc("POST /match-making/lobbies/{id}/complete", CompleteMatchHandler(s))
	mux.HandleFunc("GET /match-making/lobbies/{id}/ws", LobbyWSHandler(s))

	// prize pools
	mux.HandleFunc("GET /match-making/prize-pools", GetPoolHandler(s))
	mux.HandleFunc("GET /match-making/prize-pools/stats", PoolAggregateStatsHandler(s))
	mux.HandleFunc("POST /match-making/prize-pools/{id}/distribute", DistributeHandler(s))
	mux.HandleFunc("POST /match-making/prize-pools/{id}/dispute", RaiseDisputeHandler(s))
	mux.HandleFunc("POST /match-making/prize-pools/{id}/resolve-dispute", ResolveDisputeHandler(s))
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a core error onto the HTTP taxonomy. Internal failures are
// logged with the request's correlation id and never echo details to the
// caller; the caller decides whether to retry.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.StatusCode(err)
	if code == http.StatusInternalServerError {
		s.Logger.WithError(err).WithField("correlation_id", middleware.CorrelationID(r.Context())).
			Error("internal error")
		http.Error(w, fmt.Sprintf("internal error (correlation_id=%s)", middleware.CorrelationID(r.Context())), code)
		return
	}
	http.Error(w, err.Error(), code)
}

// cacheFor marks a read endpoint response as cacheable for seconds.
func cacheFor(w http.ResponseWriter, seconds int) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", seconds))
}
