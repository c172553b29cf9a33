// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vantage-gg/arena/internal/auth"
)

// LobbyWSHandler streams lobby lifecycle events to a connected client over a
// websocket. The stream carries the same events the Redis feed records,
// filtered to one lobby. The socket closes when the client disconnects or the
// lobby reaches a terminal state.
func LobbyWSHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbyID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, "invalid lobby id", http.StatusBadRequest)
			return
		}
		ident, err := auth.FromRequest(r)
		if err != nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		l, err := s.Lobbies.Get(lobbyID)
		if err != nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		if l.Member(ident.UserID) == nil {
			http.Error(w, "not a lobby member", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			s.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(websocket.StatusPolicyViolation, "client must speak the lobby subprotocol")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		evs, unsubscribe := s.Bus.Subscribe(lobbyID)
		defer unsubscribe()

		// Drain incoming frames so pings and client closes are noticed.
		go func() {
			defer cancel()
			for {
				if _, _, err := c.Read(ctx); err != nil {
					return
				}
			}
		}()

		// Initial snapshot so late subscribers see current state immediately.
		if err := wsjson.Write(ctx, c, l); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				c.Close(websocket.StatusNormalClosure, "context done")
				return
			case ev, ok := <-evs:
				if !ok {
					c.Close(websocket.StatusNormalClosure, "bus closed")
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(wctx, c, ev)
				wcancel()
				if err != nil {
					return
				}
			}
		}
	}
}
