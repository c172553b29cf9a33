// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus tracks a queue session through its lifecycle.
type SessionStatus string

const (
	SessionSearching SessionStatus = "searching"
	SessionMatched   SessionStatus = "matched"
	SessionLeft      SessionStatus = "left"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether no further transition is possible for the session.
func (s SessionStatus) Terminal() bool {
	return s == SessionLeft || s == SessionExpired
}

// QueueSession is one player's pending matchmaking search. It is owned
// exclusively by the player that created it until it is matched into a lobby.
type QueueSession struct {
	ID          uuid.UUID     `json:"session_id"`
	PlayerID    uuid.UUID     `json:"player_id"`
	GameID      string        `json:"game_id"`
	GameMode    string        `json:"game_mode"`
	Region      string        `json:"region"`
	Stake       int64         `json:"stake,omitempty"` // minor units
	Currency    string        `json:"currency,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	Status      SessionStatus `json:"status"`
}
