// internal/models/lobby.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// LobbyStatus is the lobby state machine position.
type LobbyStatus string

const (
	LobbyOpen       LobbyStatus = "open"
	LobbyReadyCheck LobbyStatus = "ready_check"
	LobbyStarting   LobbyStatus = "starting"
	LobbyInProgress LobbyStatus = "in_progress"
	LobbyCompleted  LobbyStatus = "completed"
	LobbyCancelled  LobbyStatus = "cancelled"
)

// Terminal reports whether the lobby can no longer transition.
func (s LobbyStatus) Terminal() bool {
	return s == LobbyCompleted || s == LobbyCancelled
}

// LobbyMember is a single player's seat in a lobby. Ready is only meaningful
// while the lobby is in ready_check or starting.
type LobbyMember struct {
	PlayerID uuid.UUID `json:"player_id"`
	JoinedAt time.Time `json:"joined_at"`
	Ready    bool      `json:"ready"`
}

// Lobby is a forming or active match instance. Members is ordered by join
// time and unique per player; len(Members) never exceeds Capacity.
type Lobby struct {
	ID           uuid.UUID     `json:"lobby_id"`
	GameID       string        `json:"game_id"`
	GameMode     string        `json:"game_mode"`
	Region       string        `json:"region"`
	CreatorID    uuid.UUID     `json:"creator_id"`
	Capacity     int           `json:"capacity"`
	Members      []LobbyMember `json:"members"`
	Status       LobbyStatus   `json:"status"`
	QueueSourced bool          `json:"queue_sourced"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
}

// Member returns the member record for playerID, or nil.
func (l *Lobby) Member(playerID uuid.UUID) *LobbyMember {
	for i := range l.Members {
		if l.Members[i].PlayerID == playerID {
			return &l.Members[i]
		}
	}
	return nil
}

// Full reports whether every seat is taken.
func (l *Lobby) Full() bool {
	return len(l.Members) >= l.Capacity
}

// AllReady reports whether every current member has readied up.
func (l *Lobby) AllReady() bool {
	if len(l.Members) == 0 {
		return false
	}
	for i := range l.Members {
		if !l.Members[i].Ready {
			return false
		}
	}
	return true
}
