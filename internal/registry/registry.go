// internal/registry/registry.go
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// SessionRegistry is the single ownership index for queue sessions and lobby
// memberships. Every mutating operation in the core authorizes its caller
// here instead of re-implementing the check.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]uuid.UUID    // session_id -> player_id
	members  map[membershipKey]struct{} // (lobby_id, player_id)
}

type membershipKey struct {
	lobbyID  uuid.UUID
	playerID uuid.UUID
}

// New returns an empty SessionRegistry.
func New() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[uuid.UUID]uuid.UUID),
		members:  make(map[membershipKey]struct{}),
	}
}

// RegisterSession records ownership of a queue session.
func (r *SessionRegistry) RegisterSession(sessionID, playerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = playerID
}

// UnregisterSession drops a queue session. Safe to call twice; leave/cancel
// must stay idempotent.
func (r *SessionRegistry) UnregisterSession(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// IsSessionOwner reports whether playerID created the session. Unknown
// sessions are owned by nobody.
func (r *SessionRegistry) IsSessionOwner(sessionID, playerID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.sessions[sessionID]
	return ok && owner == playerID
}

// RegisterMember records lobby membership for a player.
func (r *SessionRegistry) RegisterMember(lobbyID, playerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[membershipKey{lobbyID, playerID}] = struct{}{}
}

// UnregisterMember drops a lobby membership. Idempotent.
func (r *SessionRegistry) UnregisterMember(lobbyID, playerID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, membershipKey{lobbyID, playerID})
}

// IsMember reports whether playerID currently holds a seat in the lobby.
func (r *SessionRegistry) IsMember(lobbyID, playerID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[membershipKey{lobbyID, playerID}]
	return ok
}
