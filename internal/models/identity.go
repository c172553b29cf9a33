// internal/models/identity.go
package models

import "github.com/google/uuid"

// Identity is the authenticated principal resolved by the boundary layer.
// The core treats it as a capability token and never inspects session
// internals.
type Identity struct {
	UserID   uuid.UUID `json:"user_id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Audience string    `json:"audience"`
	Admin    bool      `json:"admin"`
}
