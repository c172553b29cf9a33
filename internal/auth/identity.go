// internal/auth/identity.go
package auth

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/vantage-gg/arena/internal/apperr"
	"github.com/vantage-gg/arena/internal/models"
)

// Header names the boundary layer uses to inject the resolved identity. The
// core never parses session cookies itself; when the headers are absent it
// falls back to verifying the auth_token cookie it minted.
const (
	HeaderResourceOwner    = "X-Resource-Owner"
	HeaderIntendedAudience = "X-Intended-Audience"
	HeaderResourceRoles    = "X-Resource-Roles"
)

// DefaultAudience is the audience this service accepts.
const DefaultAudience = "match-making"

// Audience returns the configured service audience.
func Audience() string {
	if a := os.Getenv("ARENA_AUDIENCE"); a != "" {
		return a
	}
	return DefaultAudience
}

// FromRequest resolves the caller's identity, preferring boundary-injected
// headers over the cookie token. Returns apperr.ErrUnauthenticated when
// neither yields a principal.
func FromRequest(r *http.Request) (models.Identity, error) {
	if owner := r.Header.Get(HeaderResourceOwner); owner != "" {
		audience := r.Header.Get(HeaderIntendedAudience)
		if audience != Audience() {
			return models.Identity{}, fmt.Errorf("%w: audience %q", apperr.ErrUnauthenticated, audience)
		}
		ownerID, err := uuid.Parse(owner)
		if err != nil {
			return models.Identity{}, fmt.Errorf("%w: malformed owner id", apperr.ErrUnauthenticated)
		}
		return models.Identity{
			UserID:   ownerID,
			OwnerID:  ownerID,
			Audience: audience,
			Admin:    hasRole(r.Header.Get(HeaderResourceRoles), "arbiter"),
		}, nil
	}

	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: no identity headers or auth_token", apperr.ErrUnauthenticated)
	}
	sub, admin, err := AuthenticateJWT(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: malformed subject", apperr.ErrUnauthenticated)
	}
	return models.Identity{
		UserID:   userID,
		OwnerID:  userID,
		Audience: Audience(),
		Admin:    admin,
	}, nil
}

func hasRole(header, role string) bool {
	for _, r := range strings.Split(header, ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}

// extractCookieToken extracts a named cookie value from the Cookie header, or
// returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}
