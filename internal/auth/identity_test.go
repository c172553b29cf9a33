// internal/auth/identity_test.go
package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-gg/arena/internal/apperr"
)

func TestFromRequestHeaders(t *testing.T) {
	userID := uuid.New()
	r := httptest.NewRequest("POST", "/match-making/queue", nil)
	r.Header.Set(HeaderResourceOwner, userID.String())
	r.Header.Set(HeaderIntendedAudience, DefaultAudience)

	ident, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, userID, ident.UserID)
	assert.Equal(t, userID, ident.OwnerID)
	assert.False(t, ident.Admin)

	r.Header.Set(HeaderResourceRoles, "support, arbiter")
	ident, err = FromRequest(r)
	require.NoError(t, err)
	assert.True(t, ident.Admin)
}

func TestFromRequestAudienceMismatch(t *testing.T) {
	r := httptest.NewRequest("POST", "/match-making/queue", nil)
	r.Header.Set(HeaderResourceOwner, uuid.NewString())
	r.Header.Set(HeaderIntendedAudience, "billing")

	_, err := FromRequest(r)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestFromRequestMalformedOwner(t *testing.T) {
	r := httptest.NewRequest("POST", "/match-making/queue", nil)
	r.Header.Set(HeaderResourceOwner, "not-a-uuid")
	r.Header.Set(HeaderIntendedAudience, DefaultAudience)

	_, err := FromRequest(r)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestFromRequestCookieFallback(t *testing.T) {
	Init()
	userID := uuid.New()

	token, err := CreateJWT(userID.String(), true)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/match-making/lobbies", nil)
	r.Header.Set("Cookie", "auth_token="+token+"; theme=dark")

	ident, err := FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, userID, ident.UserID)
	assert.True(t, ident.Admin)
}

func TestFromRequestNoIdentity(t *testing.T) {
	r := httptest.NewRequest("GET", "/match-making/lobbies", nil)
	_, err := FromRequest(r)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestJWTRoundTrip(t *testing.T) {
	Init()

	token, err := CreateJWT("player-1", false)
	require.NoError(t, err)

	sub, admin, err := AuthenticateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", sub)
	assert.False(t, admin)

	_, _, err = AuthenticateJWT(token + "tampered")
	assert.Error(t, err)
}
