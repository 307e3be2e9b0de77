package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_RoundTrip(t *testing.T) {
	s := NewTokenService("secret", "restkit", time.Hour)

	token, err := s.Issue(Identity{UserID: "42", Roles: []string{"ROLE_ADMIN"}})
	require.NoError(t, err)

	identity, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "42", Roles: []string{"ROLE_ADMIN"}}, identity)
}

func TestTokenService_Rejects(t *testing.T) {
	s := NewTokenService("secret", "restkit", time.Hour)

	expired := NewTokenService("secret", "restkit", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue(Identity{UserID: "42"})
	require.NoError(t, err)

	otherSecret, err := NewTokenService("other", "restkit", time.Hour).Issue(Identity{UserID: "42"})
	require.NoError(t, err)

	otherIssuer, err := NewTokenService("secret", "elsewhere", time.Hour).Issue(Identity{UserID: "42"})
	require.NoError(t, err)

	noSubject, err := s.Issue(Identity{})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expiredToken,
		"other secret": otherSecret,
		"other issuer": otherIssuer,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
