package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := NewSessionToken(42, "u@test.com", "admin", secret, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, secret)
	require.NoError(t, err)

	assert.Equal(t, int64(42), claims.Sub)
	assert.Equal(t, "u@test.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestParse_ExpiredToken(t *testing.T) {
	token, err := NewSessionToken(1, "u@test.com", "user", secret, -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, secret)
	assert.Error(t, err)
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := NewSessionToken(1, "u@test.com", "user", secret, time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other-secret")
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("not.a.token", secret)
	assert.Error(t, err)

	_, err = Parse("", secret)
	assert.Error(t, err)
}

func TestParse_RejectsUnsignedToken(t *testing.T) {
	// A token signed with "none" must never be accepted, whatever its claims.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Sub: 1, Email: "u@test.com", Role: "admin"})
	unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Parse(unsigned, secret)
	assert.Error(t, err)
}
