package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens([]byte("test-secret"), "momo-wallet", time.Hour)

	signed, exp, err := tokens.Issue("sess-1", "user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	claims, err := tokens.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokensRejectTampering(t *testing.T) {
	tokens := NewTokens([]byte("test-secret"), "momo-wallet", time.Hour)
	signed, _, err := tokens.Issue("sess-1", "user-1")
	require.NoError(t, err)

	other := NewTokens([]byte("other-secret"), "momo-wallet", time.Hour)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := NewTokens([]byte("test-secret"), "someone-else", time.Hour)
	_, err = foreign.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse(signed + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensExpire(t *testing.T) {
	tokens := NewTokens([]byte("test-secret"), "momo-wallet", time.Minute)
	signed, _, err := tokens.Issue("sess-1", "user-1")
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensRejectOtherAlgorithms(t *testing.T) {
	tokens := NewTokens([]byte("test-secret"), "momo-wallet", time.Hour)
	claims := Claims{
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "momo-wallet",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
