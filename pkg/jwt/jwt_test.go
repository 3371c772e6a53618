package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	token, err := GenerateToken("s3cret", "till-1", "ana", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "till-1", claims.TerminalID)
	assert.Equal(t, "ana", claims.Cashier)

	_, err = ValidateToken(token, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_EdgeCases(t *testing.T) {
	token, err := GenerateToken("s3cret", "till-1", "", -time.Minute)
	require.NoError(t, err)
	// negative ttl means no expiry claim; the token stays valid
	_, err = ValidateToken(token, "s3cret")
	assert.NoError(t, err)

	_, err = ValidateToken("", "s3cret")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = GenerateToken("", "till-1", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingKey)
}
