package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-access-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateAccessToken(testSecret, 42, time.Minute)
	require.NoError(t, err)
	require.Len(t, strings.Split(token, "."), 3)

	claims, err := ValidateToken(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
}

func TestValidateToken_Rejects(t *testing.T) {
	expired, err := GenerateAccessToken(testSecret, 42, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(testSecret, expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := GenerateAccessToken("another-secret", 42, time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(testSecret, other)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 42})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(testSecret, unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ValidateToken("", "whatever")
	require.Error(t, err)
}
