package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateChannelID(t *testing.T) {
	id := GenerateChannelID("cal")
	assert.True(t, strings.HasPrefix(id, "cal-"))
	assert.LessOrEqual(t, len(id), 64)
	assert.NotEqual(t, id, GenerateChannelID("cal"))
}

func TestGenerateSecret(t *testing.T) {
	s := GenerateSecret(16)
	assert.Len(t, s, 32)
}

func TestTokenCipherRoundTrip(t *testing.T) {
	c := NewTokenCipher("correct horse battery staple")
	sealed, err := c.Encrypt("ya29.access")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, cipherPrefix))
	assert.NotContains(t, sealed, "ya29")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access", plain)
}

func TestTokenCipherWrongKey(t *testing.T) {
	sealed, err := NewTokenCipher("a").Encrypt("secret")
	require.NoError(t, err)
	_, err = NewTokenCipher("b").Decrypt(sealed)
	assert.Error(t, err)
}

func TestNilCipherPassthrough(t *testing.T) {
	var c *TokenCipher
	out, err := c.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = NewTokenCipher("k").Decrypt("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", out)
}

func TestJWTRoundTrip(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	tok, err := GenerateToken(userID, tenantID, "s3cret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateAndParseToken(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, tenantID, claims.TenantID)

	_, err = ValidateAndParseToken(tok, "other")
	assert.Error(t, err)
}

func TestJWTRejectsNoneAlg(t *testing.T) {
	claims := TokenClaims{UserID: uuid.New()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateAndParseToken(tok, "s3cret")
	assert.Error(t, err)
}
