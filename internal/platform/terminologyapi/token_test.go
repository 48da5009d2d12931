package terminologyapi

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenSource_EmptyKey(t *testing.T) {
	assert.Nil(t, NewTokenSource("", "issuer", "aud"))
}

func TestTokenSource_Claims(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTokenSource("k", "incremental-load", "")
	ts.now = func() time.Time { return fixed }

	raw, err := ts.Token()
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(raw, claims)
	require.NoError(t, err)
	assert.Equal(t, "incremental-load", claims.Issuer)
	assert.Equal(t, fixed.Add(defaultTokenTTL).Unix(), claims.ExpiresAt.Unix())
	assert.Empty(t, claims.Audience)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenSource_UniqueIDs(t *testing.T) {
	ts := NewTokenSource("k", "i", "a")
	a, err := ts.Token()
	require.NoError(t, err)
	b, err := ts.Token()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
