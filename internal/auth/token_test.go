package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{Sub: "alice", Iat: time.Now().Unix(), Exp: time.Now().Add(time.Hour).Unix()}

	token, err := SignHS256(claims, "test-secret")
	require.NoError(t, err)

	parsed, err := ParseAndVerifyHS256(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", parsed.Sub)

	_, err = ParseAndVerifyHS256(token, "wrong-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAndVerifyHS256_Rejects(t *testing.T) {
	expired, err := SignHS256(Claims{Sub: "alice", Exp: time.Now().Add(-time.Minute).Unix()}, "s")
	require.NoError(t, err)
	noSub, err := SignHS256(Claims{Exp: time.Now().Add(time.Hour).Unix()}, "s")
	require.NoError(t, err)
	noExp, err := SignHS256(Claims{Sub: "alice"}, "s")
	require.NoError(t, err)
	valid, err := SignHS256(Claims{Sub: "alice", Exp: time.Now().Add(time.Hour).Unix()}, "s")
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, tok := range map[string]string{
		"expired":    expired,
		"no subject": noSub,
		"no expiry":  noExp,
		"tampered":   tampered,
		"two parts":  "a.b",
		"garbage":    "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAndVerifyHS256(tok, "s")
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokens_IssueUsesTTL(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("s", 30*time.Minute)
	tokens.now = func() time.Time { return fixed }

	tok, err := tokens.Issue("bob")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)

	claims, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Sub)
	assert.Equal(t, fixed.Unix(), claims.Iat)
	assert.Equal(t, int64(30*60), claims.Exp-claims.Iat)
}

func TestTokens_VerifyUsesClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokens("s", 30*time.Minute)
	tokens.now = func() time.Time { return fixed }

	tok, err := tokens.Issue("bob")
	require.NoError(t, err)

	tokens.now = func() time.Time { return fixed.Add(29 * time.Minute) }
	_, err = tokens.Verify(tok)
	require.NoError(t, err)

	tokens.now = func() time.Time { return fixed.Add(31 * time.Minute) }
	_, err = tokens.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// jam dinding sudah jauh lewat 2024
	_, err = ParseAndVerifyHS256(tok, "s")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
