package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignToken(secret, "sess-1", "flow-1", time.Hour)
	require.NoError(t, err)

	sessionID, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := SignToken([]byte("right-secret"), "sess-1", "flow-1", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("wrong-secret"), token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignToken(secret, "sess-1", "flow-1", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(secret, token)
	assert.Error(t, err)
}
