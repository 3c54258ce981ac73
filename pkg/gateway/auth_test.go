package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChallenge(t *testing.T) {
	c1, err := newChallenge()
	require.NoError(t, err)
	c2, err := newChallenge()
	require.NoError(t, err)

	assert.Len(t, c1, 64) // 32 bytes hex-encoded
	assert.NotEqual(t, c1, c2)
}

func TestVerifySignature(t *testing.T) {
	auth := newAuthenticator("secret")
	challenge, err := newChallenge()
	require.NoError(t, err)

	assert.True(t, auth.verify(challenge, auth.sign(challenge)))
	assert.False(t, auth.verify(challenge, newAuthenticator("wrong-secret").sign(challenge)))
	assert.False(t, auth.verify(challenge, "not-hex-garbage"))
}

func TestAuthenticate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		auth := newAuthenticator("secret")
		client := &Client{ID: "c1", Challenge: "abc123"}

		result := auth.authenticate(client, auth.sign("abc123"))

		assert.True(t, result.Success)
		assert.Equal(t, "auth.success", result.Event)
		assert.True(t, client.Authenticated)
		assert.Empty(t, client.Challenge)
		assert.Equal(t, StateAuthenticated, client.State)
	})

	t.Run("invalid signature", func(t *testing.T) {
		auth := newAuthenticator("secret")
		client := &Client{ID: "c1", Challenge: "abc123"}

		result := auth.authenticate(client, "bogus")

		assert.False(t, result.Success)
		assert.Equal(t, "Invalid signature", result.Message)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("no challenge", func(t *testing.T) {
		auth := newAuthenticator("secret")
		client := &Client{ID: "c1"}

		result := auth.authenticate(client, "anything")

		assert.False(t, result.Success)
		assert.Equal(t, "No challenge found", result.Message)
	})

	t.Run("attempt limit", func(t *testing.T) {
		auth := newAuthenticator("secret")
		client := &Client{ID: "c1", Challenge: "abc123", AuthAttempts: maxAuthAttempts - 1}

		result := auth.authenticate(client, "bogus")

		assert.False(t, result.Success)
		assert.Equal(t, "Too many failed attempts", result.Message)
		assert.Equal(t, maxAuthAttempts, client.AuthAttempts)
	})
}
