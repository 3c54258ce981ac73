package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts is how many bad signatures a connection gets before the
// server hangs up.
const maxAuthAttempts = 3

// authenticator verifies editor connections with an HMAC-SHA256
// challenge-response over the gateway's shared secret. The secret never
// crosses the wire; only the signature of a per-connection random challenge
// does.
type authenticator struct {
	secret []byte
}

func newAuthenticator(sharedSecret string) authenticator {
	return authenticator{secret: []byte(sharedSecret)}
}

// newChallenge returns a hex-encoded 32-byte random challenge.
func newChallenge() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// sign computes the expected signature for a challenge.
func (a authenticator) sign(challenge string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks a client's signature in constant time.
func (a authenticator) verify(challenge, signature string) bool {
	expected := a.sign(challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// authenticate evaluates a client's auth.response and mutates the client's
// auth state accordingly.
func (a authenticator) authenticate(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return authFailure("No challenge found")
	}

	if !a.verify(client.Challenge, signature) {
		client.AuthAttempts++
		if client.AuthAttempts >= maxAuthAttempts {
			return authFailure("Too many failed attempts")
		}
		return authFailure("Invalid signature")
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{Event: "auth.success", Success: true}
}

func authFailure(message string) AuthResult {
	return AuthResult{Event: "auth.failure", Success: false, Message: message}
}
