package auth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// stateBytes is the entropy of a state value: 256 bits.
const stateBytes = 32

// GenerateState returns a fresh URL-safe random value for the OAuth state
// parameter.
//
// A failing random source is not something a request can recover from, so
// it panics instead of returning an error. The server's Recoverer turns
// that into a 500.
func GenerateState() string {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateCodeVerifier returns an RFC 7636 code verifier: 43 characters
// from the unreserved set, backed by 32 random bytes.
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateCodeChallenge returns the S256 challenge for verifier, i.e.
// base64url(sha256(verifier)) without padding.
func GenerateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
