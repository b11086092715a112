// Package util provides utility functions for the streamping application.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// DefaultSecretBytes is the number of random bytes in a generated webhook
// secret. Twitch accepts secrets between 10 and 100 characters; 16 bytes
// encode to 32 hex characters.
const DefaultSecretBytes = 16

// GenerateSecret returns a hex-encoded random secret of n bytes. Secrets key
// the HMAC signature verification of webhook callbacks, so they come from
// crypto/rand rather than a seeded PRNG.
func GenerateSecret(n int) string {
	if n <= 0 {
		n = DefaultSecretBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic("util: reading random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
