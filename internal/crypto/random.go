package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string suitable for use as OAuth state
// parameters and one-shot nonces.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
