package payment

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes gives 176 bits of entropy, comfortably above the 128-bit floor
// for unguessable verification URLs.
const tokenBytes = 22

// GenerateToken returns a URL-safe random verification token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("payment: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
