package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrefixLen is the number of leading token characters kept by the heartbeat table.
const PrefixLen = 10

// NewSessionToken generates a cryptographically random 64-character hex token.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Prefix returns the first PrefixLen characters of tok, or all of it when shorter.
func Prefix(tok string) string {
	if len(tok) <= PrefixLen {
		return tok
	}
	return tok[:PrefixLen]
}
