// Package otp generates one-time numeric verification codes.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	minCode = 100000
	maxCode = 999999
)

var span = big.NewInt(maxCode - minCode + 1)

// Generate returns a 6-digit code drawn uniformly from [100000, 999999].
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+minCode), nil
}
