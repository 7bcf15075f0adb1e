package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a zero-padded 6-digit code drawn from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// CodesEqual compares in constant time. Different lengths are never equal.
func CodesEqual(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
