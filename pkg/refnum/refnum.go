// Package refnum generates short human-readable support reference numbers.
//
// A reference is two uppercase letters followed by five digits, e.g. "QZ48301".
// The space is small enough that collisions are possible; callers must treat
// the persistence layer's uniqueness constraint as the source of truth and
// regenerate on conflict.
package refnum

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	letters     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	letterCount = 2
	digitCount  = 5
)

var referencePattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{5}$`)

// Generator produces support reference numbers from a cryptographically
// secure random source. The zero value is ready to use.
type Generator struct{}

// New constructs a Generator.
func New() *Generator {
	return &Generator{}
}

// Generate returns a fresh reference number. Uniqueness is not guaranteed;
// the caller retries on store conflicts.
func (g *Generator) Generate() string {
	buf := make([]byte, 0, letterCount+digitCount)
	for range letterCount {
		buf = append(buf, letters[randIndex(len(letters))])
	}
	for range digitCount {
		buf = append(buf, digits[randIndex(len(digits))])
	}
	return string(buf)
}

// Valid reports whether s has the shape of a support reference number.
func Valid(s string) bool {
	return referencePattern.MatchString(s)
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failing means the process cannot do anything useful.
		panic(err)
	}
	return int(v.Int64())
}
