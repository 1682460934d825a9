// Package codegen generates the random alphanumeric tokens used as short codes.
// Generators are safe for concurrent use.
package codegen

import (
	"crypto/rand"
	"errors"
)

const (
	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Bytes at or above this bound are rejected so every symbol is equally likely.
	unbiasedLimit = 256 - 256%len(alphabet)
)

// Generator generates short codes of a requested length.
type Generator interface {
	Generate(length int) (string, error)
}

// Func adapts an ordinary function to the Generator interface.
type Func func(length int) (string, error)

// Generate calls f(length).
func (f Func) Generate(length int) (string, error) { return f(length) }

type alphanumeric struct{}

// NewAlphanumeric returns a generator drawing uniformly from [0-9A-Za-z].
func NewAlphanumeric() Generator {
	return alphanumeric{}
}

func (alphanumeric) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= unbiasedLimit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}

// IsAlphanumeric reports whether s is non-empty and drawn from the code alphabet.
func IsAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
