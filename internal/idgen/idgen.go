// Package idgen generates webhook subscription identifiers.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// SubscriptionPrefix marks subscription IDs.
const SubscriptionPrefix = "wh_"

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 16
)

// NewSubscriptionID returns a random, URL-safe subscription ID.
func NewSubscriptionID() (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return SubscriptionPrefix + id, nil
}

// IsSubscriptionID reports whether s has the shape NewSubscriptionID
// produces. IDs supplied by callers at creation need not match.
func IsSubscriptionID(s string) bool {
	rest, ok := strings.CutPrefix(s, SubscriptionPrefix)
	if !ok || len(rest) != length {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
