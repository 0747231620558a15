// Package id generates prefixed identifiers for persisted entities.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the entities this server persists.
const (
	PrefixBook = "bk"
)

const (
	// Lowercase alphanumerics keep IDs safe in URLs, logs, and case-insensitive
	// filesystems.
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	size     = 16
)

// Generate creates a prefixed unique ID, e.g. "bk-3k9x0c1mz7q2p8ad".
// Returns an error if the system has insufficient entropy.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.Generate(alphabet, size)
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// Book returns a new cached book identifier.
func Book() (string, error) {
	return Generate(PrefixBook)
}
