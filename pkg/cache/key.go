package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "intel"

// Key identifies a cached record.
type Key struct {
	// Prefix namespaces keys, e.g. per environment.
	Prefix string

	// Prompt is the request text the record answers.
	Prompt string
}

// KeyFor returns the key for prompt under prefix.
func KeyFor(prefix, prompt string) Key {
	return Key{Prefix: prefix, Prompt: prompt}
}

// Hash returns the hex SHA-256 of the prompt with surrounding whitespace
// removed.
func (k Key) Hash() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(k.Prompt)))
	return hex.EncodeToString(sum[:])
}

// String generates a deterministic cache key string.
// Format: <prefix>:result:<sha256(prompt)>
func (k Key) String() string {
	prefix := strings.Trim(k.Prefix, ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":result:" + k.Hash()
}
