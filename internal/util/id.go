package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed for logs and tokens.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + strings.ReplaceAll(id, "-", "")
}

// IsUUID reports whether value parses as a UUID. Used to tell a collection
// short id from its full id in URLs.
func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

const shortIDAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

// ShortID returns an n character id over an alphabet without look-alike
// characters, for collection URLs.
func ShortID(n int) string {
	if n <= 0 {
		n = 8
	}
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return string(buf)
}
