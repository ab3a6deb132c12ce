package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "tl_9f2ce1...". 12 random bytes keep
// ids short enough to read in blob paths and logs while staying
// collision-safe at this scale.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
