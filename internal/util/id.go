package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier such as "res_3f9a...". The 12 random
// bytes give 96 bits, plenty for ids minted one at a time by admins.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
