package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// normalizeToken makes a cache namespace safe to embed in a Redis key.
func normalizeToken(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, v)
}

// hashToken hides potentially sensitive lookup keys (token digests, user
// identifiers) behind a fixed-length hash before they reach Redis.
func hashToken(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
