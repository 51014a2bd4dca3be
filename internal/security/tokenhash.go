package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Refresh-token secrets are stored two ways: a deterministic keyed digest for
// O(1) redemption lookup, and a bcrypt verifier checked after the lookup so a
// leaked database plus pepper still costs a slow hash per guess.

// TokenHasher derives both forms from one opaque secret.
type TokenHasher struct {
	pepper []byte
	cost   int
}

func NewTokenHasher(pepper string) *TokenHasher {
	return &TokenHasher{pepper: []byte(pepper), cost: bcrypt.DefaultCost}
}

// LookupDigest is HMAC-SHA256(pepper, secret), hex-encoded. Deterministic,
// so it can be indexed.
func (h *TokenHasher) LookupDigest(secret string) string {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier returns the salted one-way hash stored alongside the digest.
func (h *TokenHasher) Verifier(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches checks the secret against a stored verifier.
func (h *TokenHasher) Matches(secret, verifier string) bool {
	return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(secret)) == nil
}

// NewOpaqueSecret draws a 256-bit random secret, URL-safe base64 encoded.
func NewOpaqueSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
