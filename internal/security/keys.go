package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const vaultKeySize = 32

// KeyProvider supplies the AES-256 key used by the Vault. Implementations
// back onto whatever secret store the deployment uses; the core never embeds
// a fallback key.
type KeyProvider interface {
	VaultKey() ([]byte, error)
}

// StaticKeyProvider holds key material handed over at construction, typically
// decoded from configuration.
type StaticKeyProvider struct {
	key []byte
}

func NewStaticKeyProvider(key []byte) (*StaticKeyProvider, error) {
	if len(key) != vaultKeySize {
		return nil, fmt.Errorf("vault key must be %d bytes, got %d", vaultKeySize, len(key))
	}
	return &StaticKeyProvider{key: append([]byte(nil), key...)}, nil
}

// NewStaticKeyProviderHex decodes a hex-encoded 32-byte key.
func NewStaticKeyProviderHex(encoded string) (*StaticKeyProvider, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode vault key: %w", err)
	}
	return NewStaticKeyProvider(key)
}

func (p *StaticKeyProvider) VaultKey() ([]byte, error) {
	return append([]byte(nil), p.key...), nil
}

// GenerateVaultKey returns a fresh random key, hex-encoded for storage in a
// secret manager.
func GenerateVaultKey() (string, error) {
	key := make([]byte, vaultKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
