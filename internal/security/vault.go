package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/transferwave/identity-core/internal/fault"
)

const (
	// envelopeIVSize matches the 16-byte IV of already-stored envelopes.
	envelopeIVSize  = 16
	envelopeTagSize = 16
)

// Envelope is the wire format for encrypted payloads. Field names and hex
// encoding must stay bit-for-bit compatible with data already at rest.
type Envelope struct {
	IV            string `json:"iv"`
	EncryptedData string `json:"encryptedData"`
	AuthTag       string `json:"authTag"`
}

// Vault performs authenticated encryption of secret payloads with
// AES-256-GCM. A fresh random IV is drawn for every Seal call; IV reuse
// under the same key breaks both confidentiality and authenticity.
type Vault struct {
	keys KeyProvider
	rand io.Reader
}

func NewVault(keys KeyProvider) *Vault {
	return &Vault{keys: keys, rand: rand.Reader}
}

func (v *Vault) aead() (cipher.AEAD, error) {
	key, err := v.keys.VaultKey()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "vault key unavailable", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, envelopeIVSize)
}

// Encrypt seals plaintext into an Envelope.
func (v *Vault) Encrypt(plaintext []byte) (*Envelope, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	iv := make([]byte, envelopeIVSize)
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "draw iv", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	// GCM appends the tag; the envelope carries it as a separate field.
	split := len(sealed) - envelopeTagSize
	return &Envelope{
		IV:            hex.EncodeToString(iv),
		EncryptedData: hex.EncodeToString(sealed[:split]),
		AuthTag:       hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens an Envelope, verifying the authentication tag before any
// plaintext is returned. Tag mismatch fails closed as TamperDetected.
func (v *Vault) Decrypt(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fault.InvalidState("nil envelope")
	}
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != envelopeIVSize {
		return nil, fault.InvalidState("malformed envelope iv")
	}
	data, err := hex.DecodeString(env.EncryptedData)
	if err != nil {
		return nil, fault.InvalidState("malformed envelope ciphertext")
	}
	tag, err := hex.DecodeString(env.AuthTag)
	if err != nil || len(tag) != envelopeTagSize {
		return nil, fault.InvalidState("malformed envelope auth tag")
	}
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return nil, fault.TamperDetected("envelope authentication failed")
	}
	return plaintext, nil
}

// EncryptToJSON seals plaintext and marshals the envelope for storage.
func (v *Vault) EncryptToJSON(plaintext []byte) (string, error) {
	env, err := v.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecryptFromJSON parses a stored envelope and opens it.
func (v *Vault) DecryptFromJSON(raw string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fault.InvalidState("malformed envelope json")
	}
	return v.Decrypt(&env)
}
