package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"testing"

	"github.com/transferwave/identity-core/internal/fault"
)

func signAssertion(t *testing.T, priv *ecdsa.PrivateKey, signCount uint32) *WebAuthnAssertion {
	t.Helper()
	authData := make([]byte, 37)
	copy(authData, []byte("rpid-hash-placeholder-32-bytes!!")[:32])
	authData[32] = 0x01 // user present
	binary.BigEndian.PutUint32(authData[33:37], signCount)

	clientData := []byte(`{"type":"webauthn.get","challenge":"abc"}`)
	clientHash := sha256.Sum256(clientData)
	signed := append(append([]byte(nil), authData...), clientHash[:]...)
	digest := sha256.Sum256(signed)

	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &WebAuthnAssertion{
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
		Signature:         sig,
	}
}

func TestVerifyAssertion(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	assertion := signAssertion(t, priv, 7)
	count, err := VerifyAssertion(pubDER, assertion)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if count != 7 {
		t.Fatalf("sign count=%d want 7", count)
	}
}

func TestVerifyAssertionRejectsForgedSignature(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	otherPriv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	assertion := signAssertion(t, otherPriv, 1)
	if _, err := VerifyAssertion(pubDER, assertion); !fault.IsKind(err, fault.KindAuthFailure) {
		t.Fatalf("forged signature: got %v, want auth_failure", err)
	}
}

func TestVerifyAssertionRejectsTamperedClientData(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	assertion := signAssertion(t, priv, 3)
	assertion.ClientDataJSON = []byte(`{"type":"webauthn.get","challenge":"tampered"}`)
	if _, err := VerifyAssertion(pubDER, assertion); !fault.IsKind(err, fault.KindAuthFailure) {
		t.Fatalf("tampered client data: got %v, want auth_failure", err)
	}
}

func TestVerifyAssertionMalformed(t *testing.T) {
	if _, err := VerifyAssertion(nil, nil); !fault.IsKind(err, fault.KindInvalidState) {
		t.Fatalf("nil assertion: got %v, want invalid_state", err)
	}
	short := &WebAuthnAssertion{AuthenticatorData: []byte{0x01}}
	if _, err := VerifyAssertion(nil, short); !fault.IsKind(err, fault.KindInvalidState) {
		t.Fatalf("short auth data: got %v, want invalid_state", err)
	}
}
