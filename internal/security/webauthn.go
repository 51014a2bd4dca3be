package security

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"

	"github.com/transferwave/identity-core/internal/fault"
)

// WebAuthnAssertion is the authenticator response a controller forwards for
// verification.
type WebAuthnAssertion struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
}

const authenticatorDataMinLen = 37

// VerifyAssertion checks an assertion signature against a stored PKIX-encoded
// ECDSA public key and returns the authenticator's reported sign count. The
// caller compares the count against the stored one; a non-increasing value is
// a replay signal.
func VerifyAssertion(publicKeyDER []byte, assertion *WebAuthnAssertion) (uint32, error) {
	if assertion == nil || len(assertion.AuthenticatorData) < authenticatorDataMinLen {
		return 0, fault.InvalidState("malformed webauthn assertion")
	}
	pub, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return 0, fault.Wrap(fault.KindInvalidState, "parse credential public key", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, errors.New("unsupported credential key type")
	}

	// Signed message is authenticatorData || SHA-256(clientDataJSON).
	clientHash := sha256.Sum256(assertion.ClientDataJSON)
	signed := append(append([]byte(nil), assertion.AuthenticatorData...), clientHash[:]...)
	digest := sha256.Sum256(signed)

	if !ecdsa.VerifyASN1(ecPub, digest[:], assertion.Signature) {
		return 0, fault.AuthFailure("webauthn assertion signature invalid")
	}
	return SignCountFromAuthData(assertion.AuthenticatorData), nil
}

// SignCountFromAuthData extracts the big-endian signature counter at bytes
// 33..37 of the authenticator data.
func SignCountFromAuthData(authData []byte) uint32 {
	if len(authData) < authenticatorDataMinLen {
		return 0
	}
	return binary.BigEndian.Uint32(authData[33:37])
}
