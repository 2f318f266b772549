// Package signer implements AMOSKYS's Ed25519 signing and verification.
// It is deliberately Ed25519-only: no algorithm agility,
// no negotiation.
package signer

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// SignatureSize is the fixed size of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// LoadPrivateKey reads a raw 32-byte Ed25519 seed file. Any other length
// fails to load — there is no PEM or PKCS8 fallback for private keys.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read private key: %w", err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer: private key at %s is %d bytes, want %d", path, len(raw), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// LoadPublicKey reads a standard PKIX PEM-encoded Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read public key: %w", err)
	}
	return ParsePublicKeyPEM(raw)
}

// ParsePublicKeyPEM decodes a PEM block and the PKIX-encoded Ed25519 key
// inside it.
func ParsePublicKeyPEM(raw []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signer: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signer: parse PKIX public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signer: key is not Ed25519")
	}
	return edPub, nil
}

// MarshalPublicKeyPEM encodes an Ed25519 public key as a PKIX PEM block,
// the inverse of ParsePublicKeyPEM. Used by tests and key-provisioning
// tooling.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal PKIX public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Sign signs canonical bytes with an Ed25519 private key. Deterministic:
// the same (key, bytes) pair always yields the same signature.
func Sign(sk ed25519.PrivateKey, canonicalBytes []byte) []byte {
	return ed25519.Sign(sk, canonicalBytes)
}

// Verify reports whether sig is a valid Ed25519 signature over
// canonicalBytes under pk. It never panics: malformed signatures, the
// wrong key, or tampered data all simply return false.
func Verify(pk ed25519.PublicKey, canonicalBytes, sig []byte) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, canonicalBytes, sig)
}
