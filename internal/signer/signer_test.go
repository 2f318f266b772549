package signer

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("canonical-bytes-under-test")
	sig := Sign(priv, msg)
	require.Len(t, sig, SignatureSize)
	require.True(t, Verify(pub, msg, sig))
}

func TestVerifyFalseOnTamperedMessage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	sig := Sign(priv, []byte("original"))
	require.False(t, Verify(pub, []byte("tampered"), sig))
}

func TestVerifyFalseOnMismatchedKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	msg := []byte("msg")
	sig := Sign(priv, msg)
	require.False(t, Verify(otherPub, msg, sig))
}

func TestVerifyNeverPanicsOnMalformedSig(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.False(t, Verify(pub, []byte("msg"), []byte("short")))
	require.False(t, Verify(pub, []byte("msg"), nil))
	require.False(t, Verify(nil, []byte("msg"), make([]byte, SignatureSize)))
}

func TestLoadPrivateKeyRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("too-short"), 0o600))
	_, err := LoadPrivateKey(path)
	require.Error(t, err)
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pemBytes, err := MarshalPublicKeyPEM(pub)
	require.NoError(t, err)
	parsed, err := ParsePublicKeyPEM(pemBytes)
	require.NoError(t, err)
	require.Equal(t, pub, parsed)
}

func TestTrustMapLoadAndLookup(t *testing.T) {
	dir := t.TempDir()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pemBytes, err := MarshalPublicKeyPEM(pub)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-01.pem"), pemBytes, 0o644))

	tm, err := LoadTrustMapDir(dir)
	require.NoError(t, err)
	require.Equal(t, 1, tm.Size())
	got, ok := tm.Lookup("agent-01")
	require.True(t, ok)
	require.Equal(t, pub, got)

	_, ok = tm.Lookup("unknown")
	require.False(t, ok)
}
