package bus

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/queue"
	"github.com/amoskys/amoskys/internal/signer"
)

func testServer(t *testing.T) (*Server, ed25519.PrivateKey, string) {
	t.Helper()
	dir := t.TempDir()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	trust := signer.NewTrustMap()
	trust.Set("agent-01", pub)

	wal, err := queue.Open(filepath.Join(dir, "wal.db"), queue.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { wal.Close() })

	cfg := config.DefaultBusConfig()
	cfg.OverloadMode = "off"
	cfg.MaxEnvBytes = 131072
	cfg.MaxInflight = 100
	cfg.HardMax = 500
	cfg.DedupeTTLSec = 300
	cfg.DedupeMax = 50000

	s := NewServer(cfg, logging.Noop{}, trust, wal)
	return s, priv, "agent-01"
}

func ctxWithPeerCN(cn string) context.Context {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: cn}}
	info := credentials.TLSInfo{
		State: tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{cert}}},
	}
	return peer.NewContext(context.Background(), &peer.Peer{AuthInfo: info})
}

func signedEnvelope(t *testing.T, priv ed25519.PrivateKey, idem string) *envelope.Envelope {
	t.Helper()
	env := &envelope.Envelope{
		Version:        "amoskys/1",
		TsNs:           1,
		IdempotencyKey: idem,
		Payload:        &envelope.FlowEvent{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2, Protocol: "tcp"},
	}
	canon, err := envelope.Canonical(env)
	require.NoError(t, err)
	env.Sig = signer.Sign(priv, canon)
	return env
}

func TestPublishAcceptsValidEnvelope(t *testing.T) {
	s, priv, cn := testServer(t)
	env := signedEnvelope(t, priv, "idem-1")

	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.OK), resp.Status)
}

func TestPublishDedupReturnsOKWithoutDoublePersist(t *testing.T) {
	s, priv, cn := testServer(t)
	env := signedEnvelope(t, priv, "idem-dup")

	_, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)

	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.OK), resp.Status)
	require.Equal(t, "duplicate", resp.Reason)
}

func TestPublishOversizeBeforeSignature(t *testing.T) {
	s, priv, cn := testServer(t)
	s.cfg.MaxEnvBytes = 10 // force oversize regardless of content

	env := signedEnvelope(t, priv, "idem-oversize")
	env.Sig = nil // also unsigned: size gate must win over signature gate

	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.Invalid), resp.Status)
	require.Equal(t, "oversize", resp.Reason)
}

func TestPublishOverloadReturnsRetry(t *testing.T) {
	s, priv, cn := testServer(t)
	s.cfg.OverloadMode = "auto"
	s.SetOverload(true)

	env := signedEnvelope(t, priv, "idem-overload")
	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.Retry), resp.Status)
	require.EqualValues(t, 2000, resp.BackoffHintMs)
}

func TestPublishUntrustedPeerInvalid(t *testing.T) {
	s, priv, _ := testServer(t)
	env := signedEnvelope(t, priv, "idem-untrusted")

	resp, err := s.Publish(ctxWithPeerCN("agent-unknown"), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.Invalid), resp.Status)
}

func TestPublishBadSignatureInvalid(t *testing.T) {
	s, _, cn := testServer(t)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	env := signedEnvelope(t, otherPriv, "idem-badsig")
	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.Invalid), resp.Status)
}

func TestPublishAdmissionGateRejectsOverInflight(t *testing.T) {
	s, priv, cn := testServer(t)
	s.cfg.MaxInflight = 0

	env := signedEnvelope(t, priv, "idem-admission")
	resp, err := s.Publish(ctxWithPeerCN(cn), env)
	require.NoError(t, err)
	require.Equal(t, int32(ack.Retry), resp.Status)
}
