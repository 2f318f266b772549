// Package bus implements the Event Bus Server (C6): a mutual-TLS gRPC
// endpoint that runs every Publish call through six ordered gates
// (overload, size, admission, identity, signature, dedup), persists
// accepted envelopes to a write-ahead log, and exposes liveness,
// readiness, and metrics endpoints distinct from the RPC port.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/metrics"
	"github.com/amoskys/amoskys/internal/queue"
	"github.com/amoskys/amoskys/internal/signer"
	"github.com/amoskys/amoskys/internal/wire"
)

// Server implements wire.EventBusServer, running the gate pipeline
// described in the package doc.
type Server struct {
	cfg    *config.BusConfig
	logger logging.Logger
	trust  *signer.TrustMap
	wal    *queue.Queue
	dedup  *dedupCache

	inflight int64 // accessed via atomic

	overloadMu sync.RWMutex
	overload   bool
}

// NewServer builds a Server. wal is the bus's write-ahead log,
// structurally identical to the agent-side durable queue; trust is the
// peer-CN → public key table consulted by the identity gate.
func NewServer(cfg *config.BusConfig, logger logging.Logger, trust *signer.TrustMap, wal *queue.Queue) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		trust:    trust,
		wal:      wal,
		dedup:    newDedupCache(time.Duration(cfg.DedupeTTLSec)*time.Second, cfg.DedupeMax),
		overload: cfg.OverloadMode == "on",
	}
}

// SetOverload toggles the operator overload switch at runtime (e.g. from
// a SIGUSR1 handler or an admin endpoint), used when OverloadMode=="auto".
func (s *Server) SetOverload(on bool) {
	s.overloadMu.Lock()
	s.overload = on
	s.overloadMu.Unlock()
}

func (s *Server) isOverloaded() bool {
	if s.cfg.OverloadMode == "off" {
		return false
	}
	s.overloadMu.RLock()
	defer s.overloadMu.RUnlock()
	return s.overload
}

// Publish implements wire.EventBusServer. Gate order is fixed: overload,
// size, admission, identity, signature, dedup; the first gate to fail
// short-circuits the rest.
func (s *Server) Publish(ctx context.Context, env *envelope.Envelope) (*wire.PublishAck, error) {
	start := time.Now()
	result := ack.Ack{Status: ack.OK}
	defer func() {
		metrics.RecordBusRequest(result.Status.String(), time.Since(start).Seconds())
	}()

	// Gate 1: overload.
	if s.isOverloaded() {
		result = ack.Ack{Status: ack.Retry, Reason: "overload", BackoffHintMs: 2000}
		return wire.FromAck(result), nil
	}

	// Gate 2: size.
	size, err := env.Size()
	if err != nil {
		result = ack.Ack{Status: ack.Invalid, Reason: "malformed envelope"}
		return wire.FromAck(result), nil
	}
	if int64(size) > int64(s.cfg.MaxEnvBytes) {
		result = ack.Ack{Status: ack.Invalid, Reason: "oversize"}
		return wire.FromAck(result), nil
	}

	// Gate 3: admission (inflight counter, with a hard ceiling against
	// counter abuse).
	n := atomic.AddInt64(&s.inflight, 1)
	defer atomic.AddInt64(&s.inflight, -1)
	metrics.SetInflight(int(n))
	if n > int64(s.cfg.MaxInflight) || n > int64(s.cfg.HardMax) {
		result = ack.Ack{Status: ack.Retry, Reason: "inflight limit exceeded", BackoffHintMs: 500}
		return wire.FromAck(result), nil
	}

	// Gate 4: identity.
	cn, err := peerCommonName(ctx)
	if err != nil {
		s.logger.Warn("bus_identity_gate_failed", "error", err.Error())
		result = ack.Ack{Status: ack.Invalid, Reason: "unidentified peer"}
		return wire.FromAck(result), nil
	}
	pub, ok := s.trust.Lookup(cn)
	if !ok {
		s.logger.Warn("bus_identity_gate_untrusted", "peer", cn)
		result = ack.Ack{Status: ack.Invalid, Reason: "untrusted peer"}
		return wire.FromAck(result), nil
	}

	// Gate 5: signature.
	canonical, err := envelope.Canonical(env)
	if err != nil {
		result = ack.Ack{Status: ack.Invalid, Reason: "malformed envelope"}
		return wire.FromAck(result), nil
	}
	if !signer.Verify(pub, canonical, env.Sig) {
		s.logger.Warn("bus_signature_gate_failed", "peer", cn)
		result = ack.Ack{Status: ack.Invalid, Reason: "signature verification failed"}
		return wire.FromAck(result), nil
	}

	// Gate 6: dedup.
	if s.dedup.Seen(env.IdempotencyKey) {
		metrics.RecordDedupHit()
		result = ack.Ack{Status: ack.OK, Reason: "duplicate"}
		return wire.FromAck(result), nil
	}

	if _, err := s.wal.Enqueue(env, env.IdempotencyKey); err != nil {
		s.logger.Error("bus_wal_enqueue_failed", "peer", cn, "error", err.Error())
		result = ack.Ack{Status: ack.Error, Reason: "wal write failed"}
		return wire.FromAck(result), nil
	}

	s.logger.Debug("bus_envelope_accepted", "peer", cn, "idem", env.IdempotencyKey)
	result = ack.Ack{Status: ack.OK}
	return wire.FromAck(result), nil
}

// Inflight returns the current in-flight Publish count, for readiness
// checks and the admin API.
func (s *Server) Inflight() int64 {
	return atomic.LoadInt64(&s.inflight)
}

// DedupSize returns the current dedup LRU's entry count.
func (s *Server) DedupSize() int {
	return s.dedup.Len()
}

// ReloadTrust atomically reloads the trust map from dir, for use from a
// SIGHUP handler when operators rotate agent certificates without a bus
// restart.
func (s *Server) ReloadTrust(dir string) error {
	err := s.trust.Reload(dir)
	if err == nil {
		s.logger.Info("bus_trust_reloaded", "dir", dir, "peers", s.trust.Size())
	}
	return err
}
