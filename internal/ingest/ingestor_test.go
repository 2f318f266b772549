package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/fusion"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/queue"
)

func securityEnvelope(idem string, tsNs uint64, sourceIP, outcome string) *envelope.Envelope {
	return &envelope.Envelope{
		Version:        "amoskys/1",
		TsNs:           tsNs,
		IdempotencyKey: idem,
		Payload: &envelope.SecurityEvent{
			Category: "SSH_LOGIN",
			Action:   "SSH",
			Outcome:  outcome,
			SourceIP: sourceIP,
		},
	}
}

func seedQueue(t *testing.T, path string, envs ...*envelope.Envelope) {
	t.Helper()
	q, err := queue.Open(path, queue.DefaultConfig())
	require.NoError(t, err)
	defer q.Close()
	for _, env := range envs {
		_, err := q.Enqueue(env, env.IdempotencyKey)
		require.NoError(t, err)
	}
}

func newTestIngestor(t *testing.T, walPath string) (*Ingestor, *fusion.Engine) {
	t.Helper()
	store, err := fusion.OpenStore(filepath.Join(t.TempDir(), "fusion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := fusion.NewEngine(store, 30, logging.Noop{})
	cfg := &config.FusionConfig{
		WALPath:           walPath,
		PollIntervalSec:   10,
		WindowMinutes:     30,
		EvalIntervalSec:   60,
		SeenCacheCapacity: 10000,
	}
	return New(cfg, engine, logging.Noop{}), engine
}

func TestPollOnceIngestsNewRowsAndSkipsSeen(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.db")
	now := uint64(time.Now().UnixNano())
	seedQueue(t, walPath,
		securityEnvelope("k1", now, "9.9.9.9", "FAILURE"),
		securityEnvelope("k2", now, "9.9.9.9", "FAILURE"),
	)

	in, engine := newTestIngestor(t, walPath)
	in.PollOnce()
	require.Equal(t, 2, in.seen.Len())

	_, snap := engine.EvaluateDevice(filepath.Base(walPath))
	require.GreaterOrEqual(t, snap.Score, 10)

	in.PollOnce()
	require.Equal(t, 2, in.seen.Len(), "second pass must not re-ingest already-seen rows")
}

func TestPollOnceSkipsUnavailableSource(t *testing.T) {
	in, _ := newTestIngestor(t, filepath.Join(t.TempDir(), "missing-wal.db"))
	require.NotPanics(t, func() { in.PollOnce() })
}

func TestRunStopsOnContextCancel(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.db")
	seedQueue(t, walPath, securityEnvelope("k1", uint64(time.Now().UnixNano()), "9.9.9.9", "FAILURE"))

	in, _ := newTestIngestor(t, walPath)
	in.cfg.PollIntervalSec = 1
	in.cfg.EvalIntervalSec = 1

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, in.Run(ctx))
}
