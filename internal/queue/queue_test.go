package queue

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/envelope"
)

func testEnvelope(t *testing.T, idem string, tsNs uint64) *envelope.Envelope {
	t.Helper()
	return &envelope.Envelope{
		Version:        "amoskys/1",
		TsNs:           tsNs,
		IdempotencyKey: idem,
		Payload: &envelope.SecurityEvent{
			Category: "SSH_LOGIN",
			Action:   "LOGIN",
			Outcome:  "FAILURE",
			SourceIP: "203.0.113.42",
		},
	}
}

func openTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ldq.db")
	q, err := Open(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDedup(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	r1, err := q.Enqueue(testEnvelope(t, "k1", 1), "k1")
	require.NoError(t, err)
	require.Equal(t, Queued, r1)

	r2, err := q.Enqueue(testEnvelope(t, "k1", 2), "k1")
	require.NoError(t, err)
	require.Equal(t, Duplicate, r2)

	n, err := q.Size()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestEnqueueOversizeDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEnvBytes = 10
	q := openTestQueue(t, cfg)
	r, err := q.Enqueue(testEnvelope(t, "k1", 1), "k1")
	require.NoError(t, err)
	require.Equal(t, DroppedOversize, r)

	n, err := q.Size()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDrainFIFO(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	_, err := q.Enqueue(testEnvelope(t, "a", 1), "a")
	require.NoError(t, err)
	_, err = q.Enqueue(testEnvelope(t, "b", 2), "b")
	require.NoError(t, err)

	var seen []string
	n, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
		seen = append(seen, e.IdempotencyKey)
		return ack.Ack{Status: ack.OK}, nil
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"a", "b"}, seen)

	size, _ := q.Size()
	require.Equal(t, 0, size)
}

func TestDrainRespectsLimit(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		_, err := q.Enqueue(testEnvelope(t, key, uint64(i)), key)
		require.NoError(t, err)
	}
	n, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
		return ack.Ack{Status: ack.OK}, nil
	}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	size, _ := q.Size()
	require.Equal(t, 3, size)
}

func TestDrainStopsOnRetryLeavingRemainder(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	_, _ = q.Enqueue(testEnvelope(t, "a", 1), "a")
	_, _ = q.Enqueue(testEnvelope(t, "b", 2), "b")
	_, _ = q.Enqueue(testEnvelope(t, "c", 3), "c")

	calls := 0
	n, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
		calls++
		if e.IdempotencyKey == "b" {
			return ack.Ack{Status: ack.Retry}, nil
		}
		return ack.Ack{Status: ack.OK}, nil
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n) // only "a" removed
	require.Equal(t, 2, calls)

	size, _ := q.Size()
	require.Equal(t, 2, size) // "b" and "c" remain

	retries, err := q.Retries("b")
	require.NoError(t, err)
	require.Equal(t, 1, retries)
}

func TestDrainStopsOnPublishError(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	_, _ = q.Enqueue(testEnvelope(t, "a", 1), "a")
	_, _ = q.Enqueue(testEnvelope(t, "b", 2), "b")

	n, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
		return ack.Ack{}, errors.New("network down")
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	retries, err := q.Retries("a")
	require.NoError(t, err)
	require.Equal(t, 1, retries)

	size, _ := q.Size()
	require.Equal(t, 2, size)
}

func TestDrainDropsAfterMaxRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	q := openTestQueue(t, cfg)
	_, _ = q.Enqueue(testEnvelope(t, "a", 1), "a")

	for i := 0; i < 2; i++ {
		_, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
			return ack.Ack{Status: ack.Retry}, nil
		}, 10)
		require.NoError(t, err)
	}
	retries, err := q.Retries("a")
	require.NoError(t, err)
	require.Equal(t, 2, retries)

	// third pass: row has reached MaxRetries, dropped without publishing
	calls := 0
	n, err := q.Drain(func(e *envelope.Envelope) (ack.Ack, error) {
		calls++
		return ack.Ack{Status: ack.OK}, nil
	}, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 0, calls)

	size, _ := q.Size()
	require.Equal(t, 0, size)
}

func TestBackpressureTailDrop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBytes = 1 // every envelope alone exceeds the budget, so each insert evicts rows
	q := openTestQueue(t, cfg)

	_, err := q.Enqueue(testEnvelope(t, "a", 1), "a")
	require.NoError(t, err)
	_, err = q.Enqueue(testEnvelope(t, "b", 2), "b")
	require.NoError(t, err)

	n, err := q.Size()
	require.NoError(t, err)
	require.LessOrEqual(t, n, 1)

	sizeBytes, err := q.SizeBytes()
	require.NoError(t, err)
	require.LessOrEqual(t, sizeBytes, cfg.MaxBytes+200)
}

func TestClear(t *testing.T) {
	q := openTestQueue(t, DefaultConfig())
	_, _ = q.Enqueue(testEnvelope(t, "a", 1), "a")
	_, _ = q.Enqueue(testEnvelope(t, "b", 2), "b")

	n, err := q.Clear()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	size, _ := q.Size()
	require.Equal(t, 0, size)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldq.db")
	cfg := DefaultConfig()

	q1, err := Open(path, cfg)
	require.NoError(t, err)
	_, err = q1.Enqueue(testEnvelope(t, "a", 1), "a")
	require.NoError(t, err)
	require.NoError(t, q1.Close())

	q2, err := Open(path, cfg)
	require.NoError(t, err)
	defer q2.Close()
	n, err := q2.Size()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSingleWriterLockEnforced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldq.db")
	q1, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	defer q1.Close()

	_, err = Open(path, DefaultConfig())
	require.Error(t, err)
}
