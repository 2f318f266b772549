package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/logging"
)

type fakeCollector struct {
	events []envelope.Payload
	err    error
}

func (f *fakeCollector) CollectData(ctx context.Context) ([]envelope.Payload, error) {
	return f.events, f.err
}

type rejectAllValidator struct{}

func (rejectAllValidator) ValidateEvent(envelope.Payload) (bool, []string) { return false, []string{"nope"} }

func newTestRuntime(t *testing.T, publish Publisher) *Runtime {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultAgentConfig()
	cfg.QueuePath = filepath.Join(dir, "agent.db")
	cfg.RetryMax = 2
	cfg.RetryTimeout = 0.001
	cfg.CollectionInterval = 0.001
	cfg.DrainLimit = 10

	r, err := New("test-agent", cfg, logging.Noop{})
	require.NoError(t, err)
	t.Cleanup(func() { r.queue.Close() })
	r.sleep = func(time.Duration) {}
	r.Collector = &fakeCollector{events: []envelope.Payload{
		&envelope.FlowEvent{SrcIP: "1.1.1.1", DstIP: "2.2.2.2", SrcPort: 1, DstPort: 2, Protocol: "tcp"},
	}}
	r.Publish = publish
	return r
}

func TestRunCyclePublishesSuccessfully(t *testing.T) {
	calls := 0
	r := newTestRuntime(t, func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		calls++
		return ack.Ack{Status: ack.OK}, nil
	})

	r.runCycle(context.Background())
	require.Equal(t, 1, calls)
	depth, err := r.queue.Size()
	require.NoError(t, err)
	require.Equal(t, 0, depth)
}

func TestRunCycleFallsBackToQueueOnRetryExhaustion(t *testing.T) {
	r := newTestRuntime(t, func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		return ack.Ack{Status: ack.Retry, BackoffHintMs: 1}, nil
	})

	r.runCycle(context.Background())
	depth, err := r.queue.Size()
	require.NoError(t, err)
	require.Equal(t, 1, depth)
}

func TestRunCycleDropsInvalidAckWithoutQueueing(t *testing.T) {
	r := newTestRuntime(t, func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		return ack.Ack{Status: ack.Invalid}, nil
	})

	r.runCycle(context.Background())
	depth, err := r.queue.Size()
	require.NoError(t, err)
	require.Equal(t, 0, depth)
}

func TestRunCycleRejectsInvalidEventsWithoutPublish(t *testing.T) {
	calls := 0
	r := newTestRuntime(t, func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		calls++
		return ack.Ack{Status: ack.OK}, nil
	})
	r.Validator = rejectAllValidator{}

	r.runCycle(context.Background())
	require.Equal(t, 0, calls)
}

func TestHealthSnapshotReflectsCycleCount(t *testing.T) {
	r := newTestRuntime(t, func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		return ack.Ack{Status: ack.OK}, nil
	})
	r.startedAt = time.Now()

	r.runCycle(context.Background())
	h := r.Health()
	require.EqualValues(t, 1, h.CollectionCount)
	require.Equal(t, "CLOSED", h.CircuitState)
}
