// Package agent implements the Hardened Agent Runtime (C5): a single
// cooperative loop that wraps a collector's raw probe events in
// validation, enrichment, breaker-guarded publish-with-retry, and local
// durable queueing, grounded on the original AMOSKYS agent base classes'
// setup/collect/validate/enrich/publish/drain/sleep lifecycle.
package agent

import (
	"context"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/breaker"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/metrics"
	"github.com/amoskys/amoskys/internal/queue"
	"github.com/amoskys/amoskys/internal/tracing"
	"github.com/amoskys/amoskys/internal/wire"
)

var agentTracer = tracing.Tracer("amoskys/agent")

// Collector is the per-agent-type responsibility: produce raw probe
// events for one collection cycle. Implementations wrap host-specific
// telemetry sources (flow tables, /proc, auth logs, SNMP walks, ...).
type Collector interface {
	CollectData(ctx context.Context) ([]envelope.Payload, error)
}

// Validator checks one event for structural/semantic validity before it
// leaves the agent. A nil Validator accepts everything.
type Validator interface {
	ValidateEvent(p envelope.Payload) (valid bool, errs []string)
}

// Enricher adds context to a valid event. Enrichment failures must not
// drop the event: Enrich should log and return p
// unchanged rather than an error when it cannot enrich.
type Enricher interface {
	Enrich(p envelope.Payload) envelope.Payload
}

// Publisher is the breaker-guarded transport the runtime calls on every
// publish attempt. It is usually wire.EventBusClient.Publish, adapted.
type Publisher func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error)

// HealthSnapshot is the per-agent status surface.
type HealthSnapshot struct {
	AgentName          string
	Uptime             time.Duration
	LastCollectionAt   time.Time
	CollectionCount    int64
	ErrorCount         int64
	CircuitState       string
	LDQDepth           int
}

// Runtime drives one agent's lifecycle. Construct with New, assign a
// Collector (and optionally Validator/Enricher), then call Run.
type Runtime struct {
	Name      string
	Collector Collector
	Validator Validator
	Enricher  Enricher
	Publish   Publisher

	cfg     *config.AgentConfig
	logger  logging.Logger
	queue   *queue.Queue
	breaker *breaker.Breaker

	mu              sync.Mutex
	isRunning       bool
	startedAt       time.Time
	lastCollection  time.Time
	collectionCount int64
	errorCount      int64

	sleep func(d time.Duration) // overridable for tests
	now   func() time.Time
}

// New opens the agent's LDQ and builds a Runtime ready to Run.
func New(name string, cfg *config.AgentConfig, logger logging.Logger) (*Runtime, error) {
	q, err := queue.Open(cfg.QueuePath, queue.Config{
		MaxEnvBytes: int64(cfg.MaxEnvBytes),
		MaxBytes:    cfg.MaxQueueBytes,
		MaxRetries:  8,
	})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Name:    name,
		cfg:     cfg,
		logger:  logger,
		queue:   q,
		breaker: breaker.New(breaker.DefaultConfig()),
		sleep:   time.Sleep,
		now:     time.Now,
	}, nil
}

// Health returns a point-in-time health snapshot.
func (r *Runtime) Health() HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	depth, _ := r.queue.Size()
	return HealthSnapshot{
		AgentName:        r.Name,
		Uptime:           r.now().Sub(r.startedAt),
		LastCollectionAt: r.lastCollection,
		CollectionCount:  r.collectionCount,
		ErrorCount:       r.errorCount,
		CircuitState:     r.breaker.State().String(),
		LDQDepth:         depth,
	}
}

// Run executes the setup → signal-install → loop → shutdown lifecycle
// until ctx is cancelled or a termination signal arrives.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	r.isRunning = true
	r.startedAt = r.now()
	r.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case sig := <-sigCh:
			// SIGHUP triggers the same orderly exit as SIGINT/SIGTERM: the
			// agent has no live config to swap in-process, so a reload is
			// a clean exit and re-exec by whatever supervises this process.
			if sig == syscall.SIGHUP {
				r.logger.Info("agent_reload_signal", "agent", r.Name, "signal", sig.String())
			} else {
				r.logger.Info("agent_shutdown_signal", "agent", r.Name, "signal", sig.String())
			}
			r.mu.Lock()
			r.isRunning = false
			r.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := time.Duration(r.cfg.CollectionInterval * float64(time.Second))
	for r.running() && ctx.Err() == nil {
		cycleStart := r.now()
		r.runCycle(ctx)

		elapsed := r.now().Sub(cycleStart)
		remaining := interval - elapsed
		if remaining > 0 {
			r.sleep(remaining)
		}
	}

	return r.shutdown()
}

func (r *Runtime) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

func (r *Runtime) runCycle(ctx context.Context) {
	cycleStart := r.now()
	// Drain phase: only when the breaker is not OPEN.
	if r.breaker.State() != breaker.Open {
		if err := r.drain(ctx); err != nil {
			r.logger.Warn("agent_drain_failed", "agent", r.Name, "error", err.Error())
		}
	}

	raw, err := r.Collector.CollectData(ctx)
	if err != nil {
		r.logger.Error("agent_collect_failed", "agent", r.Name, "error", err.Error())
		r.bumpError()
		metrics.RecordAgentEvent(r.Name, "collect_error")
		return
	}

	valid := 0
	rejected := 0
	for _, p := range raw {
		if r.Validator != nil {
			ok, errs := r.Validator.ValidateEvent(p)
			if !ok {
				r.logger.Debug("agent_event_rejected", "agent", r.Name, "errors", errs)
				rejected++
				metrics.RecordAgentEvent(r.Name, "rejected")
				continue
			}
		}
		valid++

		if r.Enricher != nil {
			p = r.Enricher.Enrich(p)
		}

		env := &envelope.Envelope{
			Version:        "amoskys/1",
			TsNs:           uint64(r.now().UnixNano()),
			IdempotencyKey: envelope.NewIdempotencyKey(),
			Payload:        p,
		}
		r.publishWithRetry(ctx, env)
	}

	r.mu.Lock()
	r.collectionCount++
	r.lastCollection = r.now()
	r.mu.Unlock()

	metrics.RecordAgentCycle(r.Name, r.now().Sub(cycleStart).Seconds())
	r.logger.Debug("agent_cycle_completed", "agent", r.Name, "raw", len(raw), "valid", valid, "rejected", rejected)
}

// drain wraps the drain phase in a span, since it fans out to however
// many rows are eligible and is worth seeing as one unit in a trace
// alongside the publish spans its republishing triggers.
func (r *Runtime) drain(ctx context.Context) error {
	ctx, span := agentTracer.Start(ctx, "drain")
	defer span.End()
	_, err := r.queue.Drain(r.drainPublish(ctx), r.cfg.DrainLimit)
	return err
}

// publish wraps a single Publisher call in a span, shared by the live
// retry path and the drain republish path.
func (r *Runtime) publish(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
	ctx, span := agentTracer.Start(ctx, "publish")
	defer span.End()
	return r.Publish(ctx, env)
}

// publishWithRetry attempts up to RetryMax breaker-guarded publishes with
// exponential backoff capped at 2s. On
// circuit-open or exhaustion it falls back to the LDQ.
func (r *Runtime) publishWithRetry(ctx context.Context, env *envelope.Envelope) {
	const backoffCap = 2 * time.Second
	base := time.Duration(r.cfg.RetryTimeout * float64(time.Second))

	for attempt := 1; attempt <= r.cfg.RetryMax; attempt++ {
		var result ack.Ack
		callErr := r.breaker.Call(func() error {
			a, err := r.publish(ctx, env)
			if err != nil {
				return err
			}
			result = a
			if result.Status == ack.Error {
				return errAckError
			}
			return nil
		})

		if callErr != nil {
			if _, isOpen := callErr.(*breaker.ErrOpen); isOpen {
				break
			}
			r.bumpError()
			metrics.RecordAgentEvent(r.Name, "publish_error")
		} else {
			switch result.Status {
			case ack.OK:
				metrics.RecordAgentEvent(r.Name, "published")
				return
			case ack.Invalid:
				// Permanent rejection: drop, never retry.
				metrics.RecordAgentEvent(r.Name, "rejected")
				return
			case ack.Retry:
				// fall through to backoff below
			}
		}

		backoff := time.Duration(math.Min(float64(backoffCap), float64(base)*math.Pow(2, float64(attempt-1))))
		r.sleep(backoff)
	}

	if _, err := r.queue.Enqueue(env, env.IdempotencyKey); err != nil {
		r.logger.Error("agent_enqueue_failed", "agent", r.Name, "error", err.Error())
		r.bumpError()
	} else {
		metrics.RecordAgentEvent(r.Name, "queued")
	}
}

var errAckError = &publishAckError{}

type publishAckError struct{}

func (*publishAckError) Error() string { return "agent: publish returned ERROR ack" }

// drainPublish adapts Publisher into queue.PublishFunc for the drain
// phase: a drained row is simply republished through the same traced
// publish call used by live events, outside the breaker and without the
// retry loop (a
// stuck row should surface as RETRY/ERROR and stop draining, per the
// LDQ's own contract, not be retried inline here).
func (r *Runtime) drainPublish(ctx context.Context) queue.PublishFunc {
	return func(env *envelope.Envelope) (ack.Ack, error) {
		return r.publish(ctx, env)
	}
}

func (r *Runtime) bumpError() {
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

// shutdown performs a best-effort flush/close and reports any close
// error to the caller.
func (r *Runtime) shutdown() error {
	r.logger.Info("agent_shutdown", "agent", r.Name)
	return r.queue.Close()
}

// WirePublisher adapts a wire.EventBusClient into a Publisher.
func WirePublisher(client wire.EventBusClient) Publisher {
	return func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		resp, err := client.Publish(ctx, env)
		if err != nil {
			return ack.Ack{}, err
		}
		return resp.ToAck(), nil
	}
}
