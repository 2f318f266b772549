// Package ingest implements the Telemetry Ingestor (C7): a
// single-threaded poll loop that reads agent LDQ files and the bus's
// write-ahead log read-only, flattens accepted envelopes into fusion
// correlation views, and periodically triggers a full fusion
// evaluation pass.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/fusion"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/tracing"
)

var ingestTracer = tracing.Tracer("amoskys/ingest")

// Ingestor drives the C7 poll loop against a configured set of
// sources: the bus WAL (authoritative) and any agent LDQ files
// matching the configured glob (read-only diagnostics during
// outages).
type Ingestor struct {
	cfg    *config.FusionConfig
	engine *fusion.Engine
	logger logging.Logger
	seen   *seenCache

	glob func(pattern string) ([]string, error)
	now  func() time.Time
}

// New builds an Ingestor over engine, configured per cfg.
func New(cfg *config.FusionConfig, engine *fusion.Engine, logger logging.Logger) *Ingestor {
	return &Ingestor{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		seen:   newSeenCache(cfg.SeenCacheCapacity),
		glob:   filepath.Glob,
		now:    time.Now,
	}
}

// Run executes the poll loop until ctx is cancelled: poll every
// PollIntervalSec, trigger a full fusion evaluation every
// EvalIntervalSec.
func (in *Ingestor) Run(ctx context.Context) error {
	pollInterval := time.Duration(in.cfg.PollIntervalSec) * time.Second
	evalInterval := time.Duration(in.cfg.EvalIntervalSec) * time.Second

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	evalTicker := time.NewTicker(evalInterval)
	defer evalTicker.Stop()

	in.PollOnce()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			in.PollOnce()
		case <-evalTicker.C:
			in.evaluateAllDevices(ctx)
		}
	}
}

// evaluateAllDevices wraps the periodic fusion pass in a span so a
// trace backend can show how long correlation takes relative to the
// poll loop it shares a goroutine with.
func (in *Ingestor) evaluateAllDevices(ctx context.Context) {
	_, span := ingestTracer.Start(ctx, "evaluate_all_devices")
	defer span.End()
	in.engine.EvaluateAllDevices()
}

// PollOnce runs one polling pass across every configured source. A
// source that cannot be opened (locked, missing) is logged and
// skipped; the pass continues with the remaining sources.
func (in *Ingestor) PollOnce() {
	sources := []string{in.cfg.WALPath}
	if in.cfg.AgentQueueGlob != "" {
		matches, err := in.glob(in.cfg.AgentQueueGlob)
		if err != nil {
			in.logger.Warn("ingest_glob_failed", "pattern", in.cfg.AgentQueueGlob, "error", err.Error())
		} else {
			sources = append(sources, matches...)
		}
	}

	cutoff := in.now().Add(-time.Duration(in.cfg.WindowMinutes) * time.Minute)
	for _, src := range sources {
		in.pollSource(src, cutoff)
	}
}

func (in *Ingestor) pollSource(path string, cutoff time.Time) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		in.logger.Warn("ingest_source_open_failed", "source", path, "error", err.Error())
		return
	}
	defer db.Close()

	cutoffNs := uint64(cutoff.UnixNano())
	rows, err := db.Query(`SELECT idem, ts_ns, bytes FROM queue WHERE ts_ns > ? ORDER BY id ASC`, cutoffNs)
	if err != nil {
		in.logger.Warn("ingest_source_query_failed", "source", path, "error", err.Error())
		return
	}
	defer rows.Close()

	deviceFallback := filepath.Base(path)
	count := 0
	for rows.Next() {
		var (
			idem  string
			tsNs  uint64
			bytes []byte
		)
		if err := rows.Scan(&idem, &tsNs, &bytes); err != nil {
			in.logger.Warn("ingest_row_scan_failed", "source", path, "error", err.Error())
			continue
		}

		key := path + "|" + idem
		if in.seen.MarkSeen(key) {
			continue
		}

		var env envelope.Envelope
		if err := env.Unmarshal(bytes); err != nil {
			in.logger.Warn("ingest_row_parse_failed", "source", path, "idem", idem, "error", err.Error())
			continue // already marked seen above: not retried forever
		}

		for _, view := range flattenEnvelope(&env, deviceFallback) {
			in.engine.AddEvent(view)
			count++
		}
	}

	if err := rows.Err(); err != nil {
		in.logger.Warn("ingest_source_rows_failed", "source", path, "error", err.Error())
	}
	if count > 0 {
		in.logger.Debug("ingest_source_polled", "source", path, "events", count)
	}
}
