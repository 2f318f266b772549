// AMOSKYS Correlator
//
// Standalone process hosting the Telemetry Ingestor (C7) and Fusion
// Engine (C8): polls the bus WAL and agent LDQ files, feeds accepted
// events into the correlation window, and periodically re-evaluates
// every known device's risk score.
//
// Usage:
//
//	go run ./cmd/correlator
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoskys/amoskys/internal/archive"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/fusion"
	"github.com/amoskys/amoskys/internal/ingest"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/tracing"
	"github.com/amoskys/amoskys/internal/webapi"
)

func main() {
	fusionDBPath := flag.String("fusion-db", "", "fusion database path, overrides config default")
	tracingEndpoint := flag.String("tracing-endpoint", "", "OTLP gRPC collector endpoint, overrides config default")
	archiveDSN := flag.String("archive-dsn", "", "Postgres DSN for long-term incident archival, overrides config default")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.DefaultFusionConfig()
	if *fusionDBPath != "" {
		cfg.FusionDBPath = *fusionDBPath
	}
	if *tracingEndpoint != "" {
		cfg.TracingEndpoint = *tracingEndpoint
	}
	if *archiveDSN != "" {
		cfg.ArchiveDSN = *archiveDSN
	}

	shutdownTracer, err := tracing.InitTracer("amoskys-correlator", cfg.TracingEndpoint)
	if err != nil {
		logger.Error("tracing_init_failed", "error", err.Error())
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	store, err := fusion.OpenStore(cfg.FusionDBPath)
	if err != nil {
		logger.Error("fusion_store_open_failed", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	engine := fusion.NewEngine(store, cfg.WindowMinutes, logger)
	if cfg.ArchiveDSN != "" {
		archiveRepo, err := archive.Open(cfg.ArchiveDSN)
		if err != nil {
			logger.Error("archive_open_failed", "error", err.Error())
			os.Exit(1)
		}
		engine.SetArchiver(archiveRepo)
		logger.Info("archive_enabled")
	}
	ingestor := ingest.New(cfg, engine, logger)

	api := webapi.New(store, logger)
	apiServer := &http.Server{Addr: cfg.WebAPIAddr, Handler: api}
	go func() {
		logger.Info("webapi_starting", "address", cfg.WebAPIAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("webapi_stopped_with_error", "error", err.Error())
		}
	}()
	defer apiServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		// SIGHUP gets the same orderly exit as SIGINT/SIGTERM: the
		// correlator has no live config to swap in-process, so a reload
		// is a clean exit and re-exec by whatever supervises this process.
		logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
	}()

	logger.Info("correlator_starting", "wal", cfg.WALPath, "agent_glob", cfg.AgentQueueGlob, "fusion_db", cfg.FusionDBPath)
	if err := ingestor.Run(ctx); err != nil {
		logger.Error("correlator_stopped_with_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("correlator_stopped")
}
