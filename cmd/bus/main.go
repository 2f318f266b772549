// AMOSKYS Event Bus Server
//
// Standalone gRPC server for the Event Bus (C6): accepts signed
// telemetry envelopes from agents, runs them through the admission
// pipeline, and appends accepted envelopes to the write-ahead log.
//
// Usage:
//
//	go run ./cmd/bus                  # use defaults
//	go run ./cmd/bus -addr :50052      # override bind address
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amoskys/amoskys/internal/bus"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/queue"
	"github.com/amoskys/amoskys/internal/signer"
	"github.com/amoskys/amoskys/internal/tracing"
)

func main() {
	addr := flag.String("addr", "", "gRPC bind address, overrides config default")
	certDir := flag.String("cert-dir", "", "mTLS certificate directory, overrides config default")
	tracingEndpoint := flag.String("tracing-endpoint", "", "OTLP gRPC collector endpoint, overrides config default")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		log.Fatalf("logging init: %v", err)
	}
	defer logger.Sync()

	cfg := config.DefaultBusConfig()
	if *addr != "" {
		cfg.BusAddress = *addr
	}
	if *certDir != "" {
		cfg.CertDir = *certDir
	}
	if *tracingEndpoint != "" {
		cfg.TracingEndpoint = *tracingEndpoint
	}

	shutdownTracer, err := tracing.InitTracer("amoskys-bus", cfg.TracingEndpoint)
	if err != nil {
		logger.Error("tracing_init_failed", "error", err.Error())
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	trust, err := signer.LoadTrustMapDir(cfg.CertDir)
	if err != nil {
		logger.Error("trust_map_load_failed", "error", err.Error())
		os.Exit(1)
	}

	wal, err := queue.Open(cfg.WALPath, queue.DefaultConfig())
	if err != nil {
		logger.Error("wal_open_failed", "error", err.Error())
		os.Exit(1)
	}
	defer wal.Close()

	server := bus.NewServer(cfg, logger, trust, wal)
	grpcServer, err := bus.NewGracefulServer(cfg, server, logger)
	if err != nil {
		logger.Error("bus_server_init_failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("reload_signal_received", "signal", sig.String())
				if err := server.ReloadTrust(cfg.CertDir); err != nil {
					logger.Error("trust_reload_failed", "error", err.Error())
				}
				continue
			}
			logger.Info("shutdown_signal_received", "signal", sig.String())
			cancel()
			return
		}
	}()

	logger.Info("bus_starting", "address", cfg.BusAddress)
	if err := grpcServer.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("bus_stopped_with_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("bus_stopped")
}
