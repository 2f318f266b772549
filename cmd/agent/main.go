// AMOSKYS Hardened Agent
//
// A minimal host agent binary that wraps the heartbeat collector in the
// Hardened Agent Runtime (C5) and publishes to the Event Bus over mTLS.
//
// Usage:
//
//	go run ./cmd/agent -name host-01
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/agent"
	"github.com/amoskys/amoskys/internal/bus"
	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/envelope"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/tracing"
	"github.com/amoskys/amoskys/internal/wire"
)

// heartbeatCollector emits one MetricEvent per collection cycle,
// reporting that the host agent is alive. Real deployments swap this
// for a collector wrapping flow tables, auth logs, or process census.
type heartbeatCollector struct {
	name string
}

func (c *heartbeatCollector) CollectData(ctx context.Context) ([]envelope.Payload, error) {
	return []envelope.Payload{
		&envelope.MetricEvent{Name: c.name + "_heartbeat", Type: "gauge"},
	}, nil
}

func main() {
	name := flag.String("name", "amoskys-agent", "agent identity, used as the TLS client CN")
	busAddr := flag.String("bus-addr", "", "bus gRPC address, overrides config default")
	certDir := flag.String("cert-dir", "", "mTLS certificate directory, overrides config default")
	tracingEndpoint := flag.String("tracing-endpoint", "", "OTLP gRPC collector endpoint, overrides config default")
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.DefaultAgentConfig()
	if *busAddr != "" {
		cfg.BusAddress = *busAddr
	}
	if *certDir != "" {
		cfg.CertDir = *certDir
	}
	if *tracingEndpoint != "" {
		cfg.TracingEndpoint = *tracingEndpoint
	}

	shutdownTracer, err := tracing.InitTracer(*name, cfg.TracingEndpoint)
	if err != nil {
		logger.Error("tracing_init_failed", "error", err.Error())
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	creds, err := bus.LoadClientTLS(cfg.CertDir)
	if err != nil {
		logger.Error("client_tls_load_failed", "error", err.Error())
		os.Exit(1)
	}

	conn, err := grpc.NewClient(cfg.BusAddress,
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		logger.Error("bus_dial_failed", "error", err.Error())
		os.Exit(1)
	}
	defer conn.Close()
	client := wire.NewEventBusClient(conn)

	rt, err := agent.New(*name, cfg, logger)
	if err != nil {
		logger.Error("agent_init_failed", "error", err.Error())
		os.Exit(1)
	}
	rt.Collector = &heartbeatCollector{name: *name}
	rt.Publish = func(ctx context.Context, env *envelope.Envelope) (ack.Ack, error) {
		pack, err := client.Publish(ctx, env)
		if err != nil {
			return ack.Ack{Status: ack.Error}, err
		}
		return pack.ToAck(), nil
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", rt.HealthHandler())
	healthServer := &http.Server{Addr: cfg.MetricsAddr, Handler: healthMux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("agent_health_server_stopped_with_error", "error", err.Error())
		}
	}()
	defer healthServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
	}()

	logger.Info("agent_starting", "name", *name, "bus_address", cfg.BusAddress)
	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("agent_stopped_with_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("agent_stopped")
}
