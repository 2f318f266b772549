package bus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/amoskys/amoskys/internal/config"
	"github.com/amoskys/amoskys/internal/logging"
	"github.com/amoskys/amoskys/internal/wire"
)

// GracefulServer wraps the gRPC bus server plus its sidecar HTTP
// listener (liveness/readiness/metrics): Start blocks until ctx
// cancellation, StartBackground returns immediately,
// GracefulStop/Stop/ShutdownWithTimeout give callers a choice of
// shutdown discipline.
type GracefulServer struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	bus        *Server
	logger     logging.Logger
	address    string
	httpAddr   string

	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer builds the gRPC server (with mTLS credentials from
// cfg.CertDir) and its HTTP sidecar, and registers bus under the wire
// package's hand-authored ServiceDesc.
func NewGracefulServer(cfg *config.BusConfig, bus *Server, logger logging.Logger) (*GracefulServer, error) {
	creds, err := loadServerTLS(cfg.CertDir)
	if err != nil {
		return nil, fmt.Errorf("bus: tls setup: %w", err)
	}

	opts := append(serverOptions(logger), grpc.Creds(creds))
	grpcServer := grpc.NewServer(opts...)
	wire.RegisterEventBusServer(grpcServer, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if bus.Inflight() > int64(cfg.HardMax) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("overloaded"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &GracefulServer{
		grpcServer: grpcServer,
		httpServer: &http.Server{Addr: cfg.HealthAddr, Handler: mux},
		bus:        bus,
		logger:     logger,
		address:    cfg.BusAddress,
		httpAddr:   cfg.HealthAddr,
	}, nil
}

// Start starts both listeners and blocks until ctx is cancelled, then
// performs graceful shutdown.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("bus: listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("bus_grpc_started", "address", s.address)
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("bus_http_started", "address", s.httpAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("bus_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// GracefulStop stops accepting new work and waits for in-flight RPCs to
// finish before returning.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(shutdownCtx)
	s.logger.Info("bus_graceful_stop_completed")
}

// Stop immediately stops both listeners, dropping in-flight RPCs.
func (s *GracefulServer) Stop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	s.grpcServer.Stop()
	s.httpServer.Close()
}

// ShutdownWithTimeout attempts a graceful stop, forcing an immediate stop
// if it doesn't complete within timeout.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("bus_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.Stop()
	}
}

// GRPCServer returns the underlying grpc.Server, e.g. for registering
// additional services in tests.
func (s *GracefulServer) GRPCServer() *grpc.Server {
	return s.grpcServer
}
