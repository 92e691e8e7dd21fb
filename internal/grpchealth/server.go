// Package grpchealth exposes the standard gRPC health service so orchestrators
// can probe the wallet process alongside the HTTP API.
package grpchealth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the wallet ledger.
const ServiceName = "pointswallet.Wallet"

const defaultProbeInterval = 15 * time.Second

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Server serves grpc.health.v1.Health and keeps the wallet status in sync
// with a readiness probe.
type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	probe         Probe
	probeInterval time.Duration
	logger        *zap.Logger
}

// Option customizes the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithProbe sets the readiness probe and how often it runs.
func WithProbe(probe Probe, interval time.Duration) Option {
	return func(server *Server) {
		server.probe = probe
		if interval > 0 {
			server.probeInterval = interval
		}
	}
}

// New builds a health server. The wallet service starts as NOT_SERVING until
// the first probe succeeds, or SERVING when no probe is configured.
func New(options ...Option) *Server {
	server := &Server{
		grpcServer:    grpc.NewServer(),
		health:        health.NewServer(),
		probeInterval: defaultProbeInterval,
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		option(server)
	}
	healthpb.RegisterHealthServer(server.grpcServer, server.health)
	if server.probe == nil {
		server.setServing(true)
	} else {
		server.setServing(false)
	}
	return server
}

// Run listens on addr and serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server.logger.Info("gRPC health server starting", zap.String("listen_addr", addr))
	return server.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (server *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		server.logger.Info("gRPC health server shutdown requested")
		server.health.Shutdown()
		server.grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}

// CheckNow runs the probe once and updates the reported status.
func (server *Server) CheckNow(ctx context.Context) error {
	if server.probe == nil {
		return nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, server.probeInterval)
	defer cancel()
	err := server.probe(probeCtx)
	if err != nil {
		server.logger.Warn("readiness probe failed", zap.Error(err))
	}
	server.setServing(err == nil)
	return err
}

// Watch runs the probe on its interval until ctx is cancelled.
func (server *Server) Watch(ctx context.Context) error {
	if server.probe == nil {
		<-ctx.Done()
		return nil
	}
	_ = server.CheckNow(ctx)
	ticker := time.NewTicker(server.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = server.CheckNow(ctx)
		}
	}
}

func (server *Server) setServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	server.health.SetServingStatus("", status)
	server.health.SetServingStatus(ServiceName, status)
}
