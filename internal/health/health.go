// Package health serves the gRPC health protocol and flips the serving status
// when a backing dependency stops answering.
package health

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service is the name reported for the checkout API
const Service = "storefront.Checkout"

// Check returns an error when a dependency is unavailable
type Check func(ctx context.Context) error

type Monitor struct {
	server   *grpchealth.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewMonitor(checks map[string]Check, interval time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		server:   grpchealth.NewServer(),
		checks:   checks,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log,
	}
}

// NewGRPCServer returns a server exposing health and reflection, traced with otelgrpc
func (m *Monitor) NewGRPCServer() *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc_health_v1.RegisterHealthServer(s, m.server)
	reflection.Register(s)
	return s
}

// Probe runs every check once and updates the serving status
func (m *Monitor) Probe(ctx context.Context) bool {
	healthy := true
	for name, check := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			m.log.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			healthy = false
		}
	}

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !healthy {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(Service, status)
	return healthy
}

func (m *Monitor) Run(ctx context.Context) {
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher so load balancers drain first
func (m *Monitor) Shutdown() {
	m.server.Shutdown()
}
