// Package rpc serves live metrics over gRPC next to the standard health
// service.
package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/publish"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

const (
	// ServiceName is the full gRPC service name of the metrics service.
	ServiceName = "hrv.v1.Metrics"
	// SensorHealthService reports SERVING while a sensor is connected.
	SensorHealthService = "hrv.sensor"

	DefaultWatchInterval = time.Second
)

// Source is satisfied by *model.Model.
type Source interface {
	Metrics() model.Metrics
	Connected() bool
}

// Server implements the metrics service and owns the health status.
type Server struct {
	source   Source
	interval time.Duration
	clock    timeutil.Clock
	health   *health.Server

	stopCh   chan struct{}
	stopOnce sync.Once
	watchers atomic.Int32
}

// NewServer returns a Server streaming source every interval. interval <= 0
// uses DefaultWatchInterval; a nil clock uses the wall clock.
func NewServer(source Source, interval time.Duration, clock timeutil.Clock) *Server {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Server{
		source:   source,
		interval: interval,
		clock:    clock,
		health:   health.NewServer(),
		stopCh:   make(chan struct{}),
	}
	s.UpdateHealth()
	return s
}

// Watchers returns the number of open Watch streams.
func (s *Server) Watchers() int { return int(s.watchers.Load()) }

func (s *Server) metrics() (*structpb.Struct, error) {
	out, err := publish.MetricsStruct(s.source.Metrics())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Latest returns the current metrics.
func (s *Server) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.metrics()
}

// Watch sends the current metrics immediately and then every interval until
// the client goes away or the server stops.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	s.watchers.Add(1)
	defer s.watchers.Add(-1)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	ctx := stream.Context()
	for {
		m, err := s.metrics()
		if err != nil {
			return err
		}
		if err := stream.SendMsg(m); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case <-ticker.C():
		}
	}
}

// UpdateHealth sets the sensor health status from the source.
func (s *Server) UpdateHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.source.Connected() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(SensorHealthService, st)
}

// RunHealth refreshes the health status every interval until ctx is done.
func (s *Server) RunHealth(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.UpdateHealth()
		}
	}
}

// RegisterService registers the metrics and health services on grpcServer.
func RegisterService(grpcServer *grpc.Server, server *Server) {
	grpcServer.RegisterService(&serviceDesc, server)
	healthpb.RegisterHealthServer(grpcServer, server.health)
}

// Serve serves on lis until ctx is done, then stops open streams and shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer()
	RegisterService(gs, s)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] listening on %s", lis.Addr())
		errCh <- gs.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.health.Shutdown()
	gs.GracefulStop()
	<-errCh
	monitoring.Logf("[gRPC] server stopped")
	return ctx.Err()
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}
