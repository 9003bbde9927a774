package rpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeSource struct {
	connected atomic.Bool
	calls     atomic.Int32
}

func (f *fakeSource) Metrics() model.Metrics {
	n := f.calls.Add(1)
	rmssd := 40.0 + float64(n)
	return model.Metrics{Time: float64(n), Connected: f.connected.Load(), RMSSD: &rmssd, PacingRate: 6}
}

func (f *fakeSource) Connected() bool { return f.connected.Load() }

// startServer serves srv on an in-memory listener and returns a client
// connection to it.
func startServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
	return conn
}

func TestLatest(t *testing.T) {
	src := &fakeSource{}
	conn := startServer(t, NewServer(src, time.Second, timeutil.NewMockClock(time.Unix(0, 0))))

	m, err := NewClient(conn).Latest(context.Background())
	require.NoError(t, err)
	fields := m.AsMap()
	assert.Equal(t, 41.0, fields["rmssd"])
	assert.Equal(t, false, fields["connected"])
	assert.Nil(t, fields["sdnn"])
}

func TestWatch(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := &fakeSource{}
	srv := NewServer(src, time.Second, clock)
	conn := startServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *structpb.Struct, 4)
	errCh := make(chan error, 1)
	go func() {
		n := 0
		errCh <- NewClient(conn).Watch(ctx, func(m *structpb.Struct) error {
			got <- m
			if n++; n == 2 {
				return errors.New("enough")
			}
			return nil
		})
	}()

	first := <-got
	assert.Equal(t, 1.0, first.AsMap()["t"], "first update is sent without waiting")
	require.Equal(t, 1, srv.Watchers())

	clock.Advance(time.Second)
	select {
	case second := <-got:
		assert.Equal(t, 2.0, second.AsMap()["t"])
	case <-time.After(2 * time.Second):
		t.Fatal("no update after the interval")
	}
	assert.EqualError(t, <-errCh, "enough")
}

func TestWatchEndsOnServerStop(t *testing.T) {
	src := &fakeSource{}
	srv := NewServer(src, time.Hour, timeutil.NewMockClock(time.Unix(0, 0)))
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	started := make(chan struct{})
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- NewClient(conn).Watch(context.Background(), func(*structpb.Struct) error {
			select {
			case <-started:
			default:
				close(started)
			}
			return nil
		})
	}()
	<-started

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	err = <-watchErr
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestHealth(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := &fakeSource{}
	srv := NewServer(src, time.Second, clock)
	conn := startServer(t, srv)
	hc := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: SensorHealthService})
		require.NoError(t, err)
		return resp.Status
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- srv.RunHealth(runCtx) }()

	src.connected.Store(true)
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return check() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runDone, context.Canceled)
}

func TestListenAndServeBadAddress(t *testing.T) {
	srv := NewServer(&fakeSource{}, 0, nil)
	err := srv.ListenAndServe(context.Background(), "not-an-address")
	assert.Error(t, err)
}
