package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hrv.report/internal/api"
	"github.com/banshee-data/hrv.report/internal/httputil"
	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/sensor"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := model.New(model.Options{Clock: timeutil.NewMockClock(time.Unix(3600, 0)), PacingRate: 6})
	m.OnIBISample(sensor.Sample{Time: 3599, Value: 1000})
	srv := httptest.NewServer(api.NewServer(m, nil, nil).ServeMux())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientMetrics(t *testing.T) {
	srv := newAPIServer(t)
	c := NewClient(srv.URL, time.Second)

	m, err := c.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3600.0, m.Time)
	require.NotNil(t, m.HeartRate)
	assert.Equal(t, 60.0, *m.HeartRate)
	assert.Nil(t, m.RMSSD)

	assert.Equal(t,
		"01:00:00 disconnected hr=60 ibi=1000 br=- rmssd=- sdnn=- pnn50=- coh_br=- coh_hr=- pace=6.0",
		FormatMetrics(m))
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.BadRequest(w, "no metrics here")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Metrics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metrics here")
}

func TestTail(t *testing.T) {
	srv := newAPIServer(t)
	var out bytes.Buffer
	require.NoError(t, tail(context.Background(), NewClient(srv.URL, time.Second), &out, time.Millisecond, 3))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "01:00:00 disconnected hr=60"), l)
	}
}

func TestTailStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient("http://127.0.0.1:1", 100*time.Millisecond)
	err := tail(ctx, c, &bytes.Buffer{}, time.Millisecond, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
