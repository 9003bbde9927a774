package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/hrv.report/internal/monitoring"
	"github.com/banshee-data/hrv.report/internal/sensor"
	"github.com/banshee-data/hrv.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestNewSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if mux.port != port {
		t.Error("SerialMux port not set correctly")
	}
	if mux.subscribers == nil {
		t.Error("SerialMux subscribers map not initialized")
	}
	var _ SerialMuxInterface = mux
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == "" || id1 == id2 {
		t.Fatalf("subscription ids %q and %q should be unique and non-empty", id1, id2)
	}
	if cap(ch1) != SubscriberBuffer {
		t.Errorf("subscriber buffer = %d, want %d", cap(ch1), SubscriberBuffer)
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
	mux.Unsubscribe(id1) // no-op

	mux.subscriberMu.Lock()
	n := len(mux.subscribers)
	mux.subscriberMu.Unlock()
	if n != 1 {
		t.Errorf("%d subscribers remain, want 1", n)
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("SUB HR"); err != nil {
		t.Fatalf("SendCommand() = %v", err)
	}
	if err := mux.SendCommand("INFO\n"); err != nil {
		t.Fatalf("SendCommand() = %v", err)
	}
	if got := string(port.GetWrittenData()); got != "SUB HR\nINFO\n" {
		t.Errorf("written = %q", got)
	}

	port.WriteError = errors.New("boom")
	if err := mux.SendCommand("INFO"); err == nil {
		t.Error("expected write error")
	}

	port.ShortWrite = true
	if err := mux.SendCommand("INFO"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("short write error = %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize() = %v", err)
	}
	want := "SUB HR\nPMD 0202000" // followed by the rest of the ACC request
	got := string(port.GetWrittenData())
	if !strings.HasPrefix(got, want) || !strings.HasSuffix(got, "\nINFO\n") {
		t.Errorf("start commands = %q", got)
	}

	port.WriteError = errors.New("boom")
	if err := mux.Initialize(); err == nil || !strings.Contains(err.Error(), "SUB HR") {
		t.Errorf("Initialize() error = %v, want the failing command named", err)
	}
}

func TestStartCommands(t *testing.T) {
	cases := []struct {
		model sensor.Model
		ecg   bool
		want  int
	}{
		{sensor.ModelPolarH10, false, 3},
		{sensor.ModelPolarH10, true, 4},
		{sensor.ModelCL800, true, 2},
	}
	for _, c := range cases {
		got := StartCommands(c.model, c.ecg)
		if len(got) != c.want {
			t.Errorf("StartCommands(%s, %v) = %q, want %d commands", c.model, c.ecg, got, c.want)
		}
		if got[0] != HeartRateCommand() || got[len(got)-1] != InfoCommand() {
			t.Errorf("StartCommands(%s) = %q", c.model, got)
		}
	}

	port := NewTestableSerialPort()
	mux := NewSerialMux(port, WithStartCommands("A", "B"))
	if err := mux.Initialize(); err != nil {
		t.Fatal(err)
	}
	if got := string(port.GetWrittenData()); got != "A\nB\n" {
		t.Errorf("custom start commands wrote %q", got)
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	clock := timeutil.NewMockClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	mux := NewSerialMux(port, WithClock(clock))

	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	port.AddLines(
		"HR 103c0004",
		"",
		"garbage line",
		"INFO 2a19 64",
		"PMD zz",
		"ERR disconnected",
	)

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() = %v", err)
	}

	for _, ch := range []chan Notification{ch1, ch2} {
		var got []string
		for len(ch) > 0 {
			n := <-ch
			if !n.Received.Equal(clock.Now()) {
				t.Errorf("received = %v, want mock clock time", n.Received)
			}
			got = append(got, n.String())
		}
		want := []string{"HR 103c0004", "INFO 2a19 64", "ERR disconnected"}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Errorf("notifications = %q, want %q", got, want)
		}
	}
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	if err := mux.Monitor(context.Background()); err == nil {
		t.Error("expected read error from Monitor")
	}
}

func TestSerialMux_MonitorCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	mux.Close()
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	lines := make([]string, SubscriberBuffer+10)
	for i := range lines {
		lines[i] = "HR 1048"
	}
	port.AddLines(lines...)

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() = %v", err)
	}
	if len(ch) != SubscriberBuffer {
		t.Errorf("buffered %d notifications, want %d", len(ch), SubscriberBuffer)
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed")
	}
	if !port.Closed {
		t.Error("expected port closed")
	}
}
