package db

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/hrv.report/internal/model"
	"github.com/banshee-data/hrv.report/internal/monitoring"
)

// DefaultRecorderBuffer is the number of pending writes a Recorder queues
// before dropping events.
const DefaultRecorderBuffer = 256

// Recorder persists the breath and spectra events of a model to one
// session. Model callbacks only enqueue; Run performs the writes so sqlite
// latency never reaches the ingest goroutine.
type Recorder struct {
	DB        *DB
	SessionID string

	queue   chan func(context.Context) error
	dropped atomic.Int64
	written atomic.Int64
}

// NewRecorder returns a Recorder for sessionID. buffer <= 0 uses
// DefaultRecorderBuffer.
func NewRecorder(db *DB, sessionID string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	return &Recorder{
		DB:        db,
		SessionID: sessionID,
		queue:     make(chan func(context.Context) error, buffer),
	}
}

// Attach registers the recorder's callbacks on m.
func (r *Recorder) Attach(m *model.Model) {
	m.OnBreath(r.RecordBreath)
	m.OnSpectra(r.RecordSpectra)
}

// RecordBreath queues a breath event.
func (r *Recorder) RecordBreath(ev model.BreathEvent) {
	r.enqueue(func(ctx context.Context) error {
		return r.DB.InsertBreath(ctx, r.SessionID, ev)
	})
}

// RecordSpectra queues a spectra event.
func (r *Recorder) RecordSpectra(ev model.SpectraEvent) {
	r.enqueue(func(ctx context.Context) error {
		return r.DB.InsertSpectra(ctx, r.SessionID, ev)
	})
}

func (r *Recorder) enqueue(write func(context.Context) error) {
	select {
	case r.queue <- write:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("recorder: queue full, %d events dropped", n)
		}
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of events written.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Run performs queued writes until ctx is done, then flushes what is still
// queued. Write errors are logged and do not stop the recorder. Writes are
// not interrupted by ctx.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return ctx.Err()
		case write := <-r.queue:
			r.do(write)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case write := <-r.queue:
			r.do(write)
		default:
			return
		}
	}
}

func (r *Recorder) do(write func(context.Context) error) {
	if err := write(context.Background()); err != nil {
		monitoring.Logf("recorder: %v", err)
		return
	}
	r.written.Add(1)
}
