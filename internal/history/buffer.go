// Package history provides the fixed-capacity time series buffers that hold
// every derived physiological signal.
//
// A Buffer always presents its samples oldest first: index 0 is the oldest
// slot and index Len()-1 the newest. Slots that have never been written hold
// NaN for both time and value. Internally the samples live in a ring so an
// update is O(1), but all exported accessors translate to the logical order.
//
// Markers are integer indices into the same buffer. Every Update shifts the
// indexed sample one slot towards the front, so every marker index is
// decremented by one; once a marked sample falls out of the buffer its marker
// reads -1.
package history

import (
	"errors"
	"math"
	"sync"

	"github.com/google/uuid"
)

// noMarker is stored in marker slots that have never been set.
const noMarker = math.MinInt64

var (
	// ErrForeignMarker is returned when a MarkerRef was issued by another buffer.
	ErrForeignMarker = errors.New("marker belongs to a different buffer")
	// ErrStaleMarker is returned when the referenced sample has been evicted.
	ErrStaleMarker = errors.New("marker references an evicted sample")
	// ErrEmptySlot is returned when a reference is requested for an unwritten slot.
	ErrEmptySlot = errors.New("slot has not been written")
)

// Point is one (time, value) pair. T is either absolute epoch seconds or
// seconds relative to a reference time, depending on the accessor.
type Point struct {
	T float64 `json:"t"`
	V float64 `json:"v"`
}

// MarkerRef is a weak reference to one sample of a specific buffer. Unlike a
// plain index it stays meaningful after further updates and can tell when
// the sample it names has been evicted.
type MarkerRef struct {
	Buffer uuid.UUID `json:"buffer"`
	Seq    uint64    `json:"seq"`
	Time   float64   `json:"time"`
}

// Buffer is a rolling history of (time, value) samples plus a parallel ring
// of marker indices. It is safe for concurrent use.
type Buffer struct {
	mu sync.RWMutex

	id      uuid.UUID
	times   []float64
	values  []float64
	markers []int64 // absolute sample sequence numbers, or noMarker

	head  int    // physical slot of the oldest sample
	mhead int    // physical slot of the oldest marker
	seq   uint64 // number of updates so far
}

// New returns an empty buffer with the given capacity.
func New(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	b := &Buffer{
		id:      uuid.New(),
		times:   make([]float64, size),
		values:  make([]float64, size),
		markers: make([]int64, size),
	}
	for i := range b.times {
		b.times[i] = math.NaN()
		b.values[i] = math.NaN()
		b.markers[i] = noMarker
	}
	return b
}

// ID is the identity tag carried by MarkerRefs from this buffer.
func (b *Buffer) ID() uuid.UUID { return b.id }

// Len returns the capacity of the buffer.
func (b *Buffer) Len() int { return len(b.times) }

// Update appends a sample at the newest position, evicting the oldest.
func (b *Buffer) Update(t, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.update(t, v)
}

func (b *Buffer) update(t, v float64) {
	n := len(b.times)
	if n == 0 {
		return
	}
	b.times[b.head] = t
	b.values[b.head] = v
	b.head = (b.head + 1) % n
	b.seq++
}

// AddMarker records index as a marker. The marker ring shifts left by one
// and the new marker takes the newest slot. A negative index stores an
// unset marker.
func (b *Buffer) AddMarker(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addMarker(index)
}

func (b *Buffer) addMarker(index int) {
	n := len(b.markers)
	if n == 0 {
		return
	}
	m := int64(noMarker)
	if index >= 0 {
		m = int64(index) + int64(b.seq) - int64(n)
	}
	b.markers[b.mhead] = m
	b.mhead = (b.mhead + 1) % n
}

// markerIndex converts a stored marker to its current logical index.
func (b *Buffer) markerIndex(m int64) int {
	if m == noMarker {
		return -1
	}
	idx := m - int64(b.seq) + int64(len(b.times))
	if idx < 0 {
		return -1
	}
	return int(idx)
}

func (b *Buffer) phys(i int) int {
	return (b.head + i) % len(b.times)
}

// Times returns a copy of the sample times, oldest first.
func (b *Buffer) Times() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.times))
	for i := range out {
		out[i] = b.times[b.phys(i)]
	}
	return out
}

// Values returns a copy of the sample values, oldest first.
func (b *Buffer) Values() []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float64, len(b.values))
	for i := range out {
		out[i] = b.values[b.phys(i)]
	}
	return out
}

// Markers returns the current marker indices, oldest marker first. Unset or
// expired markers read -1.
func (b *Buffer) Markers() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.markers)
	out := make([]int, n)
	for i := range out {
		out[i] = b.markerIndex(b.markers[(b.mhead+i)%n])
	}
	return out
}

// At returns the sample at logical index i (0 = oldest).
func (b *Buffer) At(i int) (t, v float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.times) {
		return math.NaN(), math.NaN()
	}
	p := b.phys(i)
	return b.times[p], b.values[p]
}

// FromEnd returns the k-th newest sample; FromEnd(1) is the newest.
func (b *Buffer) FromEnd(k int) (t, v float64) {
	return b.At(len(b.times) - k)
}

// Last returns the newest sample.
func (b *Buffer) Last() (t, v float64) {
	return b.FromEnd(1)
}

// RelativeTimes returns the sample times as offsets from now, so a sample
// five seconds in the past reads -5.
func (b *Buffer) RelativeTimes(now float64) []float64 {
	times := b.Times()
	for i := range times {
		times[i] -= now
	}
	return times
}

// Points returns the non-NaN samples as points relative to now.
func (b *Buffer) Points(now float64) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Point, 0, len(b.values))
	for i := range b.values {
		p := b.phys(i)
		if math.IsNaN(b.values[p]) {
			continue
		}
		out = append(out, Point{T: b.times[p] - now, V: b.values[p]})
	}
	return out
}

// MarkerPoints returns the samples at every active marker relative to now.
func (b *Buffer) MarkerPoints(now float64) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.markers)
	out := make([]Point, 0)
	for i := 0; i < n; i++ {
		idx := b.markerIndex(b.markers[(b.mhead+i)%n])
		if idx < 0 || idx >= n {
			continue
		}
		p := b.phys(idx)
		out = append(out, Point{T: b.times[p] - now, V: b.values[p]})
	}
	return out
}

// ValuesRange returns floor(min) and ceil(max) of the values whose relative
// time lies in (relStart, relEnd]. ok is false when no value qualifies.
func (b *Buffer) ValuesRange(now, relStart, relEnd float64) (lo, hi float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := range b.values {
		p := b.phys(i)
		rel := b.times[p] - now
		v := b.values[p]
		if !(rel > relStart && rel <= relEnd) || math.IsNaN(v) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !ok {
		return 0, 0, false
	}
	return math.Floor(lo), math.Ceil(hi), true
}

// NValues returns the number of non-NaN values.
func (b *Buffer) NValues() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, v := range b.values {
		if !math.IsNaN(v) {
			count++
		}
	}
	return count
}

// IsEmpty reports whether every value is NaN.
func (b *Buffer) IsEmpty() bool {
	return b.NValues() == 0
}

// IsFull reports whether no value is NaN.
func (b *Buffer) IsFull() bool {
	return b.NValues() == b.Len()
}

// Since returns the samples with time strictly after t, oldest first,
// skipping NaN values.
func (b *Buffer) Since(t float64) (times, values []float64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := range b.times {
		p := b.phys(i)
		if b.times[p] > t && !math.IsNaN(b.values[p]) {
			times = append(times, b.times[p])
			values = append(values, b.values[p])
		}
	}
	return times, values
}

// SubBuffer returns a new buffer holding exactly the samples with
// t0 <= time <= t1. Markers pointing at samples inside the range are carried
// over at their new positions; all others are dropped.
func (b *Buffer) SubBuffer(t0, t1 float64) *Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.times)
	newIndex := make(map[int]int)
	var times, values []float64
	for i := 0; i < n; i++ {
		p := b.phys(i)
		if b.times[p] >= t0 && b.times[p] <= t1 {
			newIndex[i] = len(times)
			times = append(times, b.times[p])
			values = append(values, b.values[p])
		}
	}

	sub := New(len(times))
	for i := range times {
		sub.update(times[i], values[i])
	}
	for i := 0; i < n; i++ {
		idx := b.markerIndex(b.markers[(b.mhead+i)%n])
		if j, ok := newIndex[idx]; ok && idx >= 0 {
			sub.addMarker(j)
		}
	}
	return sub
}

// Ref returns a MarkerRef for the sample at logical index i.
func (b *Buffer) Ref(i int) (MarkerRef, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.times)
	if i < 0 || i >= n {
		return MarkerRef{}, ErrStaleMarker
	}
	seq := int64(b.seq) - int64(n) + int64(i)
	if seq < 0 {
		return MarkerRef{}, ErrEmptySlot
	}
	return MarkerRef{Buffer: b.id, Seq: uint64(seq), Time: b.times[b.phys(i)]}, nil
}

// Resolve returns the current logical index of the referenced sample.
func (b *Buffer) Resolve(ref MarkerRef) (int, error) {
	if ref.Buffer != b.id {
		return -1, ErrForeignMarker
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := int64(len(b.times))
	idx := int64(ref.Seq) - int64(b.seq) + n
	if idx < 0 || idx >= n {
		return -1, ErrStaleMarker
	}
	if b.times[b.phys(int(idx))] != ref.Time {
		return -1, ErrStaleMarker
	}
	return int(idx), nil
}
