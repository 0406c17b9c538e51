package angle

import "sync/atomic"

// Encoder turns an incremental rotor position count into electrical angle.
//
// The count is written by whatever decodes the encoder (a quadrature decoder
// goroutine, a Hall state handler) and read by the cycle; both sides only
// touch an atomic.
type Encoder struct {
	countsPerRev int64
	polePairs    float32
	zero         float32

	count atomic.Int64
	valid atomic.Bool
}

// NewEncoder creates an Encoder for countsPerRev counts per mechanical
// revolution on a motor with polePairs pole pairs. zero is the electrical
// angle (rad) at count 0, as found during commutation alignment.
func NewEncoder(countsPerRev, polePairs int, zero float32) *Encoder {
	if countsPerRev <= 0 {
		countsPerRev = 1
	}
	if polePairs <= 0 {
		polePairs = 1
	}
	return &Encoder{
		countsPerRev: int64(countsPerRev),
		polePairs:    float32(polePairs),
		zero:         zero,
	}
}

// Set stores an absolute count and marks the encoder valid.
func (e *Encoder) Set(count int64) {
	e.count.Store(count)
	e.valid.Store(true)
}

// Add moves the count by delta.
func (e *Encoder) Add(delta int64) {
	e.count.Add(delta)
}

// Invalidate marks the position as lost until the next Set.
func (e *Encoder) Invalidate() {
	e.valid.Store(false)
}

// Count returns the raw count.
func (e *Encoder) Count() int64 {
	return e.count.Load()
}

// Angle implements Source. It reports NaN until Set has been called.
func (e *Encoder) Angle() float32 {
	if !e.valid.Load() {
		return Unavailable()
	}
	// Reduce to one mechanical revolution first to keep float32 precision
	c := e.count.Load() % e.countsPerRev
	if c < 0 {
		c += e.countsPerRev
	}
	mech := float32(c) / float32(e.countsPerRev) * twoPi
	return Wrap(mech*e.polePairs + e.zero)
}
