// Package angle provides rotor electrical angle sources for the torque cycle.
//
// A Source is read once per control period from the cycle goroutine, so every
// implementation here is non-blocking and lock-free. A source that cannot
// provide a present angle reports NaN.
package angle

import (
	"math"
	"sync/atomic"

	"github.com/chewxy/math32"
)

const twoPi float32 = 2 * math32.Pi

// Source reports the present rotor electrical angle in radians.
type Source interface {
	Angle() float32
}

// Func adapts a plain function to Source.
type Func func() float32

// Angle implements Source.
func (f Func) Angle() float32 { return f() }

// Valid reports whether theta can be fed to the Park transform.
func Valid(theta float32) bool {
	return !math32.IsNaN(theta) && !math32.IsInf(theta, 0)
}

// Wrap maps theta into [0, 2π).
func Wrap(theta float32) float32 {
	theta = math32.Mod(theta, twoPi)
	if theta < 0 {
		theta += twoPi
	}
	if theta >= twoPi {
		theta = 0
	}
	return theta
}

// Unavailable is the value a Source returns when it has no present angle.
func Unavailable() float32 {
	return math32.NaN()
}

// Fixed is a constant angle that can be changed from another goroutine.
type Fixed struct {
	bits atomic.Uint32
}

// NewFixed creates a Fixed source at theta.
func NewFixed(theta float32) *Fixed {
	f := &Fixed{}
	f.Set(theta)
	return f
}

// Set stores a new angle.
func (f *Fixed) Set(theta float32) {
	f.bits.Store(math.Float32bits(theta))
}

// Angle implements Source.
func (f *Fixed) Angle() float32 {
	return math.Float32frombits(f.bits.Load())
}

// Ramp advances by a fixed step on every call and wraps at 2π. It stands in
// for a spinning rotor when no position sensor is attached.
type Ramp struct {
	step float32
	bits atomic.Uint32
}

// NewRamp creates a Ramp starting at zero.
func NewRamp(step float32) *Ramp {
	return &Ramp{step: step}
}

// Angle implements Source.
func (r *Ramp) Angle() float32 {
	theta := math.Float32frombits(r.bits.Load()) + r.step
	if theta > twoPi {
		theta -= twoPi
	}
	r.bits.Store(math.Float32bits(theta))
	return theta
}

// Current returns the last angle handed out without advancing.
func (r *Ramp) Current() float32 {
	return math.Float32frombits(r.bits.Load())
}
