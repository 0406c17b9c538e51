// Package cycle runs the torque pipeline once per control period.
//
// A Driver starts Uncalibrated and moves to Running exactly once, when
// calibration offsets are published. Running is terminal: the loop stops only
// when the caller cancels the context passed to Run.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/itohio/gotorque/pkg/angle"
	"github.com/itohio/gotorque/pkg/calib"
	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/foc"
	"github.com/itohio/gotorque/pkg/phase"
	"github.com/itohio/gotorque/pkg/sink"
	"github.com/itohio/gotorque/pkg/torque"
)

var (
	// ErrNotCalibrated is returned when a cycle is requested before Start.
	ErrNotCalibrated = errors.New("cycle driver not calibrated")
	// ErrAlreadyRunning is returned when offsets are published twice.
	ErrAlreadyRunning = errors.New("cycle driver already running")
	// ErrLoopActive is returned when Run is called while another Run is active.
	ErrLoopActive = errors.New("cycle loop already active")
	// ErrSampleUnavailable is returned when a cycle has no usable sample.
	ErrSampleUnavailable = phase.ErrSampleUnavailable
	// ErrAngleInvalid is returned when the angle source reports NaN or Inf.
	ErrAngleInvalid = errors.New("electrical angle invalid")
	// ErrSustainedOverrun is returned by Run when the overrun limit is hit.
	ErrSustainedOverrun = errors.New("sustained cycle overrun")
)

// State is the driver life cycle state.
type State int32

const (
	Uncalibrated State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithOverrunLimit makes Run return ErrSustainedOverrun after n consecutive
// overruns. Zero keeps counting forever.
func WithOverrunLimit(n int) Option {
	return func(d *Driver) {
		d.overrunLimit = n
	}
}

// Driver owns everything one torque cycle touches: constants, offsets and
// the sensor, angle and sink capabilities.
type Driver struct {
	k        config.Constants
	est      torque.Estimator
	maxCount uint16
	period   time.Duration

	sensor phase.Sensor
	angle  angle.Source
	sink   sink.Sink

	overrunLimit int

	// offsets is written once by Start before state flips to Running and
	// only read afterwards.
	offsets calib.Offsets
	started atomic.Bool
	state   atomic.Int32
	looping atomic.Bool

	cycles      atomic.Uint64
	emitted     atomic.Uint64
	sampleSkips atomic.Uint64
	angleSkips  atomic.Uint64
	sinkErrors  atomic.Uint64
	overruns    atomic.Uint64
	maxCycle    atomic.Int64
	last        atomic.Uint32
}

// New creates an Uncalibrated driver. The sensor and angle source are
// required and New panics without them; a nil sink discards every torque.
func New(k config.Constants, s phase.Sensor, a angle.Source, out sink.Sink, opts ...Option) *Driver {
	if s == nil {
		panic("cycle: nil phase sensor")
	}
	if a == nil {
		panic("cycle: nil angle source")
	}
	if out == nil {
		out = sink.Discard{}
	}
	d := &Driver{
		k:        k,
		est:      torque.New(k),
		maxCount: k.MaxCount(),
		period:   k.Period(),
		sensor:   s,
		angle:    a,
		sink:     out,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current life cycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Period returns the control period.
func (d *Driver) Period() time.Duration {
	return d.period
}

// Offsets returns the published offsets, if any.
func (d *Driver) Offsets() (calib.Offsets, bool) {
	if d.State() != Running {
		return calib.Offsets{}, false
	}
	return d.offsets, true
}

// Start publishes the calibration offsets and moves the driver to Running.
// It succeeds once; later calls return ErrAlreadyRunning and leave the
// published offsets untouched.
func (d *Driver) Start(off calib.Offsets) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	d.offsets = off
	// Store after the offsets write: any Step that observes Running also
	// observes the offsets.
	d.state.Store(int32(Running))
	return nil
}

// Calibrate runs offset calibration on the driver's sensor and starts the
// driver with the result. A failed calibration leaves it Uncalibrated.
// It must not overlap with Step or Run.
func (d *Driver) Calibrate(ctx context.Context, cfg calib.Config) error {
	if d.started.Load() {
		return ErrAlreadyRunning
	}
	off, err := calib.Calibrate(ctx, d.sensor, cfg)
	if err != nil {
		return err
	}
	return d.Start(off)
}

// Step runs one cycle: sample, convert, Clarke, angle, Park, torque, emit.
//
// A skipped cycle (ErrSampleUnavailable, ErrAngleInvalid) emits nothing.
// A sink error is returned as is together with the computed torque.
// Step itself neither allocates nor locks; it must not be called
// concurrently. The sink's Emit runs inside Step, so the cycle is allocation
// free only with a sink that is (Writer, Latest, Discard; not MQTT).
func (d *Driver) Step() (float32, error) {
	if d.State() != Running {
		return 0, ErrNotCalibrated
	}
	d.cycles.Add(1)

	raw, err := d.sensor.Read()
	if err != nil || raw.A > d.maxCount || raw.B > d.maxCount {
		d.sampleSkips.Add(1)
		return 0, ErrSampleUnavailable
	}

	ia := foc.ToCurrent(raw.A, d.offsets.A, d.k)
	ib := foc.ToCurrent(raw.B, d.offsets.B, d.k)
	alpha, beta := foc.Clarke(ia, ib)

	theta := d.angle.Angle()
	if !angle.Valid(theta) {
		d.angleSkips.Add(1)
		return 0, ErrAngleInvalid
	}

	iq := foc.ParkQ(alpha, beta, theta)
	tau := d.est.Estimate(iq)
	d.last.Store(floatBits(tau))

	if err := d.sink.Emit(tau); err != nil {
		d.sinkErrors.Add(1)
		return tau, err
	}
	d.emitted.Add(1)
	return tau, nil
}

// Run calls Step once per period until ctx is done.
//
// Each cycle is timed; one that takes longer than the period is counted as
// an overrun. Ticks missed during an overrun are dropped, never replayed.
// With an overrun limit set, that many consecutive overruns end the loop
// with ErrSustainedOverrun.
func (d *Driver) Run(ctx context.Context) error {
	if d.State() != Running {
		return ErrNotCalibrated
	}
	if d.period <= 0 {
		return fmt.Errorf("invalid control period %v", d.period)
	}
	if !d.looping.CompareAndSwap(false, true) {
		return ErrLoopActive
	}
	defer d.looping.Store(false)

	log.Printf("Torque estimator running @%.0f Hz", d.k.FrequencyHz)

	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		_, _ = d.Step()
		elapsed := time.Since(start)

		if int64(elapsed) > d.maxCycle.Load() {
			d.maxCycle.Store(int64(elapsed))
		}

		if elapsed <= d.period {
			consecutive = 0
			continue
		}

		d.overruns.Add(1)
		consecutive++
		if d.overrunLimit > 0 && consecutive >= d.overrunLimit {
			log.Printf("Stopping after %d consecutive overruns (last %v, period %v)", consecutive, elapsed, d.period)
			return fmt.Errorf("%w: %d consecutive cycles over %v", ErrSustainedOverrun, consecutive, d.period)
		}
	}
}
