package cycle

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gotorque/pkg/angle"
	"github.com/itohio/gotorque/pkg/calib"
	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/phase"
	"github.com/itohio/gotorque/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countsAsAmps keeps the motor constants of the default config but makes one
// ADC count equal one amp.
func countsAsAmps() config.Constants {
	k := config.Default().Constants()
	k.ShuntResistance = 1
	k.AmpGain = 1
	k.VRef = 4095
	return k
}

// static returns the same sample on every read.
type static struct {
	sample atomic.Uint32
	err    error
}

func newStatic(a, b uint16) *static {
	s := &static{}
	s.set(a, b)
	return s
}

func (s *static) set(a, b uint16) {
	s.sample.Store(uint32(a)<<16 | uint32(b))
}

func (s *static) Read() (phase.RawSample, error) {
	if s.err != nil {
		return phase.RawSample{}, s.err
	}
	v := s.sample.Load()
	return phase.RawSample{A: uint16(v >> 16), B: uint16(v)}, nil
}

type failingSink struct{ err error }

func (f failingSink) Emit(float32) error { return f.err }

func TestState(t *testing.T) {
	assert.Equal(t, "uncalibrated", Uncalibrated.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestDriver_StartsUncalibrated(t *testing.T) {
	out := &sink.Latest{}
	d := New(countsAsAmps(), newStatic(2048, 2048), angle.NewFixed(0), out)

	assert.Equal(t, Uncalibrated, d.State())
	assert.Equal(t, 100*time.Microsecond, d.Period())

	_, ok := d.Offsets()
	assert.False(t, ok)

	_, err := d.Step()
	assert.ErrorIs(t, err, ErrNotCalibrated)
	assert.ErrorIs(t, d.Run(context.Background()), ErrNotCalibrated)

	_, n := out.Load()
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, uint64(0), d.Stats().Cycles)
}

func TestNew_RequiresSensorAndAngle(t *testing.T) {
	k := countsAsAmps()

	assert.PanicsWithValue(t, "cycle: nil phase sensor", func() {
		New(k, nil, angle.NewFixed(0), nil)
	})
	assert.PanicsWithValue(t, "cycle: nil angle source", func() {
		New(k, newStatic(2048, 2048), nil, nil)
	})
	assert.NotPanics(t, func() {
		New(k, newStatic(2048, 2048), angle.NewFixed(0), nil)
	})
}

func TestDriver_StartOnce(t *testing.T) {
	d := New(countsAsAmps(), newStatic(2048, 2048), angle.NewFixed(0), nil)

	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2047}))
	assert.Equal(t, Running, d.State())

	assert.ErrorIs(t, d.Start(calib.Offsets{A: 1, B: 1}), ErrAlreadyRunning)
	assert.ErrorIs(t, d.Calibrate(context.Background(), calib.Config{Samples: 4}), ErrAlreadyRunning)

	off, ok := d.Offsets()
	require.True(t, ok)
	assert.Equal(t, calib.Offsets{A: 2048, B: 2047}, off)
}

func TestDriver_Calibrate(t *testing.T) {
	s := newStatic(2050, 2046)
	d := New(countsAsAmps(), s, angle.NewFixed(0), nil)

	require.NoError(t, d.Calibrate(context.Background(), calib.Config{Samples: 32}))
	assert.Equal(t, Running, d.State())

	off, _ := d.Offsets()
	assert.Equal(t, calib.Offsets{A: 2050, B: 2046}, off)

	// Still no current flowing, so no torque
	tau, err := d.Step()
	require.NoError(t, err)
	assert.Equal(t, float32(0), tau)
}

func TestDriver_CalibrateFailureStaysUncalibrated(t *testing.T) {
	s := newStatic(2048, 2048)
	s.err = errors.New("adc offline")
	d := New(countsAsAmps(), s, angle.NewFixed(0), nil)

	err := d.Calibrate(context.Background(), calib.Config{Samples: 32})
	assert.ErrorIs(t, err, calib.ErrCalibration)
	assert.Equal(t, Uncalibrated, d.State())

	_, err = d.Step()
	assert.ErrorIs(t, err, ErrNotCalibrated)
}

func TestDriver_CalibrateOutOfBounds(t *testing.T) {
	d := New(countsAsAmps(), newStatic(0, 2048), angle.NewFixed(0), nil)

	err := d.Calibrate(context.Background(), calib.Config{Samples: 32, MinOffset: 100, MaxOffset: 3995})
	assert.ErrorIs(t, err, calib.ErrCalibration)
	assert.Equal(t, Uncalibrated, d.State())
}

func TestDriver_EndToEnd(t *testing.T) {
	tests := []struct {
		name  string
		theta float32
		want  float32
	}{
		{"theta zero", 0, 6.135},
		{"theta quarter turn", math32.Pi / 2, -10.626},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &sink.Latest{}
			// Ia = 1 A, Ib = 0 A
			d := New(countsAsAmps(), newStatic(2049, 2048), angle.NewFixed(tt.theta), out)
			require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

			tau, err := d.Step()
			require.NoError(t, err)
			assert.InDelta(t, tt.want, tau, 1e-3)

			got, n := out.Load()
			assert.Equal(t, tau, got)
			assert.Equal(t, uint64(1), n)

			st := d.Stats()
			assert.Equal(t, uint64(1), st.Cycles)
			assert.Equal(t, uint64(1), st.Emitted)
			assert.Equal(t, tau, st.Last)
		})
	}
}

func TestDriver_ZeroCurrentZeroTorque(t *testing.T) {
	theta := angle.NewFixed(0)
	d := New(config.Default().Constants(), newStatic(2051, 2040), theta, nil)
	require.NoError(t, d.Start(calib.Offsets{A: 2051, B: 2040}))

	for i := 0; i < 32; i++ {
		theta.Set(float32(i) * 0.4)
		tau, err := d.Step()
		require.NoError(t, err)
		assert.Equal(t, float32(0), tau)
	}
}

func TestDriver_SampleUnavailable(t *testing.T) {
	s := newStatic(2049, 2048)
	out := &sink.Latest{}
	d := New(countsAsAmps(), s, angle.NewFixed(0), out)
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	s.err = phase.ErrSampleUnavailable
	_, err := d.Step()
	assert.ErrorIs(t, err, ErrSampleUnavailable)

	s.err = errors.New("conversion timeout")
	_, err = d.Step()
	assert.ErrorIs(t, err, ErrSampleUnavailable)

	_, n := out.Load()
	assert.Equal(t, uint64(0), n, "skipped cycles emit nothing")

	st := d.Stats()
	assert.Equal(t, uint64(2), st.Cycles)
	assert.Equal(t, uint64(2), st.SampleSkips)
	assert.Equal(t, uint64(2), st.Skipped())
	assert.Equal(t, uint64(0), st.Emitted)

	s.err = nil
	_, err = d.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.Stats().Emitted)
}

func TestDriver_SampleOutOfRange(t *testing.T) {
	k := countsAsAmps()
	k.ADCMax = 1023
	s := newStatic(1024, 512)
	d := New(k, s, angle.NewFixed(0), nil)
	require.NoError(t, d.Start(calib.Offsets{A: 512, B: 512}))

	_, err := d.Step()
	assert.ErrorIs(t, err, ErrSampleUnavailable)

	s.set(512, 1023)
	_, err = d.Step()
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), d.Stats().SampleSkips)
}

func TestDriver_AngleInvalid(t *testing.T) {
	theta := angle.NewFixed(math32.NaN())
	out := &sink.Latest{}
	d := New(countsAsAmps(), newStatic(2049, 2048), theta, out)
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	_, err := d.Step()
	assert.ErrorIs(t, err, ErrAngleInvalid)

	theta.Set(math32.Inf(1))
	_, err = d.Step()
	assert.ErrorIs(t, err, ErrAngleInvalid)

	_, n := out.Load()
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, uint64(2), d.Stats().AngleSkips)

	theta.Set(0)
	tau, err := d.Step()
	require.NoError(t, err)
	assert.InDelta(t, 6.135, tau, 1e-3)
}

func TestDriver_SinkError(t *testing.T) {
	broken := errors.New("uart busy")
	d := New(countsAsAmps(), newStatic(2049, 2048), angle.NewFixed(0), failingSink{broken})
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	tau, err := d.Step()
	assert.ErrorIs(t, err, broken)
	assert.InDelta(t, 6.135, tau, 1e-3)

	st := d.Stats()
	assert.Equal(t, uint64(1), st.SinkErrors)
	assert.Equal(t, uint64(0), st.Emitted)
	assert.Equal(t, tau, st.Last)
}

func TestDriver_StepNoAllocs(t *testing.T) {
	sinks := map[string]sink.Sink{
		"latest":  &sink.Latest{},
		"writer":  sink.NewWriter(io.Discard),
		"discard": sink.Discard{},
	}

	for name, out := range sinks {
		t.Run(name, func(t *testing.T) {
			d := New(countsAsAmps(), newStatic(2049, 2048), angle.NewFixed(0.5), out)
			require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

			allocs := testing.AllocsPerRun(1000, func() {
				_, _ = d.Step()
			})
			assert.Equal(t, float64(0), allocs)
		})
	}
}

func TestDriver_OffsetsVisibleToConcurrentStep(t *testing.T) {
	d := New(countsAsAmps(), newStatic(2049, 2048), angle.NewFixed(0), nil)

	result := make(chan float32, 1)
	go func() {
		for {
			tau, err := d.Step()
			if errors.Is(err, ErrNotCalibrated) {
				continue
			}
			result <- tau
			return
		}
	}()

	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	select {
	case tau := <-result:
		assert.InDelta(t, 6.135, tau, 1e-3)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never observed Running")
	}
}

func TestDriver_WithMock(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.Iq = 2
	cfg.Mock.NoiseLevel = 0
	k := cfg.Constants()

	theta := angle.NewFixed(0)
	m := phase.NewMock(k, &cfg.Mock, theta)
	d := New(k, m, theta, nil)

	require.NoError(t, d.Calibrate(context.Background(), calib.FromConfig(cfg.Calibration)))
	m.Drive(true)

	slope := float32(0.231 * 50 * 0.92)
	for _, th := range []float32{0, 1, 2, 3, 4, 5, 6} {
		theta.Set(th)
		tau, err := d.Step()
		require.NoError(t, err)
		// Count quantisation limits accuracy to a few tens of mA
		assert.InDelta(t, 2*slope, tau, float64(0.1*slope), "theta=%f", th)
	}
}
