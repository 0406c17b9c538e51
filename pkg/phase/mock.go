package phase

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/itohio/gotorque/pkg/angle"
	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/foc"
)

// Mock simulates the phase current front-end of a motor carrying a fixed
// rotor frame current at the angle reported by an angle.Source.
//
// Read is meant for a single reader (the cycle goroutine); Drive and FailNext
// may be called from anywhere.
type Mock struct {
	k     config.Constants
	cfg   config.MockConfig
	theta angle.Source
	rng   *rand.Rand

	countsPerAmp float32

	drive atomic.Bool
	fail  atomic.Int64
	reads atomic.Uint64
}

// NewMock creates a mocked front-end. The drive stage starts disabled, so the
// first reads carry zero current as calibration requires.
func NewMock(k config.Constants, cfg *config.MockConfig, theta angle.Source) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			BiasA:      2048,
			BiasB:      2048,
			NoiseLevel: 2,
			Iq:         1.0,
		}
	}
	if theta == nil {
		theta = angle.NewFixed(0)
	}

	return &Mock{
		k:            k,
		cfg:          *cfg,
		theta:        theta,
		rng:          rand.New(rand.NewPCG(1, 2)),
		countsPerAmp: k.ShuntResistance * k.AmpGain / k.VRef * k.ADCMax,
	}
}

// Drive enables or disables current through the shunts.
func (m *Mock) Drive(on bool) {
	m.drive.Store(on)
}

// FailNext makes the next n reads return ErrSampleUnavailable.
func (m *Mock) FailNext(n int) {
	m.fail.Store(int64(n))
}

// Reads returns how many times Read has been called.
func (m *Mock) Reads() uint64 {
	return m.reads.Load()
}

// Read implements Sensor.
func (m *Mock) Read() (RawSample, error) {
	m.reads.Add(1)

	if m.fail.Load() > 0 {
		m.fail.Add(-1)
		return RawSample{}, ErrSampleUnavailable
	}

	var ia, ib float32
	if m.drive.Load() {
		ia, ib = m.phaseCurrents(m.theta.Angle())
	}

	return RawSample{
		A: m.toCount(m.cfg.BiasA, ia),
		B: m.toCount(m.cfg.BiasB, ib),
	}, nil
}

// phaseCurrents returns the measured phase currents for the configured
// rotor frame current at theta.
func (m *Mock) phaseCurrents(theta float32) (ia, ib float32) {
	if !angle.Valid(theta) {
		return 0, 0
	}
	alpha, beta := foc.InversePark(float32(m.cfg.Id), float32(m.cfg.Iq), theta)
	ia, ib, _ = foc.InverseClarke(alpha, beta)
	return ia, ib
}

// toCount converts a current into a saturated ADC count around bias.
func (m *Mock) toCount(bias float64, current float32) uint16 {
	v := float32(bias) + current*m.countsPerAmp
	if m.cfg.NoiseLevel > 0 {
		v += float32((m.rng.Float64()*2 - 1) * m.cfg.NoiseLevel)
	}
	v = math32.Floor(v + 0.5)
	if v < 0 {
		return 0
	}
	if v > m.k.ADCMax {
		return uint16(m.k.ADCMax)
	}
	return uint16(v)
}
