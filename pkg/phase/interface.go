package phase

import "errors"

// ErrSampleUnavailable is returned by Read when no fresh sample exists.
var ErrSampleUnavailable = errors.New("phase sample unavailable")

// RawSample holds one raw ADC count per phase current channel.
type RawSample struct {
	A uint16 // phase A count (0..ADCMax)
	B uint16 // phase B count (0..ADCMax)
}

// Sensor defines the two-channel phase current front-end (real or mocked).
// Read must not block: it is called once per control period.
type Sensor interface {
	Read() (RawSample, error)
}

// Ensure Serial implements Sensor.
var _ Sensor = (*Serial)(nil)

// Ensure Mock implements Sensor.
var _ Sensor = (*Mock)(nil)
