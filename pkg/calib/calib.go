// Package calib computes the zero-current bias of each phase current channel.
//
// Calibration runs once, with the drive stage off, before the periodic cycle
// is started. It must not run concurrently with the cycle: both read the same
// sensing hardware.
package calib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/gotorque/pkg/config"
	"github.com/itohio/gotorque/pkg/phase"
)

const (
	// DefaultSamples is the number of samples averaged per channel.
	DefaultSamples = 1024
	// DefaultTimeout bounds calibration when Config.Timeout is not set.
	DefaultTimeout = 2 * time.Second
	// DefaultPollInterval is the wait after an unavailable sample when
	// Config.PollInterval is not set.
	DefaultPollInterval = 50 * time.Microsecond
)

// ErrCalibration marks every calibration failure.
var ErrCalibration = errors.New("calibration failed")

// Offsets holds the zero-current bias of each channel in raw counts.
type Offsets struct {
	A float32
	B float32
}

// Config contains calibration parameters.
type Config struct {
	Samples      int           // number of samples per channel
	Timeout      time.Duration // overall budget for collecting Samples (0 = DefaultTimeout)
	PollInterval time.Duration // wait after an unavailable sample (0 = DefaultPollInterval)
	MinOffset    float32       // lowest acceptable bias (counts)
	MaxOffset    float32       // highest acceptable bias (counts)
}

// FromConfig builds a calibration Config from the application configuration.
func FromConfig(c config.CalibrationConfig) Config {
	return Config{
		Samples:      c.Samples,
		Timeout:      c.Timeout,
		PollInterval: c.PollInterval,
		MinOffset:    float32(c.MinOffset),
		MaxOffset:    float32(c.MaxOffset),
	}
}

// Failure describes why calibration could not produce offsets.
type Failure struct {
	Collected int     // samples collected before the failure
	Offsets   Offsets // computed offsets, set only when out of bounds
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v after %d samples: %v", ErrCalibration, f.Collected, f.Err)
}

func (f *Failure) Unwrap() []error {
	return []error{ErrCalibration, f.Err}
}

// Calibrate averages cfg.Samples readings per channel from s.
//
// An unavailable sample is retried until the timeout (DefaultTimeout when
// unset) or ctx expires; any other sensor error fails immediately. Offsets
// outside [MinOffset, MaxOffset] are rejected. On failure the returned Offsets are zero and must not be used.
func Calibrate(ctx context.Context, s phase.Sensor, cfg Config) (Offsets, error) {
	n := cfg.Samples
	if n <= 0 {
		n = DefaultSamples
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sumA, sumB uint64
	for i := 0; i < n; {
		raw, err := s.Read()
		if err != nil {
			if !errors.Is(err, phase.ErrSampleUnavailable) {
				return Offsets{}, &Failure{Collected: i, Err: err}
			}
			if werr := wait(ctx, poll); werr != nil {
				return Offsets{}, &Failure{Collected: i, Err: fmt.Errorf("%w: %w", err, werr)}
			}
			continue
		}
		sumA += uint64(raw.A)
		sumB += uint64(raw.B)
		i++
	}

	off := Offsets{
		A: float32(float64(sumA) / float64(n)),
		B: float32(float64(sumB) / float64(n)),
	}

	if cfg.MinOffset != 0 || cfg.MaxOffset != 0 {
		if err := checkBounds(off, cfg.MinOffset, cfg.MaxOffset); err != nil {
			return Offsets{}, &Failure{Collected: n, Offsets: off, Err: err}
		}
	}

	log.Printf("Offsets: A=%.1f  B=%.1f", off.A, off.B)

	return off, nil
}

func checkBounds(off Offsets, lo, hi float32) error {
	if off.A < lo || off.A > hi {
		return fmt.Errorf("phase A offset %.1f outside [%.1f, %.1f]", off.A, lo, hi)
	}
	if off.B < lo || off.B > hi {
		return fmt.Errorf("phase B offset %.1f outside [%.1f, %.1f]", off.B, lo, hi)
	}
	return nil
}

// wait pauses for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
