package cycle

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"
)

// Stats is a snapshot of the driver counters.
type Stats struct {
	State       State
	Cycles      uint64        // Step calls while Running
	Emitted     uint64        // torques accepted by the sink
	SampleSkips uint64        // cycles without a usable sample
	AngleSkips  uint64        // cycles with an invalid angle
	SinkErrors  uint64        // torques the sink rejected
	Overruns    uint64        // cycles longer than the period
	MaxCycle    time.Duration // longest timed cycle
	Last        float32       // last computed torque (N·m)
}

// Skipped returns the number of cycles that produced no torque.
func (s Stats) Skipped() uint64 {
	return s.SampleSkips + s.AngleSkips
}

func (s Stats) String() string {
	return fmt.Sprintf("state=%s cycles=%d emitted=%d sample_skips=%d angle_skips=%d sink_errors=%d overruns=%d max_cycle=%v tau=%.3f",
		s.State, s.Cycles, s.Emitted, s.SampleSkips, s.AngleSkips, s.SinkErrors, s.Overruns, s.MaxCycle, s.Last)
}

// Stats returns the current counters. Counters are read individually, so a
// snapshot taken while Run is active may be off by a cycle between fields.
func (d *Driver) Stats() Stats {
	return Stats{
		State:       d.State(),
		Cycles:      d.cycles.Load(),
		Emitted:     d.emitted.Load(),
		SampleSkips: d.sampleSkips.Load(),
		AngleSkips:  d.angleSkips.Load(),
		SinkErrors:  d.sinkErrors.Load(),
		Overruns:    d.overruns.Load(),
		MaxCycle:    time.Duration(d.maxCycle.Load()),
		Last:        math.Float32frombits(d.last.Load()),
	}
}

func floatBits(f float32) uint32 {
	return math.Float32bits(f)
}

// Report logs a Stats line every interval until ctx is done.
func (d *Driver) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Torque cycle: %v", d.Stats())
		}
	}
}
