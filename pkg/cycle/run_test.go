package cycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/gotorque/pkg/angle"
	"github.com/itohio/gotorque/pkg/calib"
	"github.com/itohio/gotorque/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowSink takes delay to accept each value.
type slowSink struct {
	delay time.Duration
	count atomic.Uint64
}

func (s *slowSink) Emit(float32) error {
	time.Sleep(s.delay)
	s.count.Add(1)
	return nil
}

func TestRun_EmitsUntilCanceled(t *testing.T) {
	k := countsAsAmps()
	k.FrequencyHz = 1000
	out := &sink.Latest{}
	d := New(k, newStatic(2049, 2048), angle.NewFixed(0), out)
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, n := out.Load()
		return n >= 10
	}, 5*time.Second, time.Millisecond)

	// A second loop on the same driver is refused
	assert.ErrorIs(t, d.Run(ctx), ErrLoopActive)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	tau, _ := out.Load()
	assert.InDelta(t, 6.135, tau, 1e-3)

	st := d.Stats()
	assert.GreaterOrEqual(t, st.Cycles, uint64(10))
	assert.Equal(t, st.Cycles, st.Emitted)
	assert.Greater(t, st.MaxCycle, time.Duration(0))
}

func TestRun_CountsOverruns(t *testing.T) {
	k := countsAsAmps()
	k.FrequencyHz = 1000
	out := &slowSink{delay: 3 * time.Millisecond}
	d := New(k, newStatic(2049, 2048), angle.NewFixed(0), out)
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	st := d.Stats()
	assert.Greater(t, st.Overruns, uint64(0))
	assert.Equal(t, st.Cycles, st.Overruns)
	assert.GreaterOrEqual(t, st.MaxCycle, 3*time.Millisecond)
	// Missed ticks are dropped rather than replayed
	assert.Less(t, st.Cycles, uint64(100))
}

func TestRun_SustainedOverrunLimit(t *testing.T) {
	k := countsAsAmps()
	k.FrequencyHz = 1000
	out := &slowSink{delay: 2 * time.Millisecond}
	d := New(k, newStatic(2049, 2048), angle.NewFixed(0), out, WithOverrunLimit(3))
	require.NoError(t, d.Start(calib.Offsets{A: 2048, B: 2048}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.Run(ctx)
	assert.ErrorIs(t, err, ErrSustainedOverrun)
	assert.Equal(t, uint64(3), d.Stats().Overruns)
	assert.Equal(t, uint64(3), out.count.Load())

	// Still Running: the limit ends the loop, not the state
	assert.Equal(t, Running, d.State())
}

func TestReport_StopsOnCancel(t *testing.T) {
	d := New(countsAsAmps(), newStatic(2048, 2048), angle.NewFixed(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Report(ctx, time.Millisecond)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Report did not return after cancel")
	}

	// A non-positive interval returns immediately
	d.Report(context.Background(), 0)
}

func TestStats_String(t *testing.T) {
	s := Stats{State: Running, Cycles: 10, Emitted: 8, SampleSkips: 1, AngleSkips: 1, Last: 6.135}
	assert.Contains(t, s.String(), "state=running")
	assert.Contains(t, s.String(), "cycles=10")
	assert.Contains(t, s.String(), "tau=6.135")
}
