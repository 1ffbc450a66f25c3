package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker_RunsImmediatelyThenOnPeriod(t *testing.T) {
	var runs int32
	w := NewWorker("test", func(stop <-chan struct{}) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, 10*time.Millisecond)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 3
	}, time.Second, time.Millisecond)
}

func TestWorker_SkipsOverlappingTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	w := NewWorker("test", func(stop <-chan struct{}) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return nil
	}, time.Millisecond)

	w.Start()
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	w.Stop()

	require.EqualValues(t, 1, atomic.LoadInt32(&runs))
}

func TestWorker_SelfDisablesAfterFiveFailures(t *testing.T) {
	var runs int32
	w := NewWorker("test", func(stop <-chan struct{}) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("boom")
	}, time.Millisecond)

	w.Start()
	require.Eventually(t, func() bool {
		return w.Disabled()
	}, time.Second, time.Millisecond)
	w.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(5))
}

func TestWorker_SuccessResetsFailureStreak(t *testing.T) {
	var attempt int32
	w := NewWorker("test", func(stop <-chan struct{}) error {
		n := atomic.AddInt32(&attempt, 1)
		// Two streaks of three failures split by one success: without the
		// reset, the sixth failure would reach the limit of five.
		if n <= 3 || (n >= 5 && n <= 7) {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond)

	w.Start()
	defer w.Stop()

	require.Never(t, func() bool {
		return w.Disabled()
	}, 200*time.Millisecond, 10*time.Millisecond)
}

func TestWorker_StopWaitsForInFlightTick(t *testing.T) {
	finished := int32(0)
	w := NewWorker("test", func(stop <-chan struct{}) error {
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	}, time.Hour)

	w.Start()
	time.Sleep(5 * time.Millisecond)
	w.Stop()

	require.EqualValues(t, 1, atomic.LoadInt32(&finished))
}
