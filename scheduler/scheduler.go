// Package scheduler implements the background scheduler (C12): the
// shared fixed-period, failure-counting, cooperative-stop pattern that
// drives the metrics aggregator (C10), the log trimmer (C9), and the
// key-rotation worker (C11).
package scheduler

import (
	"sync/atomic"
	"time"

	"fnrelay.dev/common"
)

const maxConsecutiveFailures = 5

// Task is one unit of scheduled work. stop is a cooperative signal the
// task should poll between units of work (windows, batches, function
// ids) and honor by returning early; it is never closed mid-unit.
type Task func(stop <-chan struct{}) error

// Worker runs one Task on a fixed period, skipping overlapping ticks and
// self-disabling after five consecutive failures, per §4.13.
type Worker struct {
	name   string
	task   Task
	period time.Duration

	processing int32
	failures   int32
	disabled   int32

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce func()
}

// NewWorker builds a scheduler worker named name, running task every
// period.
func NewWorker(name string, task Task, period time.Duration) *Worker {
	return &Worker{name: name, task: task, period: period}
}

// Start schedules an immediate first run followed by a fixed-period
// timer, per §4.13's start() contract.
func (w *Worker) Start() {
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go func() {
		defer close(w.doneCh)
		w.tick()
		ticker := time.NewTicker(w.period)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.tick()
			}
		}
	}()
}

func (w *Worker) tick() {
	if atomic.LoadInt32(&w.disabled) == 1 {
		return
	}
	if !atomic.CompareAndSwapInt32(&w.processing, 0, 1) {
		common.Logger.WithField("worker", w.name).Debug("tick already in progress, skipping")
		return
	}
	defer atomic.StoreInt32(&w.processing, 0)

	if err := w.task(w.stopCh); err != nil {
		n := atomic.AddInt32(&w.failures, 1)
		common.Logger.WithField("worker", w.name).WithError(err).Warn("tick failed")
		if n >= maxConsecutiveFailures {
			atomic.StoreInt32(&w.disabled, 1)
			common.Logger.WithField("worker", w.name).Error("worker self-disabled after consecutive failures")
		}
		return
	}
	atomic.StoreInt32(&w.failures, 0)
}

// Stop cancels the timer, waits up to 30s for any in-flight tick to
// finish, then force-exits and logs an overrun, per §4.13's stop()
// contract.
func (w *Worker) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)

	select {
	case <-w.doneCh:
		return
	case <-time.After(30 * time.Second):
	}

	select {
	case <-w.doneCh:
	default:
		common.Logger.WithField("worker", w.name).Warn("stop grace period elapsed, forcing exit")
	}
}

// Disabled reports whether this worker has self-disabled after repeated
// failures, for inspection by management endpoints.
func (w *Worker) Disabled() bool {
	return atomic.LoadInt32(&w.disabled) == 1
}
