package metrics

import (
	"time"
)

// Aggregator runs the three sequential, watermark-driven passes of §4.7
// on each tick: execution→minute, minute→hour, hour→day, followed by
// cleanup of fully-rolled-up source rows and a retention sweep. It holds
// no concurrency state of its own: C12's scheduler.Worker supplies the
// is_processing flag and the cooperative stop channel, matching the
// pattern already used by logs.Trimmer and rotation.Worker.
type Aggregator struct {
	store      *Store
	maxPerTick int
}

// NewAggregator builds an Aggregator. maxPerTick bounds how many windows
// of any single pass run in one Tick call, per §4.7's max_minutes_per_run.
func NewAggregator(store *Store, maxPerTick int) *Aggregator {
	return &Aggregator{store: store, maxPerTick: maxPerTick}
}

// Tick runs one full aggregation cycle, aborting between windows (never
// mid-window) when stop fires, per §4.7's retention and stop contract.
func (a *Aggregator) Tick(retentionDays int, stop <-chan struct{}) error {
	if err := a.store.deleteOlderThanRetention(retentionDays); err != nil {
		return err
	}

	if err := a.runPass(BucketExecution, BucketMinute, time.Minute, floorMinute, false, stop,
		func(w *Watermarks) time.Time { return w.LastProcessedMinute },
		func(w *Watermarks, t time.Time) { w.LastProcessedMinute = t },
	); err != nil {
		return err
	}

	if err := a.runPass(BucketMinute, BucketHour, time.Hour, floorHour, true, stop,
		func(w *Watermarks) time.Time { return w.LastProcessedHour },
		func(w *Watermarks, t time.Time) { w.LastProcessedHour = t },
	); err != nil {
		return err
	}

	if err := a.runPass(BucketHour, BucketDay, 24*time.Hour, floorDay, true, stop,
		func(w *Watermarks) time.Time { return w.LastProcessedDay },
		func(w *Watermarks, t time.Time) { w.LastProcessedDay = t },
	); err != nil {
		return err
	}

	return a.cleanup()
}

func stopRequested(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// runPass implements one of §4.7's three structurally identical passes.
// When sourceHasGlobalRows is true (minute→hour, hour→day), the global
// aggregate is built only from the source's existing function_id=nil
// rows and per-function aggregates only from its non-nil rows, to avoid
// double counting; when false (execution→minute), every source row
// carries a function id and both the global and per-function aggregates
// are built from the same full row set.
func (a *Aggregator) runPass(
	sourceType, destType BucketType,
	windowSize time.Duration,
	floor func(time.Time) time.Time,
	sourceHasGlobalRows bool,
	stop <-chan struct{},
	getWatermark func(*Watermarks) time.Time,
	setWatermark func(*Watermarks, time.Time),
) error {
	wm, err := a.store.getWatermarks()
	if err != nil {
		return err
	}

	w := getWatermark(wm)
	if w.IsZero() {
		oldest, ok, err := a.store.oldestTimestamp(sourceType)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		w = floor(oldest)
	}

	end := floor(time.Now().UTC())
	processed := 0

	for w.Before(end) && processed < a.maxPerTick {
		if stopRequested(stop) {
			return nil
		}

		windowEnd := w.Add(windowSize)
		rows, err := a.store.rowsInWindow(sourceType, w, windowEnd)
		if err != nil {
			return err
		}

		if len(rows) > 0 {
			var globalRows, perFnRows []Record
			if sourceHasGlobalRows {
				for _, r := range rows {
					if r.FunctionID == nil {
						globalRows = append(globalRows, r)
					} else {
						perFnRows = append(perFnRows, r)
					}
				}
			} else {
				globalRows = rows
				perFnRows = rows
			}

			if avg, max, count := weightedAggregate(globalRows); count > 0 {
				if err := a.store.upsertBucketRow(nil, destType, w, avg, max, count); err != nil {
					return err
				}
			}
			for functionID, fnRows := range groupByFunction(perFnRows) {
				functionID := functionID
				if avg, max, count := weightedAggregate(fnRows); count > 0 {
					if err := a.store.upsertBucketRow(&functionID, destType, w, avg, max, count); err != nil {
						return err
					}
				}
			}
		}

		w = windowEnd
		processed++
		setWatermark(wm, w)
		if err := a.store.saveWatermarks(wm); err != nil {
			return err
		}
	}
	return nil
}

// cleanup deletes source rows once they have been fully rolled up into
// the next bucket type, per §4.7's post-pass cleanup step.
func (a *Aggregator) cleanup() error {
	wm, err := a.store.getWatermarks()
	if err != nil {
		return err
	}
	if !wm.LastProcessedMinute.IsZero() {
		if err := a.store.deleteRowsOlderThan(BucketExecution, wm.LastProcessedMinute); err != nil {
			return err
		}
	}
	if !wm.LastProcessedHour.IsZero() {
		if err := a.store.deleteRowsOlderThan(BucketMinute, wm.LastProcessedHour); err != nil {
			return err
		}
	}
	if !wm.LastProcessedDay.IsZero() {
		if err := a.store.deleteRowsOlderThan(BucketHour, wm.LastProcessedDay); err != nil {
			return err
		}
	}
	return nil
}
