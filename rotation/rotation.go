// Package rotation implements the key-rotation worker (C11): a
// state-machine driven batch re-encryption pass that moves every
// ciphertext column from the phased-out key to the current key, then
// finalizes the key file once no phased-out ciphertext remains.
package rotation

import (
	"fmt"
	"time"

	"fnrelay.dev/ferr"
	"fnrelay.dev/security"
)

// Table is satisfied by each ciphertext-bearing store (C4/C5/C6) and is
// the static registry C11 walks on every REWRITING batch.
type Table interface {
	Name() string
	PhasedOutBatch(limit int) ([]string, error)
	RewriteByID(id string) error
}

// State is one of the phases in §4.8's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateResuming   State = "resuming"
	StateStarting   State = "starting"
	StateRewriting  State = "rewriting"
	StateFinalizing State = "finalizing"
)

// Worker drives the rotation state machine against a key file on disk, an
// in-memory encryption engine, and the registered ciphertext tables.
type Worker struct {
	keyFilePath string
	engine      *security.Engine
	tables      []Table

	batchSize     int
	batchSleep    time.Duration
	rotationEvery time.Duration

	state State
}

// NewWorker builds a rotation worker bound to the given key file, engine,
// and static table registry.
func NewWorker(keyFilePath string, engine *security.Engine, tables []Table, batchSize int, batchSleep, rotationEvery time.Duration) *Worker {
	return &Worker{
		keyFilePath:   keyFilePath,
		engine:        engine,
		tables:        tables,
		batchSize:     batchSize,
		batchSleep:    batchSleep,
		rotationEvery: rotationEvery,
		state:         StateIdle,
	}
}

// State returns the worker's current phase, for inspection by management
// endpoints.
func (w *Worker) State() State {
	return w.state
}

// Tick runs one pass of the state machine to completion (or until a stop
// request fires between batches), implementing §4.8's full
// IDLE→...→IDLE cycle driven from C12.
func (w *Worker) Tick(stop <-chan struct{}) error {
	kf, err := security.LoadOrInitialize(w.keyFilePath)
	if err != nil {
		return err
	}

	switch {
	case kf.PhasedOutKey != nil:
		w.state = StateResuming
	case time.Since(kf.LastRotationFinishedAt) >= w.rotationEvery:
		w.state = StateStarting
	default:
		w.state = StateIdle
		return nil
	}

	if w.state == StateStarting {
		kf, err = w.start(kf)
		if err != nil {
			return err
		}
	}

	w.state = StateRewriting
	if err := kf.ApplyTo(w.engine); err != nil {
		return err
	}

	if err := w.rewriteAll(stop); err != nil {
		return err
	}
	if stopRequested(stop) {
		return nil
	}

	remaining, err := w.countPhasedOut()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}

	w.state = StateFinalizing
	return w.finalize(kf)
}

// Trigger forces an immediate rotation, rejecting with
// ferr.ErrRotationInProgress if one is already under way, per §4.8's
// manual-trigger contract.
func (w *Worker) Trigger(stop <-chan struct{}) error {
	if w.engine.IsRotating() {
		return ferr.ErrRotationInProgress
	}
	kf, err := security.LoadOrInitialize(w.keyFilePath)
	if err != nil {
		return err
	}
	if kf.PhasedOutKey != nil {
		return ferr.ErrRotationInProgress
	}
	kf, err = w.start(kf)
	if err != nil {
		return err
	}
	w.state = StateRewriting
	if err := kf.ApplyTo(w.engine); err != nil {
		return err
	}
	if err := w.rewriteAll(stop); err != nil {
		return err
	}
	if stopRequested(stop) {
		return nil
	}
	remaining, err := w.countPhasedOut()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	w.state = StateFinalizing
	return w.finalize(kf)
}

// start generates fresh current key material, demotes the old current key
// to phased-out, and atomically rewrites the key file, implementing
// §4.8's STARTING transition.
func (w *Worker) start(kf *security.KeyFile) (*security.KeyFile, error) {
	newKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	newVersion := security.NextVersion(kf.CurrentVersion)

	oldKey := kf.CurrentKey
	oldVersion := kf.CurrentVersion

	kf.PhasedOutKey = &oldKey
	kf.PhasedOutVersion = &oldVersion
	kf.CurrentKey = newKey
	kf.CurrentVersion = newVersion

	if err := kf.Save(w.keyFilePath); err != nil {
		return nil, err
	}
	return kf, nil
}

// finalize clears the phased-out key, stamps the completion time, and
// atomically rewrites the key file, implementing §4.8's FINALIZING
// transition and crash-safety contract.
func (w *Worker) finalize(kf *security.KeyFile) error {
	kf.PhasedOutKey = nil
	kf.PhasedOutVersion = nil
	kf.LastRotationFinishedAt = time.Now().UTC()
	if err := kf.Save(w.keyFilePath); err != nil {
		return err
	}
	if err := kf.ApplyTo(w.engine); err != nil {
		return err
	}
	w.state = StateIdle
	return nil
}

// rewriteAll drives §4.8's REWRITING loop across every registered table:
// bounded batches, one rotation-lock acquisition per batch, a sleep
// between batches, and a cooperative stop check between batches only.
func (w *Worker) rewriteAll(stop <-chan struct{}) error {
	for _, table := range w.tables {
		for {
			if stopRequested(stop) {
				return nil
			}
			ids, err := table.PhasedOutBatch(w.batchSize)
			if err != nil {
				return fmt.Errorf("listing phased-out rows in %s: %w", table.Name(), err)
			}
			if len(ids) == 0 {
				break
			}

			lock := w.engine.AcquireRotationLock()
			lock.Lock()
			var batchErr error
			for _, id := range ids {
				if err := table.RewriteByID(id); err != nil {
					batchErr = fmt.Errorf("rewriting %s/%s: %w", table.Name(), id, err)
					break
				}
			}
			lock.Unlock()
			if batchErr != nil {
				return batchErr
			}

			if w.batchSleep > 0 {
				time.Sleep(w.batchSleep)
			}
		}
	}
	return nil
}

func (w *Worker) countPhasedOut() (int, error) {
	total := 0
	for _, table := range w.tables {
		ids, err := table.PhasedOutBatch(1)
		if err != nil {
			return 0, err
		}
		total += len(ids)
	}
	return total, nil
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

func randomKey() (string, error) {
	return security.RandomKeyMaterial()
}
