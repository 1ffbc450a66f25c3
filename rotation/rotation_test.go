package rotation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/ferr"
	"fnrelay.dev/security"
)

type fakeTable struct {
	name       string
	phasedOut  map[string]bool
	rewritten  []string
	rewriteErr error
}

func newFakeTable(name string, ids ...string) *fakeTable {
	phasedOut := map[string]bool{}
	for _, id := range ids {
		phasedOut[id] = true
	}
	return &fakeTable{name: name, phasedOut: phasedOut}
}

func (f *fakeTable) Name() string { return f.name }

func (f *fakeTable) PhasedOutBatch(limit int) ([]string, error) {
	var ids []string
	for id, stillPhased := range f.phasedOut {
		if stillPhased {
			ids = append(ids, id)
			if len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeTable) RewriteByID(id string) error {
	if f.rewriteErr != nil {
		return f.rewriteErr
	}
	f.phasedOut[id] = false
	f.rewritten = append(f.rewritten, id)
	return nil
}

func newTestWorker(t *testing.T, tables []Table, rotationEvery time.Duration) (*Worker, string, *security.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.json")
	kf, err := security.LoadOrInitialize(path)
	require.NoError(t, err)
	engine, err := kf.Engine()
	require.NoError(t, err)
	return NewWorker(path, engine, tables, 10, 0, rotationEvery), path, engine
}

func TestTick_IdleWhenIntervalNotElapsed(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, 24*time.Hour)
	require.NoError(t, w.Tick(nil))
	require.Equal(t, StateIdle, w.State())
}

func TestTick_RotatesAndFinalizesWhenDue(t *testing.T) {
	table := newFakeTable("widgets", "row1", "row2")
	w, path, engine := newTestWorker(t, []Table{table}, 0)

	require.NoError(t, w.Tick(nil))

	require.Equal(t, StateIdle, w.State())
	require.ElementsMatch(t, []string{"row1", "row2"}, table.rewritten)
	require.False(t, engine.IsRotating())

	kf, err := security.LoadOrInitialize(path)
	require.NoError(t, err)
	require.Nil(t, kf.PhasedOutKey)
}

func TestTick_StopsBetweenBatchesLeavesRotationInProgress(t *testing.T) {
	table := newFakeTable("widgets", "row1", "row2", "row3")
	w, _, engine := newTestWorker(t, []Table{table}, 0)

	stop := make(chan struct{})
	close(stop)

	require.NoError(t, w.Tick(stop))
	require.True(t, engine.IsRotating())
	require.Empty(t, table.rewritten)
}

func TestTick_ResumesFromDiskWhenPhasedOutPresent(t *testing.T) {
	table := newFakeTable("widgets", "row1")
	w, path, _ := newTestWorker(t, []Table{table}, 0)

	stop := make(chan struct{})
	close(stop)
	require.NoError(t, w.Tick(stop))

	require.NoError(t, w.Tick(nil))
	require.Equal(t, StateIdle, w.State())

	kf, err := security.LoadOrInitialize(path)
	require.NoError(t, err)
	require.Nil(t, kf.PhasedOutKey)
}

func TestTrigger_RejectsWhenAlreadyRotating(t *testing.T) {
	table := newFakeTable("widgets", "row1")
	w, _, _ := newTestWorker(t, []Table{table}, 24*time.Hour)

	stop := make(chan struct{})
	close(stop)
	require.NoError(t, w.Trigger(stop))

	err := w.Trigger(nil)
	require.ErrorIs(t, err, ferr.ErrRotationInProgress)
}
