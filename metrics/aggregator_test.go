package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/store"
)

func newAggregatorStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestAggregator_RollsExecutionIntoMinuteBuckets(t *testing.T) {
	s := newAggregatorStore(t)
	fn := "fn1"
	base := floorMinute(time.Now().UTC().Add(-5 * time.Minute))

	for i := int64(0); i < 3; i++ {
		rec := Record{
			ID:         uuidLike(i),
			FunctionID: &fn,
			Type:       BucketExecution,
			AvgTimeUS:  float64(100 * (i + 1)),
			MaxTimeUS:  100 * (i + 1),
			Count:      1,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			CreatedAt:  time.Now().UTC(),
		}
		require.NoError(t, s.db.PutJSON(recordsBucket, rec.ID, rec))
	}

	agg := NewAggregator(s, 1000)
	require.NoError(t, agg.Tick(30, nil))

	minuteRows, err := s.rowsInWindow(BucketMinute, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, minuteRows, 2)

	var global, perFn *Record
	for i := range minuteRows {
		if minuteRows[i].FunctionID == nil {
			global = &minuteRows[i]
		} else {
			perFn = &minuteRows[i]
		}
	}
	require.NotNil(t, global)
	require.NotNil(t, perFn)
	require.Equal(t, int64(3), global.Count)
	require.Equal(t, int64(3), perFn.Count)
	require.Equal(t, int64(300), global.MaxTimeUS)
	require.InDelta(t, 200, global.AvgTimeUS, 0.0001)
}

func TestAggregator_StopAbortsBetweenWindows(t *testing.T) {
	s := newAggregatorStore(t)
	fn := "fn1"
	base := floorMinute(time.Now().UTC().Add(-5 * time.Minute))
	rec := Record{
		ID:         "exec1",
		FunctionID: &fn,
		Type:       BucketExecution,
		Count:      1,
		AvgTimeUS:  10,
		MaxTimeUS:  10,
		Timestamp:  base,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.db.PutJSON(recordsBucket, rec.ID, rec))

	stop := make(chan struct{})
	close(stop)

	agg := NewAggregator(s, 1000)
	require.True(t, stopRequested(stop))
	require.NoError(t, agg.Tick(30, stop))

	minuteRows, err := s.rowsInWindow(BucketMinute, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, minuteRows)
}

func TestAggregator_CleanupDeletesRolledUpSourceRows(t *testing.T) {
	s := newAggregatorStore(t)
	fn := "fn1"
	past := time.Now().UTC().Add(-10 * time.Minute)

	rec := Record{
		ID:         "exec1",
		FunctionID: &fn,
		Type:       BucketExecution,
		Count:      1,
		AvgTimeUS:  10,
		MaxTimeUS:  10,
		Timestamp:  past,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.db.PutJSON(recordsBucket, rec.ID, rec))

	agg := NewAggregator(s, 1000)
	require.NoError(t, agg.Tick(30, nil))

	rows, err := s.rowsInWindow(BucketExecution, past.Add(-time.Minute), time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func uuidLike(i int64) string {
	return "exec-" + string(rune('a'+i))
}
