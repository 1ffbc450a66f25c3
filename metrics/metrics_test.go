package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestRecordExecution(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordExecution("fn1", 1500))

	rows, err := s.rowsInWindow(BucketExecution, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "fn1", *rows[0].FunctionID)
	require.Equal(t, float64(1500), rows[0].AvgTimeUS)
	require.Equal(t, int64(1500), rows[0].MaxTimeUS)
	require.Equal(t, int64(1), rows[0].Count)
}

func TestWatermarksDefaultToZero(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Watermarks()
	require.NoError(t, err)
	require.True(t, w.LastProcessedMinute.IsZero())
	require.True(t, w.LastProcessedHour.IsZero())
	require.True(t, w.LastProcessedDay.IsZero())
}

func TestUpsertBucketRowIsDeterministicKey(t *testing.T) {
	s := newTestStore(t)
	ts := floorMinute(time.Now().UTC())
	fn := "fn1"

	require.NoError(t, s.upsertBucketRow(&fn, BucketMinute, ts, 10, 20, 2))
	require.NoError(t, s.upsertBucketRow(&fn, BucketMinute, ts, 30, 40, 4))

	rows, err := s.rowsInWindow(BucketMinute, ts, ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float64(30), rows[0].AvgTimeUS)
	require.Equal(t, int64(40), rows[0].MaxTimeUS)
	require.Equal(t, int64(4), rows[0].Count)
}

func TestWeightedAggregate(t *testing.T) {
	rows := []Record{
		{AvgTimeUS: 100, MaxTimeUS: 200, Count: 2},
		{AvgTimeUS: 200, MaxTimeUS: 500, Count: 1},
	}
	avg, max, count := weightedAggregate(rows)
	require.Equal(t, int64(3), count)
	require.Equal(t, int64(500), max)
	require.InDelta(t, (100*2+200*1)/3.0, avg, 0.0001)
}

func TestWeightedAggregateEmpty(t *testing.T) {
	avg, max, count := weightedAggregate(nil)
	require.Equal(t, float64(0), avg)
	require.Equal(t, int64(0), max)
	require.Equal(t, int64(0), count)
}

func TestGroupByFunctionIgnoresGlobalRows(t *testing.T) {
	fn1, fn2 := "fn1", "fn2"
	rows := []Record{
		{FunctionID: &fn1, Count: 1},
		{FunctionID: &fn2, Count: 1},
		{FunctionID: nil, Count: 5},
	}
	grouped := groupByFunction(rows)
	require.Len(t, grouped, 2)
	require.Len(t, grouped["fn1"], 1)
	require.Len(t, grouped["fn2"], 1)
}

func TestDeleteOlderThanRetention(t *testing.T) {
	s := newTestStore(t)
	fn := "fn1"
	old := Record{
		ID:         "old1",
		FunctionID: &fn,
		Type:       BucketExecution,
		Count:      1,
		Timestamp:  time.Now().UTC().AddDate(0, 0, -10),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.db.PutJSON(recordsBucket, old.ID, old))
	require.NoError(t, s.RecordExecution("fn1", 100))

	require.NoError(t, s.deleteOlderThanRetention(7))

	rows, err := s.rowsInWindow(BucketExecution, time.Now().UTC().AddDate(0, 0, -30), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotEqual(t, "old1", rows[0].ID)
}

func TestFloorHelpers(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 37, 42, 123, time.UTC)
	require.Equal(t, time.Date(2026, 3, 4, 15, 37, 0, 0, time.UTC), floorMinute(ts))
	require.Equal(t, time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC), floorHour(ts))
	require.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), floorDay(ts))
}
