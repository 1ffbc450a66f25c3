// Package metrics implements the metrics recorder and aggregator (C10):
// per-execution records rolled up through watermark-driven minute, hour,
// and day buckets, per §4.7.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fnrelay.dev/store"
)

const (
	recordsBucket    = "metrics"
	watermarksBucket = "metric_watermarks"
	watermarksKey    = "watermarks"
)

// BucketType is one of the four period types a Record can represent.
type BucketType string

const (
	BucketExecution BucketType = "execution"
	BucketMinute    BucketType = "minute"
	BucketHour      BucketType = "hour"
	BucketDay       BucketType = "day"
)

// Record is the metric record described by §3. FunctionID nil means a
// global aggregate across all functions.
type Record struct {
	ID         string     `json:"id"`
	FunctionID *string    `json:"function_id,omitempty"`
	Type       BucketType `json:"type"`
	AvgTimeUS  float64    `json:"avg_time_us"`
	MaxTimeUS  int64      `json:"max_time_us"`
	Count      int64      `json:"count"`
	Timestamp  time.Time  `json:"timestamp"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Watermarks holds the three named aggregation watermarks from §3.
type Watermarks struct {
	LastProcessedMinute time.Time `json:"last_processed_minute"`
	LastProcessedHour   time.Time `json:"last_processed_hour"`
	LastProcessedDay    time.Time `json:"last_processed_day"`
}

// Store persists metric records and the aggregation watermarks.
type Store struct {
	db *store.DB
}

// New opens the metrics buckets, creating them on first use.
func New(db *store.DB) (*Store, error) {
	if err := db.CreateBucket(recordsBucket); err != nil {
		return nil, err
	}
	if err := db.CreateBucket(watermarksBucket); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// RecordExecution persists one execution-level metric, satisfying
// router.MetricsRecorder (§4.5 step 9).
func (s *Store) RecordExecution(functionID string, elapsedMicros int64) error {
	now := time.Now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		FunctionID: &functionID,
		Type:       BucketExecution,
		AvgTimeUS:  float64(elapsedMicros),
		MaxTimeUS:  elapsedMicros,
		Count:      1,
		Timestamp:  now,
		CreatedAt:  now,
	}
	return s.db.PutJSON(recordsBucket, rec.ID, rec)
}

func (s *Store) getWatermarks() (*Watermarks, error) {
	var w Watermarks
	if err := s.db.GetJSON(watermarksBucket, watermarksKey, &w); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return &Watermarks{}, nil
		}
		return nil, err
	}
	return &w, nil
}

func (s *Store) saveWatermarks(w *Watermarks) error {
	return s.db.PutJSON(watermarksBucket, watermarksKey, w)
}

// Watermarks returns a copy of the current watermarks, for inspection by
// callers such as management endpoints.
func (s *Store) Watermarks() (*Watermarks, error) {
	return s.getWatermarks()
}

// Query returns every record of the requested resolution within
// [start, end), optionally narrowed to one function id, for the
// management `…/metrics` endpoint (§6). A nil functionID returns both
// global and per-function rows at that resolution.
func (s *Store) Query(resolution BucketType, start, end time.Time, functionID *string) ([]Record, error) {
	rows, err := s.rowsInWindow(resolution, start, end)
	if err != nil {
		return nil, err
	}
	if functionID == nil {
		return rows, nil
	}
	var filtered []Record
	for _, rec := range rows {
		if rec.FunctionID != nil && *rec.FunctionID == *functionID {
			filtered = append(filtered, rec)
		}
	}
	return filtered, nil
}

func (s *Store) rowsInWindow(bucketType BucketType, start, end time.Time) ([]Record, error) {
	var rows []Record
	err := s.db.ForEachJSON(recordsBucket, func() interface{} { return &Record{} }, func(_ string, value interface{}) error {
		rec := value.(*Record)
		if rec.Type == bucketType && !rec.Timestamp.Before(start) && rec.Timestamp.Before(end) {
			rows = append(rows, *rec)
		}
		return nil
	})
	return rows, err
}

func (s *Store) oldestTimestamp(bucketType BucketType) (time.Time, bool, error) {
	var oldest time.Time
	found := false
	err := s.db.ForEachJSON(recordsBucket, func() interface{} { return &Record{} }, func(_ string, value interface{}) error {
		rec := value.(*Record)
		if rec.Type != bucketType {
			return nil
		}
		if !found || rec.Timestamp.Before(oldest) {
			oldest = rec.Timestamp
			found = true
		}
		return nil
	})
	return oldest, found, err
}

func (s *Store) upsertBucketRow(functionID *string, bucketType BucketType, timestamp time.Time, avg float64, max int64, count int64) error {
	key := recordKey(functionID, bucketType, timestamp)
	rec := Record{
		ID:         key,
		FunctionID: functionID,
		Type:       bucketType,
		AvgTimeUS:  avg,
		MaxTimeUS:  max,
		Count:      count,
		Timestamp:  timestamp,
		CreatedAt:  time.Now().UTC(),
	}
	return s.db.PutJSON(recordsBucket, key, rec)
}

// recordKey is deterministic per (function_id, type, period floor), which
// is what makes upsertBucketRow an upsert rather than an always-insert:
// §3 invariant (b) allows at most one row per (function_id, type) pair
// per period floor.
func recordKey(functionID *string, bucketType BucketType, timestamp time.Time) string {
	fid := "global"
	if functionID != nil {
		fid = *functionID
	}
	return fmt.Sprintf("%s|%s|%d", bucketType, fid, timestamp.Unix())
}

func (s *Store) deleteRowsOlderThan(bucketType BucketType, cutoff time.Time) error {
	var keys []string
	err := s.db.ForEachJSON(recordsBucket, func() interface{} { return &Record{} }, func(key string, value interface{}) error {
		rec := value.(*Record)
		if rec.Type == bucketType && rec.Timestamp.Before(cutoff) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.db.Delete(recordsBucket, k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteOlderThanRetention(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var keys []string
	err := s.db.ForEachJSON(recordsBucket, func() interface{} { return &Record{} }, func(key string, value interface{}) error {
		rec := value.(*Record)
		if rec.Timestamp.Before(cutoff) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.db.Delete(recordsBucket, k); err != nil {
			return err
		}
	}
	return nil
}

func groupByFunction(rows []Record) map[string][]Record {
	out := map[string][]Record{}
	for _, r := range rows {
		if r.FunctionID == nil {
			continue
		}
		out[*r.FunctionID] = append(out[*r.FunctionID], r)
	}
	return out
}

// weightedAggregate implements §4.7's weighted average/max/count roll-up
// across source rows.
func weightedAggregate(rows []Record) (avg float64, max int64, count int64) {
	var weighted float64
	for _, r := range rows {
		weighted += r.AvgTimeUS * float64(r.Count)
		count += r.Count
		if r.MaxTimeUS > max {
			max = r.MaxTimeUS
		}
	}
	if count > 0 {
		avg = weighted / float64(count)
	}
	return avg, max, count
}

func floorMinute(t time.Time) time.Time { return t.UTC().Truncate(time.Minute) }
func floorHour(t time.Time) time.Time   { return t.UTC().Truncate(time.Hour) }
func floorDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
