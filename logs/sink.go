// Package logs implements the log capture and sink pipeline (C9): a
// buffered writer that persists per-request log lines, a trimmer that
// bounds storage per function, and a stream interceptor that routes
// handler output to the request's scoped logger.
package logs

import (
	"fmt"
	"sync"
	"time"

	"fnrelay.dev/common"
	"fnrelay.dev/store"
)

const bucketName = "logs"

// NewLog is a log line submitted for persistence, per §3's Log record.
// FunctionID is nil for system-originated writes.
type NewLog struct {
	RequestID  string
	FunctionID *string
	Level      string
	Message    string
	Extras     map[string]interface{}
}

// Record is the persisted form of a NewLog, with its assigned id and
// timestamp.
type Record struct {
	ID         uint64                 `json:"id"`
	RequestID  string                 `json:"request_id"`
	FunctionID *string                `json:"function_id,omitempty"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Extras     map[string]interface{} `json:"extras,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Sink is the buffered writer: NewLog records are pushed onto an
// append-only queue and a background flusher drains them into storage in
// batches, per §4.6.
type Sink struct {
	db            *store.DB
	queue         chan NewLog
	batchSize     int
	flushInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSink opens the logs bucket and starts the background flusher.
func NewSink(db *store.DB, batchSize int, flushInterval time.Duration) (*Sink, error) {
	if err := db.CreateBucket(bucketName); err != nil {
		return nil, err
	}
	s := &Sink{
		db:            db,
		queue:         make(chan NewLog, 4096),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Append enqueues a record for eventual persistence. It never blocks: a
// full queue drops the record and logs a warning rather than stalling the
// caller's request.
func (s *Sink) Append(rec NewLog) {
	select {
	case s.queue <- rec:
	default:
		common.Logger.Warn("log sink queue full, dropping record")
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]NewLog, 0, s.batchSize)
	flush := func() {
		for _, rec := range batch {
			s.persist(rec)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.queue:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			for {
				select {
				case rec := <-s.queue:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}

// persist assigns the next sequence id and writes the record. Within one
// request id, records are appended to the queue and drained by this one
// goroutine in submission order, so persisted order matches submission
// order; across request ids no ordering is promised or needed.
func (s *Sink) persist(rec NewLog) {
	id, err := s.db.NextSequence(bucketName)
	if err != nil {
		common.Logger.WithError(err).Error("failed to assign log record id")
		return
	}
	record := Record{
		ID:         id,
		RequestID:  rec.RequestID,
		FunctionID: rec.FunctionID,
		Level:      rec.Level,
		Message:    rec.Message,
		Extras:     rec.Extras,
		Timestamp:  time.Now(),
	}
	if err := s.db.PutJSON(bucketName, sequenceKey(id), record); err != nil {
		common.Logger.WithError(err).Error("failed to persist log record")
	}
}

// FlushAndClose drains and persists every queued record before returning,
// satisfying §4.6's graceful-shutdown contract.
func (s *Sink) FlushAndClose() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// ForFunction returns every persisted record for one function id, oldest
// first, used by the trimmer and by any future log-query surface.
func (s *Sink) ForFunction(functionID string) ([]Record, error) {
	var records []Record
	err := s.db.ForEachJSON(bucketName, func() interface{} { return &Record{} }, func(_ string, value interface{}) error {
		rec := value.(*Record)
		if rec.FunctionID != nil && *rec.FunctionID == functionID {
			records = append(records, *rec)
		}
		return nil
	})
	return records, err
}

func sequenceKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}
