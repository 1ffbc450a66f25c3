package logs

import (
	"sort"
	"sync"

	"fnrelay.dev/store"
)

// Trimmer implements §4.6's trimming pass: for every function id with
// logs, keep the newest maxPerFunction rows and delete the rest. Runs
// under its own serialization, separate from the sink's append path.
type Trimmer struct {
	db *store.DB
	mu sync.Mutex
}

// NewTrimmer wraps the same database the sink writes to.
func NewTrimmer(db *store.DB) *Trimmer {
	return &Trimmer{db: db}
}

// Trim performs one pass. stop is checked between function ids, never
// mid-function, per §4.6.
func (t *Trimmer) Trim(maxPerFunction int, stop <-chan struct{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byFunction := map[string][]Record{}
	err := t.db.ForEachJSON(bucketName, func() interface{} { return &Record{} }, func(_ string, value interface{}) error {
		rec := value.(*Record)
		if rec.FunctionID == nil {
			return nil
		}
		byFunction[*rec.FunctionID] = append(byFunction[*rec.FunctionID], *rec)
		return nil
	})
	if err != nil {
		return err
	}

	for _, records := range byFunction {
		select {
		case <-stop:
			return nil
		default:
		}

		if len(records) <= maxPerFunction {
			continue
		}
		sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
		for _, rec := range records[maxPerFunction:] {
			if err := t.db.Delete(bucketName, sequenceKey(rec.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}
