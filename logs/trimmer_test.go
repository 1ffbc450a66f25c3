package logs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/store"
)

func TestTrimmer_KeepsNewestPerFunction(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink, err := NewSink(db, 100, time.Hour)
	require.NoError(t, err)
	fn := "fn1"
	for i := 0; i < 10; i++ {
		sink.Append(NewLog{RequestID: "r1", FunctionID: &fn, Level: "info", Message: "line"})
	}
	sink.FlushAndClose()

	trimmer := NewTrimmer(db)
	require.NoError(t, trimmer.Trim(3, nil))

	records, err := sink.ForFunction("fn1")
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestTrimmer_StopsBetweenFunctions(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink, err := NewSink(db, 100, time.Hour)
	require.NoError(t, err)
	fn1, fn2 := "fn1", "fn2"
	sink.Append(NewLog{RequestID: "r1", FunctionID: &fn1, Level: "info", Message: "a"})
	sink.Append(NewLog{RequestID: "r1", FunctionID: &fn2, Level: "info", Message: "b"})
	sink.FlushAndClose()

	stop := make(chan struct{})
	close(stop)

	trimmer := NewTrimmer(db)
	require.NoError(t, trimmer.Trim(0, stop))

	// stop was already closed, so Trim returns before trimming either function.
	records, err := sink.ForFunction("fn1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	records, err = sink.ForFunction("fn2")
	require.NoError(t, err)
	require.Len(t, records, 1)
}
