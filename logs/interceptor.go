package logs

import (
	"bytes"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// goroutineID extracts the numeric id from the header line runtime.Stack
// writes ("goroutine 123 [running]:"). There is no supported stdlib API
// for reading a goroutine's own id; the alternative is pulling in a
// dedicated goroutine-local-storage dependency for a single integer,
// which is a heavier cost than this narrowly-scoped, well-known parse.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx > 0 {
		if id, err := strconv.ParseUint(string(buf[:idx]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// Interceptor is C9's stream interceptor: installed once at startup in
// place of the process logger's real writer, it routes writes made while
// a scope is bound to the calling goroutine to that scope's sink, and
// passes every other write through unchanged.
type Interceptor struct {
	real   io.Writer
	scopes sync.Map // goroutine id (uint64) -> *boundScope
}

type boundScope struct {
	requestID  string
	functionID string
	sink       *Sink
}

// NewInterceptor wraps the real writer system code should keep seeing
// when no request scope is bound.
func NewInterceptor(real io.Writer) *Interceptor {
	return &Interceptor{real: real}
}

// Bind attaches a request scope to the calling goroutine for the
// duration of fn, so any write the process logger receives from within
// fn (and anything it calls, on the same goroutine) is captured instead
// of reaching the real stream.
func (i *Interceptor) Bind(requestID, functionID string, sink *Sink, fn func()) {
	id := goroutineID()
	i.scopes.Store(id, &boundScope{requestID: requestID, functionID: functionID, sink: sink})
	defer i.scopes.Delete(id)
	fn()
}

// Write implements io.Writer. System code running outside any bound
// scope sees its writes pass through to the real stream unmodified.
func (i *Interceptor) Write(p []byte) (int, error) {
	if v, ok := i.scopes.Load(goroutineID()); ok {
		scope := v.(*boundScope)
		functionID := scope.functionID
		scope.sink.Append(NewLog{
			RequestID:  scope.requestID,
			FunctionID: &functionID,
			Level:      "info",
			Message:    strings.TrimRight(string(p), "\n"),
		})
		return len(p), nil
	}
	return i.real.Write(p)
}
