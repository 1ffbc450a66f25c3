package logs

import (
	"fnrelay.dev/router"
)

// scopedLogger forwards one request's log lines to the sink, tagged with
// its request id and function id, satisfying router.ScopedLogger.
type scopedLogger struct {
	requestID  string
	functionID string
	sink       *Sink
}

func (l *scopedLogger) emit(level, message string, extras map[string]interface{}) {
	functionID := l.functionID
	l.sink.Append(NewLog{
		RequestID:  l.requestID,
		FunctionID: &functionID,
		Level:      level,
		Message:    message,
		Extras:     extras,
	})
}

func (l *scopedLogger) Debug(message string, extras map[string]interface{}) {
	l.emit("debug", message, extras)
}

func (l *scopedLogger) Info(message string, extras map[string]interface{}) {
	l.emit("info", message, extras)
}

func (l *scopedLogger) Warn(message string, extras map[string]interface{}) {
	l.emit("warn", message, extras)
}

func (l *scopedLogger) Error(message string, extras map[string]interface{}) {
	l.emit("error", message, extras)
}

// Factory builds request-scoped loggers bound to one sink, satisfying
// router.LoggerFactory.
type Factory struct {
	sink *Sink
}

// NewFactory wraps a Sink as a router.LoggerFactory.
func NewFactory(sink *Sink) *Factory {
	return &Factory{sink: sink}
}

// ForRequest implements router.LoggerFactory.
func (f *Factory) ForRequest(requestID, functionID string) router.ScopedLogger {
	return &scopedLogger{requestID: requestID, functionID: functionID, sink: f.sink}
}
