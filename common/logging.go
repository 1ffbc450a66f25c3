package common

import (
	"bytes"
	"os"
)

// OutputSplitter routes logrus-formatted lines to stderr when they carry
// "level=error" and to stdout otherwise. C9's stream interceptor embeds
// the same routing decision, scoped additionally to the current request.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide structured logger used outside of any
// request scope, built from the same LoggerConfig/NewLogger path every
// other configured logger in this process would use.
var Logger = NewLogger(DefaultLoggerConfig())
