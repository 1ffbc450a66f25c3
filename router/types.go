// Package router implements the function router (C8): an in-memory
// dispatch tree rebuilt from the route registry (package routes), and the
// per-request pipeline described in §4.5 — rebuild, lookup, CORS, API-key
// group auth, handler load, isolated execution, and metric emission.
package router

import (
	"context"
	"net/http"
	"net/url"
)

// Request is the framework-agnostic inbound request the router dispatches
// on. HTTP framework plumbing is an external collaborator per §1; the
// Echo adapter that builds one of these from echo.Context lives outside
// this package.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Response is the framework-agnostic outbound response a Handler returns.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Handler is a loaded function. It runs inside the isolation boundary
// established by C14.
type Handler func(ctx context.Context, exec *ExecContext, req *Request) (*Response, error)

// HandlerLoader loads a Handler from the code directory at the route's
// configured relative path. Filesystem reads for handler source are an
// external collaborator per §1; this interface is the seam.
type HandlerLoader interface {
	Load(handlerPath string) (Handler, error)
}

// SecretsAccessor is the scoped secrets view (C6) an ExecContext carries,
// already filtered to global/route:route_id scope.
type SecretsAccessor interface {
	Get(name string) (string, error)
}

// SecretsProvider hands back a SecretsAccessor scoped to one route.
type SecretsProvider interface {
	ForRoute(routeID string) SecretsAccessor
}

// ScopedLogger forwards request-scoped log lines to C9.
type ScopedLogger interface {
	Debug(message string, extras map[string]interface{})
	Info(message string, extras map[string]interface{})
	Warn(message string, extras map[string]interface{})
	Error(message string, extras map[string]interface{})
}

// LoggerFactory builds a ScopedLogger bound to one request/function pair.
type LoggerFactory interface {
	ForRequest(requestID, functionID string) ScopedLogger
}

// EnvAccessor is the per-request environment/process surface handler
// code is given instead of direct access to the os package, per §4.10:
// writes land in a request-scoped overlay, reads see the overlay chained
// to the real environment, and Exit returns a catchable error instead of
// terminating the host.
type EnvAccessor interface {
	Getenv(key string) string
	Setenv(key, value string) error
	Unsetenv(key string) error
	Environ() []string
	Getwd() (string, error)
	Chdir(dir string) error
	Exit(code int) error
}

// Isolator is C14's execution boundary. NewScope builds the per-request
// overlay exposed to handler code as ExecContext.Env; Run executes
// handler code within that boundary, recovering panics and honoring
// context cancellation so a wedged or crashing handler cannot take down
// the request-handling goroutine pool.
type Isolator interface {
	NewScope(requestID string) EnvAccessor
	Run(ctx context.Context, requestID string, fn func() (*Response, error)) (*Response, error)
}

// MetricsRecorder is where C8 emits the fire-and-forget execution-level
// metric described in §4.5 step 9.
type MetricsRecorder interface {
	RecordExecution(functionID string, elapsedMicros int64) error
}

// KeyAuthenticator validates an API key secret and reports which group it
// belongs to, per §4.5 step 5 / §4.9.
type KeyAuthenticator interface {
	AuthenticateGroup(secret string) (group string, err error)
}

// ExecContext is built fresh for every dispatched request (§4.5 step 7).
type ExecContext struct {
	RequestID  string
	RouteID    string
	PathParams map[string]string
	Logger     ScopedLogger
	Secrets    SecretsAccessor
	Env        EnvAccessor
}
