package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"fnrelay.dev/router"
)

// Echo replies with the request body it was given and logs the call
// through its request-scoped logger (exec.Logger) rather than a global
// one. It does not read exec.Env or exec.Secrets.
func Echo(ctx context.Context, exec *router.ExecContext, req *router.Request) (*router.Response, error) {
	exec.Logger.Info("echo invoked", map[string]interface{}{"path_params": exec.PathParams})
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	return &router.Response{Status: http.StatusOK, Header: header, Body: req.Body}, nil
}

// Whoami reports the request id and route id the handler was invoked
// with; it does not report secrets or environment values.
func Whoami(ctx context.Context, exec *router.ExecContext, req *router.Request) (*router.Response, error) {
	body, err := json.Marshal(map[string]interface{}{
		"request_id": exec.RequestID,
		"route_id":   exec.RouteID,
	})
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &router.Response{Status: http.StatusOK, Header: header, Body: body}, nil
}

// RegisterBuiltins wires the compiled-in demonstration handlers into a
// Registry under stable paths, so a freshly-initialized deployment has
// at least one working function before an operator registers real ones.
func RegisterBuiltins(r *Registry) {
	r.Register("builtin/echo", Echo)
	r.Register("builtin/whoami", Whoami)
}
