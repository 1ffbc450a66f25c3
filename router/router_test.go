package router

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fnrelay.dev/routes"
	"fnrelay.dev/store"
)

type fakeLoader struct {
	handlers map[string]Handler
}

func (f *fakeLoader) Load(path string) (Handler, error) {
	h, ok := f.handlers[path]
	if !ok {
		return nil, errNotFoundStub
	}
	return h, nil
}

var errNotFoundStub = fakeErr("handler not found")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeKeys struct {
	validSecret string
	group       string
}

func (f *fakeKeys) AuthenticateGroup(secret string) (string, error) {
	if secret == f.validSecret {
		return f.group, nil
	}
	return "", fakeErr("invalid key")
}

type fakeSecrets struct{}

func (fakeSecrets) Get(name string) (string, error) { return "", fakeErr("no secret") }

type fakeSecretsProvider struct{}

func (fakeSecretsProvider) ForRoute(routeID string) SecretsAccessor { return fakeSecrets{} }

type fakeLogger struct{}

func (fakeLogger) Debug(string, map[string]interface{}) {}
func (fakeLogger) Info(string, map[string]interface{})  {}
func (fakeLogger) Warn(string, map[string]interface{})  {}
func (fakeLogger) Error(string, map[string]interface{}) {}

type fakeLoggerFactory struct{}

func (fakeLoggerFactory) ForRequest(requestID, functionID string) ScopedLogger { return fakeLogger{} }

type passthroughIsolator struct{}

func (passthroughIsolator) NewScope(requestID string) EnvAccessor { return fakeEnv{} }

func (passthroughIsolator) Run(ctx context.Context, requestID string, fn func() (*Response, error)) (*Response, error) {
	return fn()
}

type fakeEnv struct{}

func (fakeEnv) Getenv(key string) string      { return "" }
func (fakeEnv) Setenv(key, value string) error { return nil }
func (fakeEnv) Unsetenv(key string) error      { return nil }
func (fakeEnv) Environ() []string              { return nil }
func (fakeEnv) Getwd() (string, error)         { return "", nil }
func (fakeEnv) Chdir(dir string) error         { return nil }
func (fakeEnv) Exit(code int) error            { return nil }

type fakeMetrics struct {
	recorded []string
}

func (f *fakeMetrics) RecordExecution(functionID string, elapsedMicros int64) error {
	f.recorded = append(f.recorded, functionID)
	return nil
}

func newTestRouter(t *testing.T, handlers map[string]Handler, keys *fakeKeys) (*Router, *routes.Store, *fakeMetrics) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	routeStore, err := routes.New(db)
	require.NoError(t, err)

	metrics := &fakeMetrics{}
	r := New(routeStore, &fakeLoader{handlers: handlers}, keys, fakeSecretsProvider{}, fakeLoggerFactory{}, passthroughIsolator{}, metrics)
	return r, routeStore, metrics
}

func newRequest(method, path string) *Request {
	u, _ := url.Parse(path)
	return &Request{Method: method, Path: u.Path, Header: http.Header{}, Query: u.Query()}
}

func TestRouter_DispatchesToHandler(t *testing.T) {
	handlers := map[string]Handler{
		"hello.js": func(ctx context.Context, exec *ExecContext, req *Request) (*Response, error) {
			return &Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("hi")}, nil
		},
	}
	r, routeStore, metrics := newTestRouter(t, handlers, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, HandlerPath: "hello.js", Enabled: true})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("GET", "/hello"))
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "hi", string(resp.Body))
	require.Len(t, metrics.recorded, 1)
}

func TestRouter_404OnMiss(t *testing.T) {
	r, _, _ := newTestRouter(t, nil, &fakeKeys{})
	resp := r.HandleRequest(context.Background(), newRequest("GET", "/missing"))
	require.Equal(t, http.StatusNotFound, resp.Status)
	require.JSONEq(t, `{"error":"Function not found"}`, string(resp.Body))
}

func TestRouter_DisabledRouteIs404(t *testing.T) {
	r, routeStore, _ := newTestRouter(t, nil, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, Enabled: false})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("GET", "/hello"))
	require.Equal(t, http.StatusNotFound, resp.Status)
}

func TestRouter_PathParamsPassedToHandler(t *testing.T) {
	var seen map[string]string
	handlers := map[string]Handler{
		"user.js": func(ctx context.Context, exec *ExecContext, req *Request) (*Response, error) {
			seen = exec.PathParams
			return &Response{Status: http.StatusOK, Header: http.Header{}}, nil
		},
	}
	r, routeStore, _ := newTestRouter(t, handlers, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{Name: "get-user", Pattern: "/users/:id", Methods: []string{"GET"}, HandlerPath: "user.js", Enabled: true})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("GET", "/users/42"))
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "42", seen["id"])
}

func TestRouter_RequiresValidAPIKeyForGroupProtectedRoute(t *testing.T) {
	handlers := map[string]Handler{
		"secure.js": func(ctx context.Context, exec *ExecContext, req *Request) (*Response, error) {
			return &Response{Status: http.StatusOK, Header: http.Header{}}, nil
		},
	}
	keys := &fakeKeys{validSecret: "good-secret", group: "admin"}
	r, routeStore, _ := newTestRouter(t, handlers, keys)
	_, err := routeStore.Add(&routes.Route{
		Name: "secure", Pattern: "/secure", Methods: []string{"GET"},
		HandlerPath: "secure.js", KeyGroups: []string{"admin"}, Enabled: true,
	})
	require.NoError(t, err)

	unauthed := newRequest("GET", "/secure")
	resp := r.HandleRequest(context.Background(), unauthed)
	require.Equal(t, http.StatusUnauthorized, resp.Status)

	authed := newRequest("GET", "/secure")
	authed.Header.Set("X-API-Key", "good-secret")
	resp = r.HandleRequest(context.Background(), authed)
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r, routeStore, _ := newTestRouter(t, nil, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{
		Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, Enabled: true,
		CORS: &routes.CORSConfig{AllowOrigins: []string{"*"}, AllowMethods: []string{"GET"}},
	})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("OPTIONS", "/hello"))
	require.Equal(t, http.StatusNoContent, resp.Status)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_HandlerLoadFailureIs500(t *testing.T) {
	r, routeStore, _ := newTestRouter(t, nil, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{Name: "hello", Pattern: "/hello", Methods: []string{"GET"}, HandlerPath: "missing.js", Enabled: true})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("GET", "/hello"))
	require.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestRouter_HandlerErrorIs500(t *testing.T) {
	handlers := map[string]Handler{
		"boom.js": func(ctx context.Context, exec *ExecContext, req *Request) (*Response, error) {
			return nil, fakeErr("boom")
		},
	}
	r, routeStore, metrics := newTestRouter(t, handlers, &fakeKeys{})
	_, err := routeStore.Add(&routes.Route{Name: "boom", Pattern: "/boom", Methods: []string{"GET"}, HandlerPath: "boom.js", Enabled: true})
	require.NoError(t, err)

	resp := r.HandleRequest(context.Background(), newRequest("GET", "/boom"))
	require.Equal(t, http.StatusInternalServerError, resp.Status)
	require.Len(t, metrics.recorded, 1, "metric recorded even on handler failure")
}
