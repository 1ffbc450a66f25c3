package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fnrelay.dev/common"
	"fnrelay.dev/ferr"
	"fnrelay.dev/routes"
)

// entry is one row of the dispatch tree built from routes.Route at
// rebuild time: the route plus a compiled matcher for its pattern.
type entry struct {
	route      *routes.Route
	matcher    *regexp.Regexp
	paramNames []string
}

// Router holds the in-memory dispatch tree and the collaborators needed
// to run the §4.5 per-request pipeline.
type Router struct {
	routes  *routes.Store
	loader  HandlerLoader
	keys    KeyAuthenticator
	secrets SecretsProvider
	loggers LoggerFactory
	isolate Isolator
	metrics MetricsRecorder

	treeMu  sync.RWMutex
	entries []entry
}

// New constructs a Router. loader, keys, secrets, loggers, isolate, and
// metrics are collaborators owned by other components (C5/C6/C9/C10/C14)
// and an external handler-loading collaborator; all are required.
func New(routeStore *routes.Store, loader HandlerLoader, keys KeyAuthenticator, secrets SecretsProvider, loggers LoggerFactory, isolate Isolator, metrics MetricsRecorder) *Router {
	return &Router{
		routes:  routeStore,
		loader:  loader,
		keys:    keys,
		secrets: secrets,
		loggers: loggers,
		isolate: isolate,
		metrics: metrics,
	}
}

// rebuild replaces the dispatch tree atomically, skipping disabled routes,
// per §4.4/§4.5: a request observes either the pre- or post-rebuild tree,
// never a partial one.
func (r *Router) rebuild(all []*routes.Route) error {
	built := make([]entry, 0, len(all))
	for _, route := range all {
		if !route.Enabled {
			continue
		}
		matcher, names, err := compileDispatchPattern(route.Pattern)
		if err != nil {
			return fmt.Errorf("route %s: invalid pattern %q: %w", route.Name, route.Pattern, err)
		}
		built = append(built, entry{route: route, matcher: matcher, paramNames: names})
	}

	r.treeMu.Lock()
	r.entries = built
	r.treeMu.Unlock()
	return nil
}

// lookup finds the entry matching method+path, and separately reports
// whether any entry matches the path under a different method (needed to
// emit CORS preflight responses for OPTIONS even though no route is
// itself registered for OPTIONS).
func (r *Router) lookup(method, path string) (*entry, []string, bool) {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()

	var anyMatch bool
	for i := range r.entries {
		e := &r.entries[i]
		m := e.matcher.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		anyMatch = true
		if hasMethod(e.route.Methods, method) {
			return e, m[1:], true
		}
	}
	return nil, nil, anyMatch
}

func hasMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// corsForPath returns the CORS config of any entry matching path,
// regardless of method, for OPTIONS preflight handling.
func (r *Router) corsForPath(path string) *routes.CORSConfig {
	r.treeMu.RLock()
	defer r.treeMu.RUnlock()

	for i := range r.entries {
		e := &r.entries[i]
		if e.matcher.MatchString(path) && e.route.CORS != nil {
			return e.route.CORS
		}
	}
	return nil
}

// HandleRequest runs the full §4.5 per-request pipeline and returns the
// response to send. It never returns an error to the caller: every
// failure mode is represented as a Response.
func (r *Router) HandleRequest(ctx context.Context, req *Request) *Response {
	requestID := uuid.New().String()

	if err := r.routes.RebuildIfNeeded(r.rebuild); err != nil {
		common.Logger.WithField("request_id", requestID).WithError(err).Error("route rebuild failed")
		return errorResponse(http.StatusInternalServerError, "Internal error")
	}

	if req.Method == http.MethodOptions {
		if cors := r.corsForPath(req.Path); cors != nil {
			return preflightResponse(cors)
		}
	}

	match, params, found := r.lookup(req.Method, req.Path)
	if !found || match == nil {
		return errorResponse(http.StatusNotFound, "Function not found")
	}

	route := match.route

	if len(route.KeyGroups) > 0 {
		if err := r.authenticateGroup(req, route.KeyGroups); err != nil {
			return errorResponse(http.StatusUnauthorized, "Unauthorized")
		}
	}

	handler, err := r.loader.Load(route.HandlerPath)
	if err != nil {
		common.Logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"route_id":   route.ID,
		}).WithError(err).Error("handler load failed")
		return errorResponse(http.StatusInternalServerError, fmt.Sprintf("%v: %s", ferr.ErrHandlerLoadFailure, route.HandlerPath))
	}

	pathParams := make(map[string]string, len(match.paramNames))
	for i, name := range match.paramNames {
		if i < len(params) {
			pathParams[name] = params[i]
		}
	}

	exec := &ExecContext{
		RequestID:  requestID,
		RouteID:    route.ID,
		PathParams: pathParams,
		Logger:     r.loggers.ForRequest(requestID, route.ID),
		Secrets:    r.secrets.ForRoute(route.ID),
		Env:        r.isolate.NewScope(requestID),
	}

	start := time.Now()
	resp, execErr := r.isolate.Run(ctx, requestID, func() (*Response, error) {
		return handler(ctx, exec, req)
	})
	elapsed := time.Since(start)

	if err := r.metrics.RecordExecution(route.ID, elapsed.Microseconds()); err != nil {
		exec.Logger.Warn("failed to record execution metric", map[string]interface{}{"error": err.Error()})
	}

	if execErr != nil {
		exec.Logger.Error("exec_reject", map[string]interface{}{"error": execErr.Error()})
		return errorResponse(http.StatusInternalServerError, "Internal error")
	}
	exec.Logger.Info("exec_end", map[string]interface{}{"elapsed_us": elapsed.Microseconds()})

	if route.CORS != nil {
		applyCORSHeaders(resp, route.CORS)
	}
	return resp
}

func (r *Router) authenticateGroup(req *Request, allowedGroups []string) error {
	secret := req.Header.Get("X-API-Key")
	if secret == "" {
		secret = req.Header.Get("x-api-key")
	}
	if secret == "" {
		return ferr.ErrAuthFailure
	}
	group, err := r.keys.AuthenticateGroup(secret)
	if err != nil {
		return ferr.ErrAuthFailure
	}
	for _, allowed := range allowedGroups {
		if allowed == group {
			return nil
		}
	}
	return ferr.ErrAuthFailure
}

func errorResponse(status int, message string) *Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: header, Body: body}
}

func preflightResponse(cors *routes.CORSConfig) *Response {
	header := http.Header{}
	applyCORSHeaders(&Response{Header: header}, cors)
	return &Response{Status: http.StatusNoContent, Header: header}
}

func applyCORSHeaders(resp *Response, cors *routes.CORSConfig) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if len(cors.AllowOrigins) > 0 {
		resp.Header.Set("Access-Control-Allow-Origin", strings.Join(cors.AllowOrigins, ", "))
	}
	if len(cors.AllowMethods) > 0 {
		resp.Header.Set("Access-Control-Allow-Methods", strings.Join(cors.AllowMethods, ", "))
	}
	if len(cors.AllowHeaders) > 0 {
		resp.Header.Set("Access-Control-Allow-Headers", strings.Join(cors.AllowHeaders, ", "))
	}
}

var paramSegment = regexp.MustCompile(`^:[^{}/]+(\{(.*)\})?$`)

// compileDispatchPattern turns a route pattern into a matching regexp and
// the ordered list of parameter names it captures.
func compileDispatchPattern(pattern string) (*regexp.Regexp, []string, error) {
	segments := strings.Split(pattern, "/")
	var names []string
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if m := paramSegment.FindStringSubmatch(seg); m != nil {
			name := strings.TrimPrefix(strings.SplitN(seg, "{", 2)[0], ":")
			names = append(names, name)
			if m[2] != "" {
				parts[i] = "(" + m[2] + ")"
			} else {
				parts[i] = "([^/]+)"
			}
		} else {
			parts[i] = regexp.QuoteMeta(seg)
		}
	}
	full := "^" + strings.Join(parts, "/") + "$"
	re, err := regexp.Compile(full)
	return re, names, err
}
