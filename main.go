// Command fnrelay runs the function-routing platform: it opens the bbolt
// store, loads or initializes the encryption key file, builds every
// component described in DESIGN.md, and serves the HTTP surface described
// in SPEC_FULL.md §6 on top of the teacher's Echo server scaffolding.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"fnrelay.dev/apikeys"
	"fnrelay.dev/auth"
	"fnrelay.dev/authgate"
	"fnrelay.dev/common"
	"fnrelay.dev/config"
	"fnrelay.dev/handlers"
	fnhttp "fnrelay.dev/http"
	"fnrelay.dev/isolator"
	"fnrelay.dev/logs"
	"fnrelay.dev/management"
	"fnrelay.dev/metrics"
	"fnrelay.dev/rotation"
	"fnrelay.dev/router"
	"fnrelay.dev/routes"
	"fnrelay.dev/scheduler"
	"fnrelay.dev/secrets"
	"fnrelay.dev/security"
	"fnrelay.dev/settings"
	"fnrelay.dev/store"
)

func main() {
	if err := run(); err != nil {
		common.Logger.WithError(err).Error("fatal startup or shutdown error")
		os.Exit(1)
	}
	os.Exit(0)
}

func run() error {
	dataDir := common.GetEnv("FNRELAY_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	kf, err := security.LoadOrInitialize(filepath.Join(dataDir, "keyfile.json"))
	if err != nil {
		return fmt.Errorf("load key file: %w", err)
	}
	engine, err := kf.Engine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	hasher, err := kf.Hasher()
	if err != nil {
		return fmt.Errorf("build hasher: %w", err)
	}

	db, err := store.Open(filepath.Join(dataDir, "fnrelay.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	settingsStore, err := settings.New(db, engine)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	stopLevelRefresh := common.RefreshLevel(common.Logger, settingsStore, "LOG_LEVEL", 30*time.Second)
	defer stopLevelRefresh()

	apikeyStore, err := apikeys.New(db, engine, hasher)
	if err != nil {
		return fmt.Errorf("open api keys: %w", err)
	}
	secretsStore, err := secrets.New(db, engine)
	if err != nil {
		return fmt.Errorf("open secrets: %w", err)
	}
	routeStore, err := routes.New(db)
	if err != nil {
		return fmt.Errorf("open routes: %w", err)
	}

	logSink, err := logs.NewSink(db, 100, 2*time.Second)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	defer logSink.FlushAndClose()
	logFactory := logs.NewFactory(logSink)
	logTrimmer := logs.NewTrimmer(db)
	common.Logger.SetOutput(logs.NewInterceptor(common.Logger.Out))

	metricsStore, err := metrics.New(db)
	if err != nil {
		return fmt.Errorf("open metrics: %w", err)
	}
	aggregator := metrics.NewAggregator(metricsStore, 1000)

	userStore, err := auth.NewBoltStore(db)
	if err != nil {
		return fmt.Errorf("open auth store: %w", err)
	}
	authConfig := auth.DefaultConfig()
	authConfig.JWTSecret = kf.SessionSecret
	authService := auth.NewAuthService(authConfig, userStore)

	accessGroups := func() ([]string, error) {
		raw, err := settingsStore.Get("API_ACCESS_GROUPS")
		if err != nil {
			return nil, err
		}
		return splitNonEmpty(raw, ","), nil
	}
	gate, err := authgate.New(authService, apikeyStore, accessGroups)
	if err != nil {
		return fmt.Errorf("build auth gate: %w", err)
	}

	rotationEvery, err := parseSettingDuration(settingsStore, "ROTATION_INTERVAL_DAYS", 24*time.Hour)
	if err != nil {
		return err
	}
	rotationBatchSize := parseSettingInt(settingsStore, "ROTATION_BATCH_SIZE", 100)
	rotationBatchSleep := parseSettingDurationMS(settingsStore, "ROTATION_BATCH_SLEEP_MS", 50*time.Millisecond)
	rotationWorker := rotation.NewWorker(
		filepath.Join(dataDir, "keyfile.json"),
		engine,
		[]rotation.Table{settingsStore, apikeyStore, secretsStore},
		rotationBatchSize,
		rotationBatchSleep,
		rotationEvery,
	)

	registry := handlers.NewRegistry()
	handlers.RegisterBuiltins(registry)

	exec := isolator.New()

	fnRouter := router.New(
		routeStore,
		registry,
		apikeyStore,
		secretsProvider{secretsStore},
		logFactory,
		exec,
		metricsStore,
	)

	schedulers := startSchedulers(settingsStore, logTrimmer, aggregator, rotationWorker)
	defer stopSchedulers(schedulers)

	mgmt := &management.Server{
		Routes:   routeStore,
		Keys:     apikeyStore,
		Metrics:  metricsStore,
		Rotation: rotationWorker,
		Handlers: registry,
		Gate:     gate,
	}

	serverConfig := fnhttp.DefaultServerConfig()
	serverConfig.Port = config.GetPortInt("FNRELAY_PORT", 8000)
	serverConfig.RateLimit = parseSettingFloat(settingsStore, "API_RATE_LIMIT_RPS", 0)
	e := fnhttp.NewEchoServer(serverConfig)
	e.HTTPErrorHandler = fnhttp.CustomHTTPErrorHandler
	e.Use(fnhttp.SecurityHeadersMiddleware())
	e.Use(fnhttp.JSONContentTypeMiddleware())

	e.GET("/health", fnhttp.HealthCheckHandler("fnrelay", "1.0"))
	e.GET("/ping", pingHandler)
	e.Any("/run/*", runHandler(fnRouter))
	e.POST("/signup", signupHandler(gate))
	mgmt.Register(e.Group("/mgmt"))

	return serveUntilSignal(e, serverConfig)
}

// secretsProvider adapts *secrets.Store's concrete *secrets.Accessor
// return into router.SecretsProvider, whose ForRoute must return the
// router.SecretsAccessor interface: Go does not let a method satisfy an
// interface by structural return-type compatibility alone.
type secretsProvider struct {
	store *secrets.Store
}

func (p secretsProvider) ForRoute(routeID string) router.SecretsAccessor {
	return p.store.ForRoute(routeID)
}

func pingHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"pong": true})
}

// signupHandler exposes §4.9's first-run bootstrap path: it only ever
// admits one call per process, enforced by *authgate.Gate itself.
func signupHandler(gate *authgate.Gate) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		v := config.NewValidator()
		v.RequireString("username", body.Username)
		v.RequireString("password", body.Password)
		if err := v.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		user, token, err := gate.Signup(body.Username, body.Password)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return c.JSON(http.StatusCreated, map[string]string{
			"user_id": user.ID,
			"token":   token,
		})
	}
}

func runHandler(r *router.Router) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := readBody(c.Request())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "could not read request body")
		}
		req := &router.Request{
			Method: c.Request().Method,
			Path:   c.Request().URL.Path,
			Header: c.Request().Header,
			Query:  c.QueryParams(),
			Body:   body,
		}
		resp := r.HandleRequest(c.Request().Context(), req)
		return writeResponse(c, resp)
	}
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	return io.ReadAll(req.Body)
}

func writeResponse(c echo.Context, resp *router.Response) error {
	for key, values := range resp.Header {
		for _, v := range values {
			c.Response().Header().Add(key, v)
		}
	}
	return c.Blob(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
}

func startSchedulers(s *settings.Store, trimmer *logs.Trimmer, aggregator *metrics.Aggregator, rotationWorker *rotation.Worker) []*scheduler.Worker {
	trimPeriod, _ := parseSettingDuration(s, "LOG_TRIM_INTERVAL", 10*time.Minute)
	aggPeriod, _ := parseSettingDuration(s, "AGGREGATION_INTERVAL", time.Minute)
	rotationCheckPeriod, _ := parseSettingDuration(s, "ROTATION_CHECK_INTERVAL", 5*time.Minute)
	maxLogsPerFunction := parseSettingInt(s, "MAX_LOGS_PER_FUNCTION", 2000)
	retentionDays := parseSettingInt(s, "RETENTION_DAYS", 30)

	trimWorker := scheduler.NewWorker("log-trim", func(stop <-chan struct{}) error {
		return trimmer.Trim(maxLogsPerFunction, stop)
	}, trimPeriod)

	aggWorker := scheduler.NewWorker("metrics-aggregate", func(stop <-chan struct{}) error {
		return aggregator.Tick(retentionDays, stop)
	}, aggPeriod)

	rotationTickWorker := scheduler.NewWorker("key-rotation", rotationWorker.Tick, rotationCheckPeriod)

	workers := []*scheduler.Worker{trimWorker, aggWorker, rotationTickWorker}
	for _, w := range workers {
		w.Start()
	}
	return workers
}

func stopSchedulers(workers []*scheduler.Worker) {
	for _, w := range workers {
		w.Stop()
	}
}

func serveUntilSignal(e *echo.Echo, cfg fnhttp.ServerConfig) error {
	errCh := make(chan error, 1)
	go func() {
		if err := fnhttp.StartServer(e, cfg); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		return fnhttp.GracefulShutdown(e, cfg.ShutdownTimeout)
	}
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseSettingFloat(s *settings.Store, name string, def float64) float64 {
	raw, err := s.Get(name)
	if err != nil {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func parseSettingInt(s *settings.Store, name string, def int) int {
	raw, err := s.Get(name)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func parseSettingDuration(s *settings.Store, name string, def time.Duration) (time.Duration, error) {
	raw, err := s.Get(name)
	if err != nil {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err == nil {
		return d, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return def, nil
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

func parseSettingDurationMS(s *settings.Store, name string, def time.Duration) time.Duration {
	raw, err := s.Get(name)
	if err != nil {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
