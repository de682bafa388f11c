package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/missionkpi/missionkpi/pkg/synccfg"
	"github.com/missionkpi/missionkpi/server/internal/alerts"
	"github.com/missionkpi/missionkpi/server/internal/api"
	"github.com/missionkpi/missionkpi/server/internal/auth"
	"github.com/missionkpi/missionkpi/server/internal/config"
	"github.com/missionkpi/missionkpi/server/internal/ingest"
	"github.com/missionkpi/missionkpi/server/internal/metrics"
	"github.com/missionkpi/missionkpi/server/internal/state"
	"github.com/missionkpi/missionkpi/server/internal/store"
	"github.com/missionkpi/missionkpi/server/internal/syncer"
	"github.com/missionkpi/missionkpi/server/internal/ws"
)

// shutdownTimeout bounds how long in-flight requests get on SIGTERM.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "load environment variables from this file if it exists")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load env file", "path", *envFile, "err", err)
	}

	slog.Info("missionkpi-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server
	level.Set(sc.Level())

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"snapshot_ttl", sc.Snapshot.TTL,
		"history", sc.Snapshot.History,
		"ingest_mode", sc.Ingest.Mode,
		"sync", sc.Sync.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	holder, err := state.Open(sc.State.Path, synccfg.State{
		IntervalMinutes: sc.State.Defaults.IntervalMinutes,
		Thresholds:      sc.State.Defaults.Thresholds,
	})
	if err != nil {
		slog.Error("failed to open state", "path", sc.State.Path, "err", err)
		os.Exit(1)
	}

	m := metrics.New()

	// Snapshot history with background TTL eviction.
	st := store.New(sc.Snapshot.TTL, sc.Snapshot.History)
	alertEngine := alerts.New(holder, sc.Alerts, m)
	st.OnEvict(func(dataset string) {
		m.DatasetEvicted(dataset)
		alertEngine.Forget(dataset)
		slog.Info("dataset expired", "dataset", dataset)
	})
	go st.Run(ctx)

	pipe := ingest.New(sc.Ingest.Mode, st, alertEngine, m)

	hub := ws.New(st, alertEngine, sc.StreamInterval)
	pipe.OnIngest(func(*ingest.Result) { hub.Notify() })
	go hub.Run(ctx)

	if sc.Sync.Enabled {
		sy := syncer.New(holder, pipe, sc.Sync, sc.Ingest.MaxBodyBytes)
		go sy.Run(ctx)
	}

	requireKey := auth.APIKey(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key())
	apiHandler := api.New(api.Options{
		Store:        st,
		State:        holder,
		Alerts:       alertEngine,
		Pipeline:     pipe,
		Forecast:     sc.Forecast,
		MaxBodyBytes: sc.Ingest.MaxBodyBytes,
		Auth:         requireKey,
	})

	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.Handle("/ws/stream", requireKey(hub))
	router.PathPrefix("/api/").Handler(apiHandler)

	// Hot-reload: log level, forecast model, alert delivery and parser mode.
	// Port, auth and state path need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			us := updated.Server
			level.Set(us.Level())
			apiHandler.SetForecast(us.Forecast)
			alertEngine.SetConfig(us.Alerts)
			pipe.SetMode(us.Ingest.Mode)
			slog.Info("config hot-reloaded",
				"log_level", us.LogLevel,
				"ingest_mode", us.Ingest.Mode,
				"forecast_metric", us.Forecast.Metric,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           withMiddleware(router, sc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("missionkpi-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// withMiddleware wraps h with panic recovery, CORS and request logging.
func withMiddleware(h http.Handler, sc config.ServerConfig) http.Handler {
	origins := sc.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", sc.Auth.EffectiveHeader()}),
	)(h)
	return handlers.CustomLoggingHandler(io.Discard, h, logRequest)
}

// logRequest writes one structured line per request instead of the Apache
// format LoggingHandler defaults to.
func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	slog.Info("http request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"took", time.Since(p.TimeStamp),
		"remote", p.Request.RemoteAddr,
	)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("http handler panic", "err", fmt.Sprint(v...))
}
