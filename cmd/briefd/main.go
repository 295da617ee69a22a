package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veridoc/briefd/dbopen"
	"github.com/veridoc/briefd/idgen"
	"github.com/veridoc/briefd/intake"
	"github.com/veridoc/briefd/kit"
	"github.com/veridoc/briefd/observability"
	"github.com/veridoc/briefd/shield"
)

const defaultConfigPath = "briefd.yaml"

func main() {
	args := os.Args[1:]
	mcpMode := len(args) > 0 && args[0] == "mcp"
	if mcpMode {
		args = args[1:]
	}
	cfgPath := defaultConfigPath
	if len(args) > 0 {
		cfgPath = args[0]
	}

	// Logging.
	var lvl slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// MCP over stdio owns stdout; logs go to stderr either way.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if mcpMode {
		if err := runMCP(ctx, cfg); err != nil {
			slog.Error("mcp server", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		slog.Error("create spool dir", "error", err)
		os.Exit(1)
	}

	// Observability DB — separate from the app DB to avoid write contention.
	obsDB, err := dbopen.Open(cfg.ObsDBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability schema", "error", err)
		os.Exit(1)
	}

	auditLogger := observability.NewAuditLogger(obsDB, 1000,
		observability.WithAuditIDGenerator(idgen.Prefixed("aud_", idgen.Default)),
	)
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	events := observability.NewEventLogger(obsDB,
		observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)),
	)

	// Heartbeat: liveness + runtime snapshot every 15s.
	heartbeat := observability.NewHeartbeatWriter(obsDB, "briefd", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Service.
	svc, err := intake.NewService(cfg,
		intake.WithAudit(auditLogger),
		intake.WithMetrics(metrics),
		intake.WithEvents(events),
		intake.WithServiceLogger(logger),
	)
	if err != nil {
		slog.Error("init service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Crash recovery: re-queue documents stuck in intermediate states.
	svc.RecoverStaleDocuments()

	// Webhook retry loop.
	svc.Router.StartRetryLoop(ctx, 30*time.Second)

	// Rate limit rules live in the app DB.
	if err := shield.Init(svc.Store.DB()); err != nil {
		slog.Error("shield schema", "error", err)
		os.Exit(1)
	}

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	rl := shield.NewRateLimiter(svc.Store.DB(), "/v1/health")
	rl.StartReloader(ctx.Done())
	for _, mw := range shield.DefaultAPIStack(rl) {
		r.Use(mw)
	}
	r.Use(shield.MaxJSONBody(1 << 20))
	r.Use(kitContext)
	r.Use(requestLog(obsDB))

	a := &api{svc: svc, cfg: cfg, obsDB: obsDB}
	a.routes(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // summarization is synchronous
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("briefd listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// loadConfig reads the config file, or falls back to defaults when the
// default path does not exist.
func loadConfig(path string) (*intake.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		slog.Info("no config file, using defaults")
		return intake.DefaultConfig(), nil
	}
	return intake.LoadConfig(path)
}

// kitContext propagates the chi request ID into the kit context so audit
// entries correlate with HTTP requests.
func kitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ctx = kit.WithTransport(ctx, "http")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
