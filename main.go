package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shre-db/linked-squad/go/assistant/internal/agents"
	"github.com/shre-db/linked-squad/go/assistant/internal/circuitbreaker"
	"github.com/shre-db/linked-squad/go/assistant/internal/config"
	"github.com/shre-db/linked-squad/go/assistant/internal/db"
	"github.com/shre-db/linked-squad/go/assistant/internal/health"
	"github.com/shre-db/linked-squad/go/assistant/internal/httpapi"
	"github.com/shre-db/linked-squad/go/assistant/internal/llm"
	"github.com/shre-db/linked-squad/go/assistant/internal/orchestrator"
	"github.com/shre-db/linked-squad/go/assistant/internal/profiles"
	"github.com/shre-db/linked-squad/go/assistant/internal/session"
	"github.com/shre-db/linked-squad/go/assistant/internal/tracing"
)

func main() {
	// Create a root context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting LinkedIn assistant",
		zap.String("environment", cfg.Environment),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	// Start circuit breaker metrics collection
	circuitbreaker.StartMetricsCollection(ctx)

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	// ------------------------------------------------------------------
	// Bring up the health manager and admin endpoints early so probes
	// respond while the rest of the service is starting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:         ":" + strconv.Itoa(getEnvOrDefaultInt("HEALTH_PORT", cfg.Server.AdminPort)),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Text generation
	generator, err := llm.New(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to configure generator", zap.Error(err))
	}
	if avail, ok := generator.(interface{ Available() bool }); ok {
		_ = hm.RegisterChecker(health.NewGeneratorHealthChecker(avail))
	}

	// Profiles
	profileDir := cfg.Profiles.Dir
	if profileDir != "" {
		if _, err := os.Stat(profileDir); err != nil {
			logger.Warn("Profile directory unavailable, serving built-in profiles only",
				zap.String("dir", profileDir), zap.Error(err))
			profileDir = ""
		}
	}
	catalog, err := profiles.NewCatalog(profileDir, logger)
	if err != nil {
		logger.Fatal("Failed to load profile catalog", zap.Error(err))
	}
	defer catalog.Close()
	if cfg.Profiles.Watch && profileDir != "" {
		if err := catalog.Watch(ctx); err != nil {
			logger.Warn("Profile hot reload disabled", zap.Error(err))
		}
	}
	_ = hm.RegisterChecker(health.NewCatalogHealthChecker(catalog))

	// Session store
	store, err := session.New(cfg.Session, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}
	defer store.Close()
	switch s := store.(type) {
	case *session.RedisStore:
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(s.RedisWrapper()))
	case *session.SQLiteStore:
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker("sqlite", s.Wrapper(), true))
	}

	// Orchestrator
	agentSet := agents.NewSet(generator, cfg.Agents, logger)
	router := agents.NewRouter(generator, cfg.Agents, logger)
	orch := orchestrator.New(store, agentSet, router, catalog, logger)

	// Turn audit log
	var turnLog httpapi.TurnLog
	if cfg.Database.Enabled {
		dbClient, err := db.NewClient(&cfg.Database, logger)
		if err != nil {
			logger.Warn("Turn log disabled: database unavailable", zap.Error(err))
		} else {
			defer dbClient.Close()
			migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := dbClient.Migrate(migrateCtx); err != nil {
				logger.Warn("Failed to apply turn log schema", zap.Error(err))
			}
			migrateCancel()
			orch.AddTurnSink(dbClient)
			turnLog = dbClient
			_ = hm.RegisterChecker(health.NewDatabaseHealthChecker("turn_log", dbClient.Wrapper(), false))
		}
	}

	_ = hm.RegisterChecker(health.NewCustomHealthChecker("circuit_breakers", false, time.Second, breakerHealth))
	_ = hm.Start(ctx)

	// Chat API
	apiMux := http.NewServeMux()
	httpapi.NewHandler(orch, catalog, turnLog, cfg.Server.AllowedOrigins, logger).RegisterRoutes(apiMux)
	var apiHandler http.Handler = apiMux
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		defer rdb.Close()
		apiHandler = httpapi.NewRateLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger).Middleware(apiHandler)
	}
	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      httpapi.Instrument(apiHandler, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("Chat API listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Chat API server failed", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down LinkedIn assistant")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down chat API", zap.Error(err))
	}
	_ = hm.Stop()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down admin server", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", zap.Error(err))
	}
	cancel()
}

// breakerHealth degrades while any dependency breaker is open.
func breakerHealth(context.Context) health.CheckResult {
	details := map[string]interface{}{}
	var open []string
	for _, st := range circuitbreaker.DefaultRegistry.Statuses() {
		key := st.Service + "/" + st.Name
		details[key] = st.State.String()
		if st.State == circuitbreaker.StateOpen {
			open = append(open, key)
		}
	}
	if len(open) > 0 {
		return health.CheckResult{
			Status:  health.StatusDegraded,
			Message: "Open circuit breakers: " + strings.Join(open, ", "),
			Details: details,
		}
	}
	return health.CheckResult{Status: health.StatusHealthy, Message: "All circuit breakers closed", Details: details}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
