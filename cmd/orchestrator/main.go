package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/contentive/orchestrator/internal/budget"
	"github.com/contentive/orchestrator/internal/config"
	"github.com/contentive/orchestrator/internal/engine"
	"github.com/contentive/orchestrator/internal/llm"
	"github.com/contentive/orchestrator/internal/pricing"
	"github.com/contentive/orchestrator/internal/prompt"
	"github.com/contentive/orchestrator/internal/safety"
	"github.com/contentive/orchestrator/internal/server"
	"github.com/contentive/orchestrator/internal/session"
	"github.com/contentive/orchestrator/internal/templates"
	"github.com/contentive/orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Templates: load, validate, and seal the full task type mapping.
	registry := templates.NewRegistry()
	if err := registry.LoadDirectory(cfg.Templates.Dir); err != nil {
		logger.Fatal("load templates", zap.String("dir", cfg.Templates.Dir), zap.Error(err))
	}
	if err := registry.Finalize(); err != nil {
		logger.Fatal("template coverage incomplete", zap.Error(err))
	}
	logger.Info("templates loaded", zap.Int("count", len(registry.List())))

	prices, err := pricing.Load(cfg.Pricing.Path)
	if err != nil {
		logger.Warn("pricing catalogue unavailable, using default pricing",
			zap.String("path", cfg.Pricing.Path),
			zap.Error(err),
		)
		prices = pricing.Default()
	}

	filter, err := safety.NewFilter(cfg.Safety, logger)
	if err != nil {
		logger.Fatal("initialize safety filter", zap.Error(err))
	}

	// Session memory is optional; without Redis every request is stateless.
	var sessions *session.Manager
	if cfg.Session.RedisAddr != "" {
		sessions, err = session.NewManager(cfg.Session.RedisAddr, os.Getenv("REDIS_PASSWORD"), cfg.Session.TTL, logger)
		if err != nil {
			logger.Fatal("connect session store", zap.Error(err))
		}
		defer func() { _ = sessions.Close() }()
	} else {
		logger.Info("session store not configured, running stateless")
	}

	// Usage persistence is optional; without Postgres the ledger is in-memory only.
	var store budget.Store
	if cfg.Database.DSN != "" {
		pg, err := budget.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			logger.Fatal("connect usage store", zap.Error(err))
		}
		defer func() { _ = pg.Close() }()
		store = pg
	} else {
		logger.Warn("usage store not configured, records are not persisted")
	}
	budgetMgr := budget.NewManager(cfg.Budget, store, logger)

	providers := buildProviders(logger)
	client, err := llm.NewClient(cfg.Tiers, providers, cfg.Breaker, logger)
	if err != nil {
		logger.Fatal("configure model client", zap.Error(err))
	}

	var builder *prompt.Builder
	var engineSessions engine.Sessions
	if sessions != nil {
		builder = prompt.NewBuilder(sessions)
		engineSessions = sessions
	} else {
		builder = prompt.NewBuilder(nil)
	}

	eng := engine.New(cfg.Engine, registry, builder, filter, budgetMgr, client, prices, engineSessions, logger)
	srv := server.New(eng, registry, cfg.Server.AuthToken, logger)

	// Metrics on a separate listener.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildProviders(logger *zap.Logger) []llm.Provider {
	var providers []llm.Provider

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := llm.NewOpenAIProvider(key, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			logger.Fatal("configure openai provider", zap.Error(err))
		}
		providers = append(providers, p)
		logger.Info("openai provider registered")
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := llm.NewAnthropicProvider(key, os.Getenv("ANTHROPIC_BASE_URL"))
		if err != nil {
			logger.Fatal("configure anthropic provider", zap.Error(err))
		}
		providers = append(providers, p)
		logger.Info("anthropic provider registered")
	}
	if len(providers) == 0 {
		logger.Fatal("no provider API keys configured; set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return providers
}

func buildLogger(level, format string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return zcfg.Build()
}
