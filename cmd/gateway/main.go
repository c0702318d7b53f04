package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/handlers"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/routes"
	"github.com/upb/llm-router/services/budget"
	"github.com/upb/llm-router/services/classifier"
	"github.com/upb/llm-router/services/dispatch"
	"github.com/upb/llm-router/services/health"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/anthropic"
	"github.com/upb/llm-router/services/providers/openai"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/services/rules"
	"github.com/upb/llm-router/services/selector"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()

	store, err := sqlite.NewStore(ctx, cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// Services
	budgetSvc := budget.NewService(store, logger)
	healthSvc := health.NewService(store, logger)
	matcher := rules.NewMatcher(store, logger)
	cls := classifier.New(classifier.Options{
		Endpoint:  cfg.Classifier.Endpoint,
		ModelName: cfg.Classifier.Model,
		Timeout:   cfg.Classifier.Timeout,
	}, logger)
	sel := selector.New(store, budgetSvc, logger)
	router := routing.NewRouter(store, matcher, cls, sel, logger)

	registry := providers.NewRegistry(
		openai.NewAdapter(logger),
		anthropic.NewAdapter(cfg.Gateway.AnthropicVersion, logger),
	)
	dispatcher := dispatch.NewDispatcher(store, registry, healthSvc, logger)

	// Background loops
	monitor := health.NewMonitor(store, healthSvc, cfg.Health.Interval, cfg.Health.ProbeTimeout, logger)
	monitor.Start()
	defer monitor.Stop()

	// HTTP surface
	handler := routes.Setup(&routes.Handlers{
		Chat:   handlers.NewChatHandler(router, dispatcher, store, budgetSvc, logger),
		Models: handlers.NewModelsHandler(store, logger),
		Health: handlers.NewHealthHandler(store, budgetSvc, logger),
		Auth:   middleware.NewAuth(cfg.Gateway.APIKey, logger),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}
