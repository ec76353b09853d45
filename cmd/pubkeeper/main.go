package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/application"
	"github.com/cynacedia/pubkeeper/internal/publishing/application/services"
	"github.com/cynacedia/pubkeeper/internal/publishing/bootstrap"
	"github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/profileregistry"
	rruleexpander "github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/rrule"
	_ "github.com/cynacedia/pubkeeper/internal/shared/infrastructure/database/postgres"
	_ "github.com/cynacedia/pubkeeper/internal/shared/infrastructure/database/sqlite"
	"github.com/cynacedia/pubkeeper/pkg/config"
	"github.com/cynacedia/pubkeeper/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	logger.Info("starting pubkeeper engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pendingStore, stateStore, closeStores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open persistence", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	publisher, closePublisher, err := bootstrap.OpenPublisher(cfg, logger)
	if err != nil {
		logger.Error("failed to configure publisher", "error", err)
		os.Exit(1)
	}
	if closePublisher != nil {
		defer closePublisher()
	}

	notifier, closeNotifier, err := bootstrap.OpenNotifier(cfg, logger)
	if err != nil {
		logger.Error("failed to configure notifier", "error", err)
		os.Exit(1)
	}
	if closeNotifier != nil {
		defer closeNotifier()
	}

	breakerDefaults := services.DefaultBreakerSettings()
	engine := application.NewEngine(application.Config{
		Store:                  pendingStore,
		States:                 stateStore,
		Expander:               rruleexpander.NewExpander(),
		Publisher:              publisher,
		Notifier:               notifier,
		Profiles:               profileregistry.NewRegistry(),
		Logger:                 logger,
		ExpansionHorizonMonths: cfg.ExpansionHorizonMonths,
		Metrics:                observability.NewInMemoryMetrics(),
		BreakerSettings: services.BreakerSettings{
			MaxRequests:      breakerDefaults.MaxRequests,
			Interval:         breakerDefaults.Interval,
			Timeout:          cfg.BreakerOpenDuration,
			FailureThreshold: cfg.BreakerMaxFailures,
		},
	})

	if err := engine.Init(ctx); err != nil {
		logger.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	logger.Info("engine initialized", "active_timers", engine.Stats().ActiveTimers)

	if cfg.WorkerHealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			stats := engine.Stats()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":        "ok",
				"active_timers": stats.ActiveTimers,
				"queue_depth":   stats.QueueDepth,
			})
		})

		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down pubkeeper engine")
}
