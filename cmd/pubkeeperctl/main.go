// Command pubkeeperctl is the operator control surface for the publishing
// engine: it opens the same persistence, transport, and notification
// wiring the running pubkeeper process uses, initializes an Engine
// against it, and dispatches a single control API call per invocation.
package main

import (
	"context"
	"fmt"
	"os"

	adaptercli "github.com/cynacedia/pubkeeper/adapter/cli"
	clipublishing "github.com/cynacedia/pubkeeper/adapter/cli/publishing"
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
	adaptercli.SetLogger(logger)
	adaptercli.AddCommand(clipublishing.Cmd)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pendingStore, stateStore, closeStores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open persistence:", err)
		os.Exit(1)
	}
	defer closeStores()

	publisher, closePublisher, err := bootstrap.OpenPublisher(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure publisher:", err)
		os.Exit(1)
	}
	if closePublisher != nil {
		defer closePublisher()
	}

	notifier, closeNotifier, err := bootstrap.OpenNotifier(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure notifier:", err)
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
		BreakerSettings: services.BreakerSettings{
			MaxRequests:      breakerDefaults.MaxRequests,
			Interval:         breakerDefaults.Interval,
			Timeout:          cfg.BreakerOpenDuration,
			FailureThreshold: cfg.BreakerMaxFailures,
		},
	})

	if err := engine.Init(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize engine:", err)
		os.Exit(1)
	}

	clipublishing.SetEngine(engine)
	adaptercli.Execute()
}
