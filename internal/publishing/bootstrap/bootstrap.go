// Package bootstrap builds the publishing engine's infrastructure
// collaborators from config, shared by every cmd/ binary (pubkeeper's
// long-running worker and pubkeeperctl's one-shot control commands) so
// both talk to identical persistence, transport, and notification wiring.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/caldav"
	"github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/notify"
	filestore "github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/persistence/file"
	"github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/persistence/relational"
	"github.com/cynacedia/pubkeeper/internal/publishing/infrastructure/plugin"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/database"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/eventbus"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/security"
	"github.com/cynacedia/pubkeeper/pkg/config"
)

// OpenStores opens the pending-record and automation-state stores per
// cfg.LocalMode: the JSON file store for local/dev use, or a relational
// store (SQLite or PostgreSQL, auto-detected) otherwise.
func OpenStores(ctx context.Context, cfg *config.Config) (domain.PendingStore, domain.AutomationStateStore, func(), error) {
	if cfg.LocalMode {
		pendingPath, err := security.ValidateFilePath(cfg.PendingStorePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid pending store path: %w", err)
		}
		statePath, err := security.ValidateFilePath(cfg.AutomationStateStorePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid automation state path: %w", err)
		}

		pending := filestore.NewPendingStore(pendingPath)
		states := filestore.NewAutomationStateStore(statePath)
		return pending, states, func() {}, nil
	}

	driver := database.DriverPostgres
	if cfg.IsSQLite() {
		driver = database.DriverSQLite
	}
	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     driver,
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := relational.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, nil, err
	}

	pending := relational.NewPendingStore(conn)
	states := relational.NewAutomationStateStore(conn)
	return pending, states, func() { conn.Close() }, nil
}

// OpenPublisher configures the domain.Publisher transport: an
// out-of-process plugin binary when PublisherPluginPath is set, else a
// direct CalDAV client.
func OpenPublisher(cfg *config.Config, logger *slog.Logger) (domain.Publisher, func(), error) {
	if cfg.PublisherPluginPath != "" {
		pluginPath, err := security.ValidateFilePath(cfg.PublisherPluginPath)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid publisher plugin path: %w", err)
		}
		client, publisher, err := plugin.Launch(pluginPath, hclog.Default())
		if err != nil {
			return nil, nil, err
		}
		return publisher, client.Kill, nil
	}

	resolver := StaticCalendarResolver{}
	if cfg.UsesOAuth2() {
		ccConfig := clientcredentials.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			TokenURL:     cfg.OAuthTokenURL,
			Scopes:       strings.Fields(cfg.OAuthScopes),
		}
		var tokenSource oauth2.TokenSource = ccConfig.TokenSource(context.Background())
		return caldav.NewOAuth2Publisher(cfg.CalDAVBaseURL, tokenSource, resolver, logger), nil, nil
	}
	return caldav.NewBasicAuthPublisher(cfg.CalDAVBaseURL, cfg.CalDAVUsername, cfg.CalDAVPassword, resolver, logger), nil, nil
}

// OpenNotifier builds the domain.Notifier the engine fans OnMissed/
// OnPublished out to: always the logging notifier, plus a RabbitMQ
// event-bus notifier when cfg.NotificationsEnabled so other bounded
// contexts can subscribe to publishing.slot.missed/published.
func OpenNotifier(cfg *config.Config, logger *slog.Logger) (domain.Notifier, func(), error) {
	logging := LoggingNotifier{Logger: logger}
	if !cfg.NotificationsEnabled {
		return logging, func() {}, nil
	}

	bus, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return MultiNotifier{logging, notify.NewEventBusNotifier(bus, logger)}, func() { _ = bus.Close() }, nil
}

// MultiNotifier fans OnMissed/OnPublished out to every notifier in order.
type MultiNotifier []domain.Notifier

func (m MultiNotifier) OnMissed(ctx context.Context, rec domain.PendingRecord) {
	for _, n := range m {
		n.OnMissed(ctx, rec)
	}
}

func (m MultiNotifier) OnPublished(ctx context.Context, rec domain.PendingRecord, eventID string) {
	for _, n := range m {
		n.OnPublished(ctx, rec, eventID)
	}
}

// StaticCalendarResolver maps every target to its own top-level calendar
// collection, named after the target id. Resolving targetId to a calendar
// is treated as an external concern; this is the simplest resolver
// satisfying a single CalDAV account.
type StaticCalendarResolver struct{}

func (StaticCalendarResolver) CalendarPath(ctx context.Context, targetID string) (string, error) {
	return "/calendars/" + targetID + "/", nil
}

// LoggingNotifier implements domain.Notifier by logging; a real deployment
// would fan these out to email/webhook/alerting instead.
type LoggingNotifier struct {
	Logger *slog.Logger
}

func (n LoggingNotifier) OnMissed(ctx context.Context, rec domain.PendingRecord) {
	n.Logger.Warn("slot missed", "slot_key", rec.SlotKey, "target_id", rec.TargetID, "event_starts_at", rec.EventStartsAt)
}

func (n LoggingNotifier) OnPublished(ctx context.Context, rec domain.PendingRecord, eventID string) {
	n.Logger.Info("slot published", "slot_key", rec.SlotKey, "target_id", rec.TargetID, "event_id", eventID)
}
