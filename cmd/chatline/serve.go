package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/chatlinehq/chatline/internal/agent"
	"github.com/chatlinehq/chatline/internal/automation"
	"github.com/chatlinehq/chatline/internal/channel"
	"github.com/chatlinehq/chatline/internal/channel/adapters/telegram"
	"github.com/chatlinehq/chatline/internal/channel/adapters/whatsapp"
	"github.com/chatlinehq/chatline/internal/channel/adapters/widget"
	"github.com/chatlinehq/chatline/internal/config"
	"github.com/chatlinehq/chatline/internal/contact"
	"github.com/chatlinehq/chatline/internal/conversation"
	"github.com/chatlinehq/chatline/internal/db"
	"github.com/chatlinehq/chatline/internal/event"
	"github.com/chatlinehq/chatline/internal/handlers"
	"github.com/chatlinehq/chatline/internal/inbound"
	"github.com/chatlinehq/chatline/internal/logger"
	"github.com/chatlinehq/chatline/internal/message"
	"github.com/chatlinehq/chatline/internal/realtime"
	"github.com/chatlinehq/chatline/internal/server"
	"github.com/chatlinehq/chatline/internal/tenant"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideBus,
			provideTenantStore,
			provideAgentService,
			provideContactService,
			provideConversationService,
			provideMessageService,
			provideAutomationStore,
			provideAutomationService,
			provideAutomationEngine,
			providePresence,
			provideHub,
			provideChannelRegistry,
			provideInboundProcessor,
			provideChannelManager,
			provideOutboundDispatcher,
			provideGeolocator,
			providePingHandler,
			provideAuthHandler,
			provideConversationsHandler,
			provideAutomationHandler,
			provideTelegramHandler,
			provideWidgetHandler,
			provideRealtimeHandler,
			provideChannelsHandler,
			provideServer,
		),
		fx.Invoke(
			wireBridges,
			startAutomationEngine,
			startPresenceSweeper,
			startChannelSessions,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideBus(log *slog.Logger) *event.Bus { return event.NewBus(log) }

func provideTenantStore(log *slog.Logger, pool *pgxpool.Pool) *tenant.Store {
	return tenant.NewStore(log, pool)
}

func provideAgentService(log *slog.Logger, pool *pgxpool.Pool) *agent.Service {
	return agent.NewService(log, pool)
}

func provideContactService(log *slog.Logger, pool *pgxpool.Pool) *contact.Service {
	return contact.NewService(log, contact.NewPGStore(pool))
}

func provideConversationService(log *slog.Logger, pool *pgxpool.Pool, bus *event.Bus) *conversation.Service {
	return conversation.NewService(log, conversation.NewPGStore(pool), bus)
}

func provideMessageService(log *slog.Logger, pool *pgxpool.Pool, conversations *conversation.Service, bus *event.Bus) *message.Service {
	return message.NewService(log, message.NewPGStore(pool), conversations, bus)
}

func provideAutomationStore(pool *pgxpool.Pool) *automation.PGStore {
	return automation.NewPGStore(pool)
}

func provideAutomationService(store *automation.PGStore) *automation.Service {
	return automation.NewService(store)
}

func provideAutomationEngine(log *slog.Logger, cfg config.Config, store *automation.PGStore, conversations *conversation.Service, messages *message.Service) *automation.Engine {
	exec := automation.NewServiceExecutor(conversations, messages)
	return automation.NewEngine(log, store, exec, cfg.Automation.QueueSize, cfg.Automation.Workers)
}

func providePresence(cfg config.Config) *realtime.Presence {
	return realtime.NewPresence(cfg.Realtime.PresenceTTL())
}

func provideHub(log *slog.Logger, cfg config.Config, presence *realtime.Presence, bus *event.Bus, agents *agent.Service, messages *message.Service) *realtime.Hub {
	hub := realtime.NewHub(log, presence, bus, agents, cfg.Realtime.SendBuffer)
	hub.SetReadMarker(messages)
	return hub
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	registry.MustRegister(widget.NewAdapter())
	registry.MustRegister(telegram.NewAdapter(log))
	wa, err := whatsapp.NewAdapter(log, cfg.Channels.WhatsApp.StoreDir)
	if err != nil {
		return nil, fmt.Errorf("whatsapp adapter: %w", err)
	}
	registry.MustRegister(wa)
	return registry, nil
}

func provideInboundProcessor(log *slog.Logger, contacts *contact.Service, conversations *conversation.Service, messages *message.Service) *inbound.Processor {
	return inbound.NewProcessor(log, contacts, conversations, messages)
}

func provideChannelManager(log *slog.Logger, cfg config.Config, registry *channel.Registry, statuses *tenant.Store, processor *inbound.Processor) *channel.Manager {
	handler := func(ctx context.Context, in channel.Inbound) error {
		_, err := processor.Process(ctx, in)
		return err
	}
	return channel.NewManager(log, registry, statuses, handler,
		cfg.Channels.WhatsApp.ReconnectRetries, cfg.Channels.WhatsApp.ReconnectDelay())
}

func provideOutboundDispatcher(log *slog.Logger, registry *channel.Registry, channels *tenant.Store) *channel.Dispatcher {
	return channel.NewDispatcher(log, registry, channels)
}

func provideGeolocator() *handlers.Geolocator {
	return handlers.NewGeolocator("")
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, agents *agent.Service) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, agents, cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry())
}

func provideConversationsHandler(log *slog.Logger, conversations *conversation.Service, messages *message.Service, contacts *contact.Service) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, conversations, messages, contacts)
}

func provideAutomationHandler(log *slog.Logger, rules *automation.Service) *handlers.AutomationHandler {
	return handlers.NewAutomationHandler(log, rules)
}

func provideTelegramHandler(log *slog.Logger, cfg config.Config, channels *tenant.Store, processor *inbound.Processor) *handlers.TelegramHandler {
	return handlers.NewTelegramHandler(log, channels, processor, cfg.Channels.Telegram.WebhookSecret)
}

func provideWidgetHandler(log *slog.Logger, cfg config.Config, channels *tenant.Store, contacts *contact.Service, processor *inbound.Processor, geo *handlers.Geolocator) *handlers.WidgetHandler {
	return handlers.NewWidgetHandler(log, channels, contacts, processor, geo, cfg.Auth.JWTSecret, cfg.Auth.WidgetExpiry())
}

func provideRealtimeHandler(log *slog.Logger, cfg config.Config, hub *realtime.Hub) *handlers.RealtimeHandler {
	return handlers.NewRealtimeHandler(log, hub, cfg.Auth.JWTSecret)
}

func provideChannelsHandler(log *slog.Logger, channels *tenant.Store, manager *channel.Manager) *handlers.ChannelsHandler {
	return handlers.NewChannelsHandler(log, channels, manager)
}

func provideServer(log *slog.Logger, cfg config.Config,
	ping *handlers.PingHandler,
	authH *handlers.AuthHandler,
	conversations *handlers.ConversationsHandler,
	rules *handlers.AutomationHandler,
	tg *handlers.TelegramHandler,
	wd *handlers.WidgetHandler,
	rt *handlers.RealtimeHandler,
	ch *handlers.ChannelsHandler,
) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret,
		ping, authH, conversations, rules, tg, wd, rt, ch)
}

// wireBridges registers the bus consumers: realtime fan-out, the automation
// engine, and outbound platform delivery.
func wireBridges(bus *event.Bus, hub *realtime.Hub, engine *automation.Engine, dispatcher *channel.Dispatcher) {
	hub.Subscribe(bus)
	engine.Subscribe(bus)
	dispatcher.Subscribe(bus)
}

func startAutomationEngine(lc fx.Lifecycle, engine *automation.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { engine.Start(); return nil },
		OnStop:  func(context.Context) error { engine.Stop(); return nil },
	})
}

// cronLogger adapts slog to cron.Logger so recovered job panics are reported
// instead of killing the process.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, slog.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, slog.Any("error", err), slog.Any("details", keysAndValues))
}

// startPresenceSweeper expires stale presence entries on a fixed cadence so
// crashed agent clients go offline without an explicit disconnect.
func startPresenceSweeper(lc fx.Lifecycle, log *slog.Logger, hub *realtime.Hub) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log: log.With(slog.String("component", "cron"))})))
	if _, err := c.AddFunc("@every 15s", hub.SweepPresence); err != nil {
		return fmt.Errorf("presence sweeper: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

// startChannelSessions brings configured session channels (WhatsApp) back up
// at boot and tears every live session down on shutdown.
func startChannelSessions(lc fx.Lifecycle, log *slog.Logger, channels *tenant.Store, manager *channel.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			list, err := channels.ListChannelsByType(ctx, channel.TypeWhatsApp.String())
			if err != nil {
				return fmt.Errorf("list whatsapp channels: %w", err)
			}
			for _, ch := range list {
				if ch.Status == tenant.StatusDisconnected || ch.Status == tenant.StatusError {
					continue
				}
				if err := manager.StartChannel(ctx, ch); err != nil {
					log.Warn("channel session start failed",
						slog.String("channel_id", ch.ID),
						slog.Any("error", err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.StopAll(ctx)
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
