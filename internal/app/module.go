// Package app wires the client together with fx: config, logging, the live
// channel, the engine, and the TUI, plus the lifecycle hooks that start and
// stop them in order.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/coursemgmt/educhat/internal/bus"
	"github.com/coursemgmt/educhat/internal/chat"
	"github.com/coursemgmt/educhat/internal/config"
	"github.com/coursemgmt/educhat/internal/conn"
	"github.com/coursemgmt/educhat/internal/lock"
	"github.com/coursemgmt/educhat/internal/logging"
	"github.com/coursemgmt/educhat/internal/rest"
	"github.com/coursemgmt/educhat/internal/status"
	"github.com/coursemgmt/educhat/internal/store"
	"github.com/coursemgmt/educhat/internal/subs"
	"github.com/coursemgmt/educhat/internal/timer"
	"github.com/coursemgmt/educhat/internal/track"
	"github.com/coursemgmt/educhat/internal/tui"
)

// reconcileWindow bounds the createdAt skew under which an inbound echo is
// matched against a provisional message.
const reconcileWindow = 3 * time.Second

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
}

// token is the resolved auth token, a distinct type so fx can inject it.
type token string

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("educhat",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideScheduler,
			provideLock,
			provideToken,
			provideIdentity,
			provideStore,
			provideRESTClient,
			provideManager,
			provideRegistry,
			provideTypingTracker,
			providePresenceTracker,
			provideEngine,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(config.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideScheduler() *timer.Scheduler {
	return timer.NewScheduler()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := config.EnsureProfileDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(config.ProfileDir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideToken(p Params) (token, error) {
	t, err := p.Config.ResolveToken()
	return token(t), err
}

func provideIdentity(t token) (*rest.Identity, error) {
	return rest.IdentityFromToken(string(t))
}

func provideStore() *store.Store {
	return store.New(reconcileWindow)
}

func provideRESTClient(p Params, t token) *rest.Client {
	return rest.NewClient(p.Config.APIBaseURL, string(t))
}

func provideManager(p Params, machine *status.Machine, b *bus.Bus, sched *timer.Scheduler, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Options{
		URL:         p.Config.ServerURL,
		MaxAttempts: p.Config.MaxReconnectAttempts,
		BaseDelay:   p.Config.ReconnectBaseDelay.Std(),
		Heartbeat:   p.Config.HeartbeatInterval.Std(),
	}, conn.WebsocketDialer{}, machine, b, sched, logger)
}

func provideRegistry(m *conn.Manager, logger *zap.Logger) *subs.Registry {
	return subs.NewRegistry(m, logger)
}

func provideTypingTracker(p Params, sched *timer.Scheduler, b *bus.Bus) *track.TypingTracker {
	return track.NewTypingTracker(p.Config.TypingTTL.Std(), sched, b)
}

func providePresenceTracker(p Params, sched *timer.Scheduler, b *bus.Bus) *track.PresenceTracker {
	return track.NewPresenceTracker(p.Config.PresenceDebounce.Std(), sched, b)
}

func provideEngine(
	p Params,
	m *conn.Manager,
	registry *subs.Registry,
	st *store.Store,
	typing *track.TypingTracker,
	presence *track.PresenceTracker,
	api *rest.Client,
	b *bus.Bus,
	machine *status.Machine,
	sched *timer.Scheduler,
	logger *zap.Logger,
	identity *rest.Identity,
) *chat.Engine {
	return chat.New(chat.Deps{
		Config:    p.Config,
		Live:      m,
		Registry:  registry,
		Store:     st,
		Typing:    typing,
		Presence:  presence,
		API:       api,
		Bus:       b,
		Machine:   machine,
		Scheduler: sched,
		Logger:    logger,
		Identity:  identity,
	})
}

func provideTUI(engine *chat.Engine, b *bus.Bus, p Params) *tui.App {
	return tui.NewApp(engine, b, p.Profile)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, engine *chat.Engine, ui *tui.App, sched *timer.Scheduler, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := engine.Start(ctx); err != nil {
				return err
			}
			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			engine.Close()
			sched.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
