// Package daemon wires the session's components into an fx application:
// store, live transport, reconciliation engine, outbox sender and views, plus
// the reconnect and catch-up watchers that keep the mirror converging.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/prohands/chatsync/internal/bus"
	"github.com/prohands/chatsync/internal/config"
	"github.com/prohands/chatsync/internal/lock"
	"github.com/prohands/chatsync/internal/logging"
	"github.com/prohands/chatsync/internal/outbox"
	"github.com/prohands/chatsync/internal/repo"
	"github.com/prohands/chatsync/internal/session"
	"github.com/prohands/chatsync/internal/status"
	"github.com/prohands/chatsync/internal/store"
	"github.com/prohands/chatsync/internal/syncapi"
	"github.com/prohands/chatsync/internal/transport"
	"github.com/prohands/chatsync/internal/view"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Identity is the signed-in user resolved from the session token.
type Identity struct {
	UserID string
	Token  string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideIdentity,
			provideTransport,
			provideSyncAPI,
			provideEngine,
			provideSender,
			provideViewModel,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(p Params) (Identity, error) {
	token, err := session.LoadToken(p.SessionName)
	if err != nil {
		return Identity{}, err
	}
	userID, err := session.UserIDFromToken(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Token: token}, nil
}

func provideTransport(cfg *config.Config, id Identity, m *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Client {
	return transport.NewClient(cfg.WSURL, id.Token,
		cfg.HeartbeatInterval.Duration(), cfg.MaxMissedHeartbeats, m, b, logger)
}

func provideSyncAPI(cfg *config.Config, id Identity) *syncapi.Client {
	return syncapi.NewClient(cfg.APIBaseURL, id.Token)
}

func provideEngine(db *store.DB, t *transport.Client, api *syncapi.Client, b *bus.Bus, id Identity, logger *zap.Logger) *repo.Engine {
	return repo.NewEngine(db, t, api, b, id.UserID, logger)
}

func provideSender(db *store.DB, t *transport.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, t, b, logger, 0, cfg.SendTimeout.Duration())
}

func provideViewModel(db *store.DB, b *bus.Bus) *view.Model {
	return view.NewModel(db, b, 0)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, client *transport.Client, engine *repo.Engine, sender *outbox.Sender, model *view.Model, b *bus.Bus, cfg *config.Config, id Identity, logger *zap.Logger) {
	var cancelWatch context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			cancelWatch = cancel

			engine.Start(ctx)
			sender.Start(ctx)
			model.Start(ctx)
			if err := model.LoadConversations(); err != nil {
				logger.Warn("initial conversation load failed", zap.Error(err))
			}

			// The watcher subscribes before the first connect attempt, so
			// no transition is missed.
			go watchConnection(ctx, client, engine, b, cfg, id.UserID, logger)

			go func() {
				if err := client.Connect(ctx, id.UserID); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			if cancelWatch != nil {
				cancelWatch()
			}
			sender.Stop()
			engine.Stop()
			model.Stop()
			client.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watchConnection owns the reconnect policy: the transport never reconnects
// itself. Every Live transition triggers a catch-up sync; every drop back to
// Disconnected schedules a retry with exponential backoff, reset on success.
func watchConnection(ctx context.Context, client *transport.Client, engine *repo.Engine, b *bus.Bus, cfg *config.Config, userID string, logger *zap.Logger) {
	ch, unsub := b.Subscribe(bus.KindConnStatusChanged, 16)
	defer unsub()

	backoff := cfg.ReconnectInitial.Duration()
	maxBackoff := cfg.ReconnectMax.Duration()

	for {
		select {
		case evt := <-ch:
			change, ok := evt.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			switch change.To {
			case status.Live:
				backoff = cfg.ReconnectInitial.Duration()
				go func() {
					if err := engine.CatchUp(ctx); err != nil {
						logger.Error("catch-up sync failed", zap.Error(err))
					}
				}()
			case status.Disconnected:
				logger.Info("connection lost, scheduling reconnect", zap.Duration("backoff", backoff))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = min(backoff*2, maxBackoff)
				if err := client.Connect(ctx, userID); err != nil {
					logger.Warn("reconnect failed", zap.Error(err))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
