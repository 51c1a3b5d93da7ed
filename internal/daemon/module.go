// Package daemon composes a per-session preview daemon with fx.
package daemon

import (
	"context"

	"github.com/matheus3301/lensdm/internal/api"
	"github.com/matheus3301/lensdm/internal/badge"
	"github.com/matheus3301/lensdm/internal/bus"
	"github.com/matheus3301/lensdm/internal/config"
	"github.com/matheus3301/lensdm/internal/ens"
	"github.com/matheus3301/lensdm/internal/gate"
	"github.com/matheus3301/lensdm/internal/inbox"
	"github.com/matheus3301/lensdm/internal/lock"
	"github.com/matheus3301/lensdm/internal/logging"
	"github.com/matheus3301/lensdm/internal/metrics"
	"github.com/matheus3301/lensdm/internal/preview"
	"github.com/matheus3301/lensdm/internal/remote"
	"github.com/matheus3301/lensdm/internal/session"
	"github.com/matheus3301/lensdm/internal/store"
	intsync "github.com/matheus3301/lensdm/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = session.ConfigPath()
	// Account overrides [account] in the config when ProfileID is set.
	Account inbox.Account
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			metrics.New,
			provideMessaging,
			provideDirectory,
			provideNames,
			provideGate,
			preview.NewMap,
			provideBadges,
			providePipeline,
			provideInbox,
			provideService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	level, err := logging.ParseLevel(cfg.Daemon.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", l.Path()))
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideMessaging(cfg *config.Config) *remote.Messaging {
	return remote.NewMessaging(cfg.Network.MessagingURL, cfg.Network.RequestTimeout.Duration)
}

func provideDirectory(cfg *config.Config) *remote.Directory {
	return remote.NewDirectory(cfg.Network.DirectoryURL, cfg.Network.RequestTimeout.Duration)
}

func provideNames(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *ens.Cache {
	naming := remote.NewNaming(cfg.Network.NamingURL, cfg.Network.RequestTimeout.Duration)
	return ens.NewCache(naming, m, logger.Named("ens"))
}

func provideGate(messaging *remote.Messaging, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *gate.Gate {
	return gate.New(messaging, db, b, cfg.Daemon.AuthTimeout.Duration, logger.Named("gate"))
}

func provideBadges(db *store.DB) *badge.Tracker {
	return badge.NewTracker(db)
}

func providePipeline(messaging *remote.Messaging, previews *preview.Map, badges *badge.Tracker, g *gate.Gate, b *bus.Bus, m *metrics.Metrics, cfg *config.Config, logger *zap.Logger) *intsync.Pipeline {
	opts := intsync.Options{
		BatchTimeout: cfg.Ingestion.BatchTimeout.Duration,
		MaxAttempts:  cfg.Ingestion.MaxAttempts,
		BaseBackoff:  cfg.Ingestion.BaseBackoff.Duration,
		MaxBackoff:   cfg.Ingestion.MaxBackoff.Duration,
	}
	return intsync.New(messaging, previews, badges, g, b, m, opts, logger.Named("ingest"))
}

type inboxDeps struct {
	fx.In

	Params    Params
	Config    *config.Config
	DB        *store.DB
	Gate      *gate.Gate
	Pipeline  *intsync.Pipeline
	Previews  *preview.Map
	Badges    *badge.Tracker
	Names     *ens.Cache
	Directory *remote.Directory
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func provideInbox(d inboxDeps) *inbox.Inbox {
	account := d.Params.Account
	if account.ProfileID == "" {
		account = inbox.Account{ProfileID: d.Config.Account.ProfileID, Address: d.Config.Account.Address}
	}
	return inbox.New(inbox.Deps{
		DB:        d.DB,
		Gate:      d.Gate,
		Pipeline:  d.Pipeline,
		Previews:  d.Previews,
		Badges:    d.Badges,
		Names:     d.Names,
		Directory: d.Directory,
		Bus:       d.Bus,
		Logger:    d.Logger.Named("inbox"),
	}, account, inbox.Options{
		PersistTab:    d.Config.Daemon.PersistTab,
		LookupTimeout: d.Config.Network.RequestTimeout.Duration,
	})
}

func provideService(p Params, in *inbox.Inbox) *api.PreviewService {
	return api.NewPreviewService(p.SessionName, in)
}

// provideMetricsServer returns nil when metrics are disabled.
func provideMetricsServer(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *metrics.Server {
	if cfg.Daemon.MetricsAddr == "" {
		return nil
	}
	return metrics.NewServer(cfg.Daemon.MetricsAddr, m, logger.Named("metrics"))
}

type lifecycleDeps struct {
	fx.In

	Lock    *lock.Lock
	Server  *Server
	Metrics *metrics.Server
	DB      *store.DB
	Inbox   *inbox.Inbox
	Gate    *gate.Gate
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	stopAuth := func() {}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Inbox.Open(ctx); err != nil {
				return err
			}

			if d.Metrics != nil {
				if _, err := d.Metrics.Start(); err != nil {
					d.Inbox.Close()
					return err
				}
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// A stored credential resumes without a wallet prompt; otherwise
			// the gate waits for an explicit Authenticate call.
			if d.Gate.HasCredential() {
				authCtx, cancel := context.WithCancel(context.Background())
				stopAuth = cancel
				go func() {
					if err := d.Inbox.Authenticate(authCtx); err != nil {
						logger.Warn("auto-authenticate failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no stored credential, signature required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopAuth()
			d.Server.Stop(ctx)
			d.Inbox.Close()
			if d.Metrics != nil {
				if err := d.Metrics.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
