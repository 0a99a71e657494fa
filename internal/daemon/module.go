package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/blob"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/conversation"
	"github.com/matheus3301/courier/internal/events"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/logging"
	"github.com/matheus3301/courier/internal/model"
	"github.com/matheus3301/courier/internal/netmon"
	"github.com/matheus3301/courier/internal/outbox"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/profile"
	"github.com/matheus3301/courier/internal/realtime"
	"github.com/matheus3301/courier/internal/remote"
	"github.com/matheus3301/courier/internal/store"
	intsync "github.com/matheus3301/courier/internal/sync"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRemote,
			provideBlob,
			provideRealtime,
			provideNetmon,
			providePipeline,
			provideSyncEngine,
			provideTracker,
			provideConversation,
			provideExporter,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level, err := logging.ParseLevel(p.Config.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, logging.Options{Level: level, Quiet: p.Config.Log.Quiet})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the cache is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.Profile)
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

// remoteBackend is the remote store behind its circuit breaker.
type remoteBackend struct {
	store *remote.Breaker
	close func(context.Context) error
}

func provideRemote(p Params, logger *zap.Logger) (*remoteBackend, error) {
	cfg := p.Config.Remote
	var (
		next    remote.Store
		closeFn = func(context.Context) error { return nil }
	)
	switch cfg.Driver {
	case "mongo":
		m, err := remote.DialMongo(context.Background(), cfg.URI, cfg.Database, cfg.Timeout.Duration, logger)
		if err != nil {
			return nil, err
		}
		next, closeFn = m, m.Close
		logger.Info("remote store connected", zap.String("driver", "mongo"), zap.String("database", cfg.Database))
	case "memory":
		next = remote.NewMemory()
		logger.Warn("remote store is in-process memory; messages do not leave this daemon")
	default:
		return nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
	}
	b := p.Config.Breaker
	return &remoteBackend{
		store: remote.WithBreaker(next, remote.BreakerSettings{
			MaxFailures: b.MaxFailures,
			Interval:    b.Interval.Duration,
			Timeout:     b.Timeout.Duration,
		}, logger),
		close: closeFn,
	}, nil
}

func provideBlob(p Params, logger *zap.Logger) (blob.Store, error) {
	cfg := p.Config.Blob
	switch cfg.Driver {
	case "s3":
		s, err := blob.NewS3(context.Background(), cfg.Region, cfg.Bucket, cfg.PublicBaseURL, filepath.Join(profile.BlobDir(p.Profile), "cache"))
		if err != nil {
			return nil, err
		}
		logger.Info("blob store ready", zap.String("driver", "s3"), zap.String("bucket", cfg.Bucket))
		return s, nil
	case "dir":
		root := cfg.Dir
		if root == "" {
			root = profile.BlobDir(p.Profile)
		}
		logger.Info("blob store ready", zap.String("driver", "dir"), zap.String("root", root))
		return blob.NewDir(root, cfg.PublicBaseURL), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}

// realtimeBackend is the presence channel and, for redis, the client and
// reaper behind it.
type realtimeBackend struct {
	channel realtime.Channel
	rdb     *redis.Client
	reaper  *realtime.Reaper
}

func provideRealtime(p Params, logger *zap.Logger) (*realtimeBackend, error) {
	cfg := p.Config.Realtime
	switch cfg.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		logger.Info("realtime channel", zap.String("driver", "redis"), zap.String("addr", cfg.Addr))
		return &realtimeBackend{
			channel: realtime.NewRedis(rdb, realtime.RedisOptions{LeaseTTL: cfg.LeaseTTL.Duration}, logger),
			rdb:     rdb,
			reaper:  realtime.NewReaper(rdb, logger),
		}, nil
	case "memory":
		logger.Warn("realtime channel is in-process memory; presence is not shared")
		return &realtimeBackend{channel: realtime.NewMemoryServer().Connect()}, nil
	}
	return nil, fmt.Errorf("unknown realtime driver %q", cfg.Driver)
}

func provideNetmon(p Params, b *bus.Bus, logger *zap.Logger) *netmon.Monitor {
	cfg := p.Config.Network
	var prober netmon.Prober
	if cfg.ProbeAddr != "" {
		prober = &netmon.DialProber{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout.Duration}
	}
	return netmon.New(prober, b, logger)
}

func providePipeline(p Params, db *store.DB, rb *remoteBackend, blobs blob.Store, net *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *outbox.Pipeline {
	return outbox.New(db, rb.store, blobs, net, b, logger, outbox.Options{ConfirmDelay: p.Config.Sync.ConfirmDelay.Duration})
}

func provideSyncEngine(p Params, db *store.DB, rb *remoteBackend, pipeline *outbox.Pipeline, net *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, rb.store, pipeline.Deliverer(), net, b, logger, intsync.Options{
		Interval:   p.Config.Sync.Interval.Duration,
		MaxRetries: p.Config.Sync.MaxRetries,
	})
}

func provideTracker(p Params, rt *realtimeBackend, net *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	cfg := p.Config.Presence
	return presence.NewTracker(rt.channel, net, b, logger, presence.Options{
		HeartbeatInterval: cfg.HeartbeatInterval.Duration,
		GraceWindow:       cfg.GraceWindow.Duration,
		FreshnessTick:     cfg.FreshnessTick.Duration,
		TypingTimeout:     cfg.TypingTimeout.Duration,
	})
}

func provideConversation(db *store.DB, rb *remoteBackend, net *netmon.Monitor, b *bus.Bus, logger *zap.Logger) *conversation.Service {
	return conversation.New(db, rb.store, net, b, logger)
}

func provideExporter(p Params, b *bus.Bus, logger *zap.Logger) *events.Exporter {
	cfg := p.Config.Kafka
	if len(cfg.Brokers) == 0 {
		return events.NewExporter(b, nil, logger)
	}
	return events.NewExporter(b, events.NewKafkaWriter(cfg.Brokers, cfg.Topic), logger)
}

func provideControl(p Params, db *store.DB, pipeline *outbox.Pipeline, engine *intsync.Engine, tracker *presence.Tracker, conv *conversation.Service, net *netmon.Monitor, logger *zap.Logger) *api.Control {
	id := api.Identity{Profile: p.Profile, UserID: p.Config.User.ID, UserName: p.Config.User.Name}
	return api.NewControl(id, db, pipeline, engine, tracker, conv, net, logger)
}

type lifecycleDeps struct {
	fx.In

	Params   Params
	Server   *Server
	Lock     *lock.Lock
	DB       *store.DB
	Remote   *remoteBackend
	Realtime *realtimeBackend
	Net      *netmon.Monitor
	Pipeline *outbox.Pipeline
	Engine   *intsync.Engine
	Tracker  *presence.Tracker
	Exporter *events.Exporter
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()
			if d.Params.Config.Network.ProbeAddr != "" {
				d.Net.Start(ctx, d.Params.Config.Network.ProbeInterval.Duration)
			}
			if d.Realtime.reaper != nil {
				if err := d.Realtime.reaper.Start(ctx); err != nil {
					logger.Warn("presence reaper not running", zap.Error(err))
				}
			}

			d.Exporter.Start(ctx)
			d.Engine.Start(ctx)

			if user := d.Params.Config.User; user.ID != "" {
				if err := d.DB.SaveUser(ctx, &model.User{ID: user.ID, Name: user.Name}); err != nil {
					return err
				}
				if err := d.Tracker.Initialize(ctx, user.ID); err != nil {
					return err
				}
			} else {
				logger.Warn("no user configured, presence disabled")
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Server.Stop(ctx)
			d.Tracker.Cleanup(ctx)
			d.Engine.Stop()
			d.Pipeline.Close()
			if err := d.Exporter.Stop(); err != nil {
				logger.Warn("error closing event writer", zap.Error(err))
			}
			d.Net.Stop()
			if d.Realtime.reaper != nil {
				d.Realtime.reaper.Stop()
			}
			_ = d.Realtime.channel.Close()
			if d.Realtime.rdb != nil {
				_ = d.Realtime.rdb.Close()
			}
			if err := d.Remote.close(ctx); err != nil {
				logger.Warn("error closing remote store", zap.Error(err))
			}
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
