package bootstrap

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/target/muster/config"
	"github.com/target/muster/internal/adapters/transport"
	"github.com/target/muster/internal/contentcache"
	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/data"
	"github.com/target/muster/internal/dispatch"
	"github.com/target/muster/internal/fileserver"
	"github.com/target/muster/internal/fileserver/gitvcs"
	"github.com/target/muster/internal/fslock"
	"github.com/target/muster/internal/mine"
)

// ServiceContainer holds all master services.
type ServiceContainer struct {
	Dispatcher *dispatch.Dispatcher
	Mine       *mine.Service
	Fileserver *fileserver.Registry
	Transport  core.MasterTransport
	Registry   core.Registry
	MineStore  core.MineStore
	History    core.JobHistoryRepository // nil when persistence is disabled
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB // nil when persistence is disabled
	RedisClient *redis.Client
	Logger      *slog.Logger

	// Close releases everything the container opened; callers run it on
	// shutdown.
	Close func()
}

// InitServices wires the dispatch, mine, and fileserver services from loaded
// configuration.
func InitServices(ctx context.Context, deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
		deps.Logger = logger
	}
	cfg := deps.Config

	container := &ServiceContainer{}
	if err := wireMessaging(deps, container); err != nil {
		return nil, err
	}

	if deps.DB != nil {
		history, err := data.NewJobHistoryRepo(data.JobHistoryRepoOptions{DB: deps.DB, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("wire job history: %w", err)
		}
		container.History = history
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Options{
		Registry:  container.Registry,
		Transport: container.Transport,
		History:   container.History,
		Config:    cfg.Dispatch,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire dispatcher: %w", err)
	}
	container.Dispatcher = dispatcher

	mineSvc, err := mine.NewService(mine.Options{
		Registry: container.Registry,
		Store:    container.MineStore,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire mine service: %w", err)
	}
	container.Mine = mineSvc

	fsRegistry, err := initFileserver(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("wire fileserver: %w", err)
	}
	container.Fileserver = fsRegistry

	return container, nil
}

// wireMessaging picks the transport, registry, and mine store backends. Dev
// mode runs everything in-process; otherwise Redis carries all three.
func wireMessaging(deps *ServiceDeps, container *ServiceContainer) error {
	cfg := deps.Config
	logger := deps.Logger

	if cfg.IsDev {
		container.Transport = transport.NewChannel(logger)
		container.Registry = data.NewMemoryRegistry()
	} else {
		if deps.RedisClient == nil {
			return errors.New("redis client is required outside dev mode")
		}
		tr, err := transport.NewRedis(transport.RedisOptions{Client: deps.RedisClient, Logger: logger})
		if err != nil {
			return fmt.Errorf("wire redis transport: %w", err)
		}
		container.Transport = tr
		container.Registry = data.NewRedisRegistry(deps.RedisClient)
	}

	switch cfg.Mine.Backend {
	case config.MineBackendRedis:
		if deps.RedisClient == nil {
			return errors.New("redis client is required for the redis mine backend")
		}
		container.MineStore = data.NewRedisMineStore(deps.RedisClient)
	default:
		store, err := data.NewBadgerMineStore(data.BadgerMineStoreOptions{
			Path:     cfg.Mine.Path,
			InMemory: cfg.IsDev,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("open mine store: %w", err)
		}
		container.MineStore = store
		prev := deps.Close
		deps.Close = func() {
			if prev != nil {
				prev()
			}
			if closeErr := store.Close(); closeErr != nil {
				logger.Warn("close mine store", "err", closeErr)
			}
		}
	}
	return nil
}

// initFileserver builds the backend registry. With no remotes configured the
// registry is empty but still valid; file routes simply serve nothing.
func initFileserver(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*fileserver.Registry, error) {
	var backends []fileserver.Backend

	if len(cfg.Fileserver.Remotes) > 0 {
		locks := fslock.NewManager(cfg.Lock, logger)

		cache, err := contentcache.New(contentcache.Options{
			Root:   filepath.Join(cfg.Fileserver.CacheRoot, "gitfs"),
			Locks:  locks,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init content cache: %w", err)
		}

		mirrors := make([]core.VCS, 0, len(cfg.Fileserver.Remotes))
		for _, remote := range cfg.Fileserver.Remotes {
			root := filepath.Join(cfg.Fileserver.CacheRoot, "gitfs", "mirrors", mirrorDirName(remote))
			mirrors = append(mirrors, gitvcs.NewRepo(remote, root))
		}

		gitfs, err := fileserver.NewGitFS(fileserver.GitFSOptions{
			Mirrors:   mirrors,
			Cache:     cache,
			Locks:     locks,
			Logger:    logger,
			Available: gitvcs.Available,
		})
		if err != nil {
			return nil, fmt.Errorf("init gitfs: %w", err)
		}
		backends = append(backends, gitfs)
	}

	registry := fileserver.NewRegistry(backends, logger)
	registry.Init(ctx)
	return registry, nil
}

// mirrorDirName derives a stable directory name for one remote URL.
func mirrorDirName(remote string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(remote)))
}
