package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/cartstore/internal/health"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/file"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/postgres"
)

// backgroundWorker — фоновая задача хранилища, живущая до отмены контекста.
type backgroundWorker struct {
	name string
	run  func(ctx context.Context)
}

// runtimeDependencies — хранилище выбранного драйвера и всё, что нужно для его работы.
type runtimeDependencies struct {
	driver         string
	kv             domain.Storage
	storageChecker healthcheck.Checker
	workers        []backgroundWorker
	closeFn        func() error
}

func (d *runtimeDependencies) close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
// origin идентифицирует процесс в сигналах изменений.
func initRuntimeDependencies(ctx context.Context, cfg Config, origin string, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		kv := memory.NewKeyValueStore()
		return &runtimeDependencies{
			driver:         driver,
			kv:             kv,
			storageChecker: healthcheck.NewStorageChecker("storage", kv),
		}, nil

	case StorageDriverFile:
		store, err := file.Open(cfg.StorageDir, file.WithLogger(logger.WithField("storage", "file")))
		if err != nil {
			return nil, err
		}
		if err := store.Start(ctx); err != nil {
			return nil, err
		}
		logger.WithField("dir", store.Dir()).Info("file storage initialized")
		return &runtimeDependencies{
			driver:         driver,
			kv:             store,
			storageChecker: healthcheck.NewStorageChecker("storage", store),
			closeFn:        store.Close,
		}, nil

	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, origin, logger)

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgres(ctx context.Context, cfg Config, origin string, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, fmt.Errorf("postgres storage requires CART_POSTGRES_DSN")
	}
	if cfg.TombstoneTTL > 0 && cfg.PostgresPollInterval > 0 && cfg.TombstoneTTL <= cfg.PostgresPollInterval {
		return nil, fmt.Errorf("tombstone ttl %s must exceed poll interval %s", cfg.TombstoneTTL, cfg.PostgresPollInterval)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	pgLogger := logger.WithField("storage", "postgres")
	kv := postgres.NewKVStore(store, postgres.WithOrigin(origin))
	poller := postgres.NewChangePoller(kv, kv, kv.Origin(),
		postgres.WithPollerLogger(pgLogger),
		postgres.WithPollInterval(cfg.PostgresPollInterval),
		postgres.WithPollBatchSize(cfg.PostgresPollBatch),
		postgres.WithPollLookback(int64(cfg.PostgresPollLookback)),
	)
	purger := postgres.NewTombstonePurger(kv,
		postgres.WithPurgeLogger(pgLogger),
		postgres.WithPurgeInterval(cfg.TombstonePurgeEvery),
		postgres.WithTombstoneTTL(cfg.TombstoneTTL),
	)

	pgLogger.WithField("origin", kv.Origin()).Info("postgres storage initialized")
	return &runtimeDependencies{
		driver:         StorageDriverPostgres,
		kv:             kv,
		storageChecker: healthcheck.NewPingChecker("postgres", store.Ping),
		workers: []backgroundWorker{
			{name: "postgres-change-poller", run: poller.Run},
			{name: "postgres-tombstone-purger", run: purger.Run},
		},
		closeFn: store.Close,
	}, nil
}
