// Package app wires configuration into a running OPD service: storage,
// slot locking, metrics and the readiness checks that go with them.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/opd-token-allocation/internal/api"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/db"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/metrics"
	"github.com/hackgods/opd-token-allocation/internal/opd"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

type Runtime struct {
	Service *opd.Service
	Checks  []api.DependencyCheck

	closers []func()
}

// Close releases connections in reverse order of creation.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func Build(ctx context.Context, cfg config.Config, logger *logging.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{}

	repo, err := rt.openRepository(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	locker, err := rt.openLocker(ctx, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	svc, err := opd.NewService(repo, locker, cfg, opd.Deps{
		Metrics: metrics.NewOPDMetrics(reg),
		Logger:  logger,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create service: %w", err)
	}
	rt.Service = svc
	return rt, nil
}

func (rt *Runtime) openRepository(ctx context.Context, cfg config.Config, logger *logging.Logger) (opd.Repository, error) {
	if cfg.StorageBackend == "memory" {
		logger.Warn("using in-memory storage, data is lost on restart")
		return opd.NewMemoryRepository(), nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
		MaxConns: int32(cfg.PGMaxConns),
		MinConns: int32(cfg.PGMinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)
	rt.Checks = append(rt.Checks, api.PostgresCheck(pool))
	logger.Info("connected to postgres")
	return opd.NewPgRepository(pool), nil
}

func (rt *Runtime) openLocker(ctx context.Context, cfg config.Config, logger *logging.Logger) (redisclient.Locker, error) {
	if cfg.LockBackend == "local" {
		logger.Warn("using in-process slot locks, run a single replica only")
		return redisclient.NewLocalSlotLocker(cfg.LockWait), nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	rt.closers = append(rt.closers, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	})
	rt.Checks = append(rt.Checks, api.RedisCheck(rdb))
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait), nil
}
