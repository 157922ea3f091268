package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/config"
	"github.com/daktarihub/daktari-client/internal/migrate"
	"github.com/daktarihub/daktari-client/internal/storage"
	"github.com/daktarihub/daktari-client/internal/storage/filestore"
	"github.com/daktarihub/daktari-client/internal/storage/pgstore"
	"github.com/daktarihub/daktari-client/internal/storage/redisstore"
	"github.com/daktarihub/daktari-client/internal/storage/sealed"
)

// openStorage builds the configured session storage and returns a function releasing it.
func openStorage(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (storage.Storage, func(), error) {
	var (
		st      storage.Storage
		closeFn = func() {}
	)
	log = log.Named("storage")

	switch cfg.Storage.Driver {
	case config.DriverFile:
		fs, err := filestore.New(choose(cfg.Storage.Dir, filestore.DefaultDir()), filestore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		st = fs

	case config.DriverRedis:
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		st = redisstore.New(rdb, cfg.Storage.Namespace, log)
		closeFn = func() { _ = rdb.Close() }

	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.Postgres.DSN, log); err != nil {
			return nil, nil, fmt.Errorf("migrate up: %w", err)
		}
		pool, err := pgstore.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		st = pgstore.New(pool, pgstore.NewPQListener(cfg.Postgres.DSN, log), cfg.Storage.Namespace, log)
		closeFn = pool.Close

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Storage.Passphrase != "" {
		s, err := sealed.FromPassphrase(ctx, st, cfg.Storage.Passphrase)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		st = s
	}
	return st, closeFn, nil
}
