// Command daktari-stub serves an in-memory DaktariHub backend for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/backendstub"
	"github.com/daktarihub/daktari-client/internal/config"
	"github.com/daktarihub/daktari-client/internal/limiter"
	"github.com/daktarihub/daktari-client/internal/logging"
	"github.com/daktarihub/daktari-client/internal/storage/redisstore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default ./daktari.yaml)")
	addr := flag.String("addr", "", "listen address, overrides stub.addr")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key, overrides stub.jwtkey")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Stub.Addr = *addr
	}
	if *jwtKey != "" {
		cfg.Stub.JWTKey = *jwtKey
	}

	logger, err := logging.New(cfg.Environment, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Stub.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			cleanup()
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

// newServer wires the stub from cfg. The returned function releases the limiter backend.
func newServer(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*backendstub.Server, func(), error) {
	if cfg.Stub.JWTKey == "" {
		return nil, nil, fmt.Errorf("missing jwt signing key (stub.jwtkey or -jwt-key)")
	}

	var (
		lim     limiter.Limiter = limiter.NewMemory(limiter.DefaultPolicy)
		cleanup                 = func() {}
	)
	if cfg.Stub.Limiter == "redis" {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		lim = limiter.NewRedis(rdb, "daktari:stub:login:", limiter.DefaultPolicy)
		cleanup = func() { _ = rdb.Close() }
	}

	srv, err := backendstub.New(backendstub.Config{
		Environment: cfg.Environment,
		Addr:        cfg.Stub.Addr,
		JWTKey:      []byte(cfg.Stub.JWTKey),
		AccessTTL:   cfg.Stub.AccessTTL,
		Limiter:     lim,
		Latency:     cfg.Stub.Latency,
	}, log.Named("stub"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return srv, cleanup, nil
}
