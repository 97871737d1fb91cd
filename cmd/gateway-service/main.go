// Command gateway-service is the process entrypoint for the submission
// service: it loads configuration, connects to Postgres and Redis, runs
// pending migrations, wires the core components, and serves HTTP until
// asked to shut down.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/txgateway/submission/internal/config"
	"github.com/txgateway/submission/internal/logging"
	"github.com/txgateway/submission/pkg/txqueue/cache"
	"github.com/txgateway/submission/pkg/txqueue/httpapi"
	"github.com/txgateway/submission/pkg/txqueue/metrics"
	"github.com/txgateway/submission/pkg/txqueue/orchestrator"
	"github.com/txgateway/submission/pkg/txqueue/queue"
	"github.com/txgateway/submission/pkg/txqueue/ratelimit"
	"github.com/txgateway/submission/pkg/txqueue/store"
	"github.com/txgateway/submission/pkg/txqueue/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("gateway-service exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg := config.Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = cfg.Logging.Format
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	zapCfg.Level = level
	if logger, err = zapCfg.Build(); err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := tracing.Init("txgateway-submission")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("pgx", cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Storage.MaxIdleConns)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetBaseFS(store.Migrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	componentLogger := logging.FromZap(logger)
	m := metrics.NewMetricsWithRegistry(prometheus.DefaultRegisterer)

	durableStore := store.New(db, componentLogger)
	fastCache := cache.New(redisClient)
	limiter := ratelimit.New(durableStore, fastCache)
	coordinator := queue.New(durableStore, fastCache, cfg.Queue.DrainRatePerSecond, componentLogger, m)
	orch := orchestrator.New(limiter, coordinator, componentLogger, m, orchestrator.WithDeadline(cfg.Server.RequestDeadline))

	server := httpapi.NewServer(orch, durableStore, componentLogger, m)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("component", "gateway-service"), zap.String("operation", "listen"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
