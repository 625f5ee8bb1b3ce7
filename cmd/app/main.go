package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"invoice-sync/internal/cache"
	"invoice-sync/internal/config"
	"invoice-sync/internal/local"
	"invoice-sync/internal/logging"
	"invoice-sync/internal/metrics"
	"invoice-sync/internal/migration"
	"invoice-sync/internal/queue"
	"invoice-sync/internal/remote"
	"invoice-sync/internal/syncer"
	"invoice-sync/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "invoice-sync",
		Short:         "Offline-first sync core for the invoicing app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "migration", Title: "Migration Commands:"},
	)
	root.AddCommand(
		newServeCmd(),
		newDrainCmd(),
		newStatusCmd(),
		newRefreshCmd(),
		newMigrateCmd(),
		newDBMigrateCmd(),
	)
	return root
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	remote   *remote.Postgres
	queue    *queue.SQLiteStore
	local    *local.GormRepository
	cache    *cache.Redis
	sync     *syncer.Service
	migrator *migration.Migrator
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireRemote(); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Registry(cfg.MetricsNamespace),
	}

	a.remote, err = remote.NewPostgres(ctx, remote.Config{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.SupabaseSchema,
		UserID:      cfg.SupabaseUserID,
	}, logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("init remote: %w", err)
	}

	if err := ensureDir(cfg.QueueDBPath); err != nil {
		a.close()
		return nil, err
	}
	queueSchema, err := fs.Sub(migrations.Files, "sqlite")
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load queue schema: %w", err)
	}
	a.queue, err = queue.OpenSQLite(ctx, cfg.QueueDBPath, queueSchema, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	if err := ensureDir(cfg.LocalDBPath); err != nil {
		a.close()
		return nil, err
	}
	a.local, err = local.Open(cfg.LocalDBPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open local store: %w", err)
	}

	opts := syncer.ServiceOptions{CacheTTL: cfg.SnapshotCacheTTL, Metrics: a.metrics}
	if cfg.RedisAddr != "" {
		a.cache = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   cfg.SupabaseUserID,
		}, logger)
		if err := a.cache.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		opts.Cache = a.cache
	}

	writer := syncer.NewEntityWriter(a.remote, logger)
	proc := syncer.NewProcessor(a.queue, writer, syncer.PingCheck{
		Pinger:  a.remote,
		Timeout: cfg.OnlineCheckTimeout,
	}, logger, a.metrics, syncer.Config{
		MaxRetries:   cfg.SyncMaxRetries,
		BaseDelay:    cfg.SyncBaseDelay,
		InitialDelay: cfg.SyncInitialDelay,
	})
	a.sync = syncer.NewService(a.queue, proc, a.remote, a.local, logger, opts)
	a.migrator = migration.New(a.local, writer, logger, a.metrics, cfg.MigrationPause)

	return a, nil
}

func (a *app) close() {
	if a.sync != nil {
		a.sync.Processor().StopAutoSync()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed closing redis", "error", err)
		}
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Warn("failed closing local store", "error", err)
		}
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.remote != nil {
		a.remote.Close()
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
