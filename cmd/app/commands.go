package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"invoice-sync/internal/httpserver"
	"invoice-sync/internal/migration"
	"invoice-sync/internal/remote"
	"invoice-sync/migrations"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "sync",
		Short:   "Run the HTTP API with auto-sync enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			a.logger.Info("starting invoice-sync", "env", a.cfg.AppEnv)

			session := migration.NewSession(ctx, a.migrator)
			if a.migrator.NeedsMigration(ctx) {
				a.logger.Info("local data found that has not been migrated")
			}

			a.sync.Processor().StartAutoSync(a.cfg.SyncInterval)

			httpSrv := httpserver.New(a.cfg.HTTPListenAddr, a.logger, a.metrics, httpserver.Dependencies{
				Sync:      a.sync,
				Migrator:  a.migrator,
				Migration: session,
			}, a.cfg.HTTPBasePath)

			errCh := make(chan error, 1)
			go func() {
				if err := httpSrv.Start(); err != nil {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server error: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("http server shutdown error", "error", err)
			}
			return nil
		},
	}
}

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "drain",
		GroupID: "sync",
		Short:   "Process the pending queue once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return printJSON(cmd, a.sync.TriggerSync(ctx))
		},
	}
}

func newStatusCmd() *cobra.Command {
	var showQueue bool
	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show the queue and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if showQueue {
				return printJSON(cmd, a.sync.PendingOperations(ctx))
			}
			return printJSON(cmd, a.sync.GetStatus(ctx))
		},
	}
	cmd.Flags().BoolVar(&showQueue, "queue", false, "list pending operations instead of the summary")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		GroupID: "sync",
		Short:   "Replace local data with the remote copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			res := a.sync.RefreshFromRemote(ctx)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("refresh failed: %s", res.Error)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "migrate",
		GroupID: "migration",
		Short:   "Upload local settings and completed invoices to the cloud",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.migrator.HasMigrated(ctx) && !force {
				fmt.Fprintln(cmd.OutOrStdout(), "migration already completed; use --force to run again")
				return nil
			}

			summary := a.migrator.MigrateAllData(ctx, func(p migration.Progress) {
				a.logger.Info("migration progress", "step", p.Step, "current", p.Current, "total", p.Total, "message", p.Message)
			})
			if err := printJSON(cmd, summary); err != nil {
				return err
			}
			if !summary.Success {
				return fmt.Errorf("migration failed with %d errors", len(summary.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even when the migration marker is set")
	cmd.AddCommand(newMigrateStatusCmd(), newMigrateResetCmd())
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local data and the migration marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			data, err := a.migrator.DetectLocalData(ctx)
			if err != nil {
				return fmt.Errorf("detect local data: %w", err)
			}
			marker, err := a.migrator.Marker(ctx)
			if err != nil {
				return fmt.Errorf("read migration marker: %w", err)
			}
			return printJSON(cmd, struct {
				NeedsMigration bool                       `json:"needs_migration"`
				LocalData      migration.LocalDataSummary `json:"local_data"`
				Marker         *migration.Marker          `json:"marker,omitempty"`
			}{a.migrator.NeedsMigration(ctx), data, marker})
		},
	}
}

func newMigrateResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the migration marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.migrator.ResetMigrationStatus(ctx); err != nil {
				return fmt.Errorf("reset migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration marker cleared")
			return nil
		},
	}
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-migrate",
		Short: "Apply the remote Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			pg, err := remote.NewPostgres(ctx, remote.Config{
				DatabaseURL: cfg.DatabaseURL,
				Schema:      cfg.SupabaseSchema,
				UserID:      cfg.SupabaseUserID,
			}, logger, nil)
			if err != nil {
				return fmt.Errorf("init remote: %w", err)
			}
			defer pg.Close()

			schema, err := fs.Sub(migrations.Files, "postgres")
			if err != nil {
				return fmt.Errorf("load remote schema: %w", err)
			}
			if err := pg.RunMigrations(ctx, schema); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("database migrated")
			return nil
		},
	}
}
