package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/hookrelay/migrations"
	"github.com/dmitrymomot/hookrelay/pkg/config"
	"github.com/dmitrymomot/hookrelay/pkg/logger"
	"github.com/dmitrymomot/hookrelay/pkg/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
			return pg.Migrate(ctx, pool, migrations.FS, cfg, log)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
			return pg.Rollback(ctx, pool, migrations.FS, cfg, log)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
			v, err := pg.Version(ctx, pool, migrations.FS, cfg, log)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateDownCmd, migrateVersionCmd)
}

// withDB opens a pool from the environment without starting anything else.
func withDB(ctx context.Context, fn func(context.Context, *pgxpool.Pool, pg.Config, *slog.Logger) error) error {
	var (
		dbCfg  pg.Config
		logCfg logger.Config
	)
	if err := config.Load(&dbCfg); err != nil {
		return err
	}
	if err := config.Load(&logCfg); err != nil {
		return err
	}
	log, err := newLogger(logCfg)
	if err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return fn(ctx, pool, dbCfg, log)
}
