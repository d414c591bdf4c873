// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config and retries until the database is
// reachable or the context ends. Migrate, Rollback and Version run goose
// migrations from an fs.FS, usually an embedded directory:
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, slog.Default()); err != nil {
//		return err
//	}
//
// Healthcheck returns a check suitable for readiness endpoints. IsNotFoundError,
// IsDuplicateKeyError and IsForeignKeyViolationError classify pgx errors.
package pg
