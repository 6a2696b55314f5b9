// Package postgres embeds the loader's own schema migrations: the
// etl_audit_log and etl_run_details tables that back the audit package.
// Dataset production/staging DDL is not migrated here — the driver creates
// those lazily per dataset, since the dataset list is fixed at compile time
// but a new PostgreSQL server starts with neither table present.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate runs every pending migration against connStr using goose, then
// closes its own database/sql connection. Safe to call on every process
// start: goose tracks applied versions in its own bookkeeping table.
func Migrate(ctx context.Context, log *slog.Logger, connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(MigrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("audit schema migrations complete")
	return nil
}
