// Package postgres implements internal/driver.Driver against a real
// PostgreSQL server using its native COPY FROM STDIN protocol, unlogged
// staging tables, hash-based CDC, and rename-based atomic swap.
package postgres

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
	"github.com/malbeclabs/medgen-loader/internal/retry"
)

// Options carries PostgreSQL-specific configuration.
type Options struct {
	// StatementTimeoutSeconds sets statement_timeout on every pooled
	// connection, bounding CDC/apply statements (and bulk loads); zero
	// disables the timeout.
	StatementTimeoutSeconds int
	// MaxConns bounds the pool size. Zero means 10.
	MaxConns int32
	// CaptureRawRecord is accepted as configuration but not read by the
	// driver: raw_record is always populated from the encoded stream.
	CaptureRawRecord bool
}

func (o *Options) setDefaults() {
	if o.MaxConns == 0 {
		o.MaxConns = 10
	}
}

// Driver is the PostgreSQL backend adapter.
type Driver struct {
	log     *slog.Logger
	connStr string
	opts    Options

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New constructs a Driver. It does not connect; call Connect first.
func New(log *slog.Logger, connStr string, opts Options) (*Driver, error) {
	opts.setDefaults()
	return &Driver{log: log, connStr: connStr, opts: opts}, nil
}

// Connect establishes the connection pool. Idempotent: redundant calls are
// no-ops.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		return nil
	}

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		cfg, parseErr := pgxpool.ParseConfig(d.connStr)
		if parseErr != nil {
			return loaderrors.Config("invalid postgres connection string: %v", parseErr)
		}
		cfg.MaxConns = d.opts.MaxConns
		cfg.MaxConnLifetime = time.Hour
		cfg.MaxConnIdleTime = 30 * time.Minute
		if d.opts.StatementTimeoutSeconds > 0 {
			cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(d.opts.StatementTimeoutSeconds * 1000)
		}

		pool, poolErr := pgxpool.NewWithConfig(ctx, cfg)
		if poolErr != nil {
			return loaderrors.Connection("failed to create postgres pool", poolErr)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if pingErr := pool.Ping(pingCtx); pingErr != nil {
			pool.Close()
			return loaderrors.Connection("failed to reach postgres", pingErr)
		}
		d.pool = pool
		return nil
	})
	if err != nil {
		return err
	}

	d.log.Info("connected to postgres")
	return nil
}

// Close releases the pool. Idempotent.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
		d.pool = nil
	}
	return nil
}

func (d *Driver) pgPool() (*pgxpool.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil, loaderrors.Connection("driver not connected", nil)
	}
	return d.pool, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ProductionTable returns the stable production table name for a dataset.
func ProductionTable(name medgen.Name) string { return string(name) }

// StagingTable returns the ephemeral per-run staging table name
// (staging_<dataset>).
func StagingTable(name medgen.Name) string { return "staging_" + string(name) }

// BackupTable returns the one-generation backup table name left behind by
// a full-load swap (<prod>_backup).
func BackupTable(name medgen.Name) string { return string(name) + "_backup" }

// CDCInsertsTable, CDCUpdatesTable, CDCDeletesTable return the ephemeral
// per-run CDC table names.
func CDCInsertsTable(name medgen.Name) string { return "cdc_inserts_" + string(name) }
func CDCUpdatesTable(name medgen.Name) string { return "cdc_updates_" + string(name) }
func CDCDeletesTable(name medgen.Name) string { return "cdc_deletes_" + string(name) }

// newTable is the intermediate table a full load builds before the
// rename-based swap.
func newTable(name medgen.Name) string { return string(name) + "_new" }
