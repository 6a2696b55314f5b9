// Package audit records the lifecycle of a load run against etl_audit_log
// and etl_run_details, giving operators a queryable history of every run
// independent of log retention.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
)

// Status is a run's terminal outcome.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// DatasetMetrics is one dataset's contribution to a run, recorded as a row
// in etl_run_details.
type DatasetMetrics struct {
	Dataset      string
	RowsLoaded   int64
	BytesLoaded  int64
	RowsInserted int64
	RowsUpdated  int64
	RowsDeleted  int64
	Duration     time.Duration
}

// Log writes run lifecycle events to etl_audit_log and etl_run_details. A
// failure to write an audit row is itself an AuditError, but it never
// masks the run's actual terminal outcome — callers log the AuditError and
// continue reporting the original success or failure.
type Log struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// New wraps an already-connected pool for audit writes.
func New(log *slog.Logger, pool *pgxpool.Pool) *Log {
	return &Log{log: log, pool: pool}
}

// Start inserts the opening etl_audit_log row for a run and returns its id,
// used to key the per-dataset detail rows and the closing Finish call.
func (a *Log) Start(ctx context.Context, runID uuid.UUID, sourceVersion, mode string) (int64, error) {
	var logID int64
	err := a.pool.QueryRow(ctx, `
		INSERT INTO etl_audit_log (run_id, mode, source_version, status, started_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, runID, mode, sourceVersion, StatusRunning).Scan(&logID)
	if err != nil {
		return 0, loaderrors.Audit("failed to write run start", err)
	}
	return logID, nil
}

// Detail inserts one dataset's metrics for a run.
func (a *Log) Detail(ctx context.Context, logID int64, d DatasetMetrics) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO etl_run_details
			(log_id, dataset, rows_loaded, bytes_loaded, rows_inserted, rows_updated, rows_deleted, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, logID, d.Dataset, d.RowsLoaded, d.BytesLoaded, d.RowsInserted, d.RowsUpdated, d.RowsDeleted, d.Duration.Milliseconds())
	if err != nil {
		return loaderrors.Audit("failed to write run detail", err)
	}
	return nil
}

// Finish closes out a run's etl_audit_log row with its terminal status.
func (a *Log) Finish(ctx context.Context, logID int64, status Status, errMsg string) error {
	var errArg any
	if errMsg != "" {
		errArg = errMsg
	}
	_, err := a.pool.Exec(ctx, `
		UPDATE etl_audit_log SET status = $2, error_message = $3, finished_at = now()
		WHERE id = $1
	`, logID, status, errArg)
	if err != nil {
		return loaderrors.Audit("failed to write run finish", err)
	}
	return nil
}

// LatestRun is the summary row returned by the admin HTTP sidecar.
type LatestRun struct {
	LogID         int64      `json:"log_id"`
	RunID         uuid.UUID  `json:"run_id"`
	Mode          string     `json:"mode"`
	SourceVersion string     `json:"source_version"`
	Status        Status     `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Latest returns the most recently started run, or (LatestRun{}, false) if
// no run has ever been recorded.
func (a *Log) Latest(ctx context.Context) (LatestRun, bool, error) {
	var r LatestRun
	err := a.pool.QueryRow(ctx, `
		SELECT id, run_id, mode, source_version, status, error_message, started_at, finished_at
		FROM etl_audit_log
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&r.LogID, &r.RunID, &r.Mode, &r.SourceVersion, &r.Status, &r.ErrorMessage, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LatestRun{}, false, nil
		}
		return LatestRun{}, false, loaderrors.Audit("failed to read latest run", err)
	}
	return r, true, nil
}
