// Package orchestrator drives one complete load run end to end: connect,
// reconcile orphaned state from a prior interrupted run, process every
// dataset in dependency order, and record the outcome in the audit log.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/medgen-loader/internal/audit"
	"github.com/malbeclabs/medgen-loader/internal/driver"
	"github.com/malbeclabs/medgen-loader/internal/encode"
	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// Config describes one run.
type Config struct {
	Driver        driver.Driver
	Auditor       *audit.Log
	Sources       map[medgen.Name]medgen.RecordSource
	Mode          driver.Mode
	SourceVersion string
	// MaxParseErrors bounds how many malformed records per dataset the run
	// tolerates before failing; zero means zero tolerance.
	MaxParseErrors int
}

// DatasetResult is one dataset's outcome within a run.
type DatasetResult struct {
	Dataset      medgen.Name
	RowsLoaded   int64
	BytesLoaded  int64
	SkippedRows  int
	CDCCounts    driver.CDCCounts
	ApplyCounts  driver.ApplyCounts
	Duration     time.Duration
}

// Summary is the outcome of a complete run.
type Summary struct {
	RunID    uuid.UUID
	LogID    int64
	Mode     driver.Mode
	Datasets []DatasetResult
	Duration time.Duration
}

// Run executes one complete load run and returns its summary. On failure
// after connecting, it records the failure through cfg.Auditor, which
// writes over its own connection pool rather than the driver's, and then
// returns the original error. It does not open a new connection itself.
func Run(ctx context.Context, log *slog.Logger, cfg Config) (Summary, error) {
	runID := uuid.New()
	started := time.Now()

	if err := cfg.Driver.Connect(ctx); err != nil {
		return Summary{}, err
	}

	logID, err := cfg.Auditor.Start(ctx, runID, cfg.SourceVersion, string(cfg.Mode))
	if err != nil {
		log.Error("failed to record run start", "error", err)
	}

	summary, runErr := run(ctx, log, cfg, runID, logID)
	summary.Duration = time.Since(started)

	status := audit.StatusSuccess
	errMsg := ""
	if runErr != nil {
		status = audit.StatusFailed
		errMsg = runErr.Error()
	}
	runDuration.WithLabelValues(string(cfg.Mode), string(status)).Observe(summary.Duration.Seconds())

	if finishErr := cfg.Auditor.Finish(ctx, logID, status, errMsg); finishErr != nil {
		log.Error("failed to record run finish", "error", finishErr, "run_id", runID)
	}

	if cErr := cfg.Driver.Close(ctx); cErr != nil {
		log.Warn("failed to close driver cleanly", "error", cErr)
	}

	return summary, runErr
}

func run(ctx context.Context, log *slog.Logger, cfg Config, runID uuid.UUID, logID int64) (Summary, error) {
	summary := Summary{RunID: runID, LogID: logID, Mode: cfg.Mode}

	var schemas []medgen.Schema
	for _, name := range medgen.LoadOrder {
		if _, ok := cfg.Sources[name]; ok {
			schemas = append(schemas, medgen.Schemas[name])
		}
	}

	if err := cfg.Driver.ReconcileOrphans(ctx, schemas); err != nil {
		return summary, err
	}

	for _, schema := range schemas {
		name := schema.Name()
		datasetStart := time.Now()

		result, err := processDataset(ctx, log, cfg, schema)
		result.Duration = time.Since(datasetStart)
		summary.Datasets = append(summary.Datasets, result)

		if err != nil {
			return summary, fmt.Errorf("processing dataset %s: %w", name, err)
		}

		if detailErr := cfg.Auditor.Detail(ctx, logID, audit.DatasetMetrics{
			Dataset:      string(name),
			RowsLoaded:   result.RowsLoaded,
			BytesLoaded:  result.BytesLoaded,
			RowsInserted: result.ApplyCounts.Inserted,
			RowsUpdated:  result.ApplyCounts.Updated,
			RowsDeleted:  result.ApplyCounts.Deleted,
			Duration:     result.Duration,
		}); detailErr != nil {
			log.Error("failed to record dataset detail", "error", detailErr, "dataset", name)
		}

		rowsTotal.WithLabelValues(string(name), "loaded").Add(float64(result.RowsLoaded))
		rowsTotal.WithLabelValues(string(name), "inserted").Add(float64(result.ApplyCounts.Inserted))
		rowsTotal.WithLabelValues(string(name), "updated").Add(float64(result.ApplyCounts.Updated))
		rowsTotal.WithLabelValues(string(name), "deleted").Add(float64(result.ApplyCounts.Deleted))
	}

	if err := cfg.Driver.Cleanup(ctx, schemas); err != nil {
		return summary, err
	}

	return summary, nil
}

// processDataset runs one dataset through staging, the bulk-load pipeline,
// CDC (delta mode only), and apply.
func processDataset(ctx context.Context, log *slog.Logger, cfg Config, schema medgen.Schema) (DatasetResult, error) {
	name := schema.Name()
	result := DatasetResult{Dataset: name}

	if err := cfg.Driver.InitializeStaging(ctx, []medgen.Schema{schema}); err != nil {
		return result, err
	}

	src := newTolerantSource(log, cfg.Sources[name], cfg.MaxParseErrors)
	rowsLoaded, bytesLoaded, err := bulkLoadPipeline(ctx, cfg.Driver, schema, src)
	result.RowsLoaded = rowsLoaded
	result.BytesLoaded = bytesLoaded
	result.SkippedRows = src.skipped
	if err != nil {
		return result, err
	}

	if cfg.Mode == driver.ModeDelta {
		counts, err := cfg.Driver.ExecuteCDC(ctx, schema)
		result.CDCCounts = counts
		if err != nil {
			return result, err
		}
	}

	applyCounts, err := cfg.Driver.ApplyChanges(ctx, schema, cfg.Mode)
	result.ApplyCounts = applyCounts
	if err != nil {
		return result, err
	}

	return result, nil
}

// bulkLoadPipeline wires the record encoder and the driver's bulk-load call
// as a producer/consumer pair over a bounded pipe: the encoder never holds
// more than one rendered row, and the pipe itself bounds in-flight bytes,
// so neither side buffers the full dataset.
func bulkLoadPipeline(ctx context.Context, d driver.Driver, schema medgen.Schema, src medgen.RecordSource) (int64, int64, error) {
	pr, pw := io.Pipe()
	cr := encode.NewCopyReader(ctx, src, schema)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := io.Copy(pw, cr)
		if err != nil {
			_ = pw.CloseWithError(err)
			return err
		}
		return pw.Close()
	})

	var rowsLoaded, bytesLoaded int64
	g.Go(func() error {
		var err error
		rowsLoaded, bytesLoaded, err = d.BulkLoad(gctx, schema, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return 0, 0, loaderrors.Load(fmt.Sprintf("bulk-load pipeline failed for %s", schema.Name()), err)
	}
	return rowsLoaded, bytesLoaded, nil
}
