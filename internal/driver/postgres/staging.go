package postgres

import (
	"context"
	"fmt"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// InitializeStaging creates or truncates the staging tables for the given
// datasets. Safe to run twice: CREATE ... IF NOT EXISTS followed by an
// unconditional TRUNCATE.
func (d *Driver) InitializeStaging(ctx context.Context, schemas []medgen.Schema) error {
	pool, err := d.pgPool()
	if err != nil {
		return err
	}

	for _, schema := range schemas {
		if _, err := pool.Exec(ctx, stagingCreateDDL(schema)); err != nil {
			return loaderrors.Load(fmt.Sprintf("failed to create staging table for %s", schema.Name()), err)
		}
		truncateSQL := fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(StagingTable(schema.Name())))
		if _, err := pool.Exec(ctx, truncateSQL); err != nil {
			return loaderrors.Load(fmt.Sprintf("failed to truncate staging table for %s", schema.Name()), err)
		}
	}
	return nil
}

// ReconcileOrphans truncates staging tables left behind by a run that lost
// its connection before cleanup ran. It tolerates tables that don't exist
// yet.
func (d *Driver) ReconcileOrphans(ctx context.Context, schemas []medgen.Schema) error {
	pool, err := d.pgPool()
	if err != nil {
		return err
	}

	for _, schema := range schemas {
		exists, err := d.tableExists(ctx, StagingTable(schema.Name()))
		if err != nil {
			return loaderrors.Load("failed to check for orphaned staging table", err)
		}
		if !exists {
			continue
		}
		truncateSQL := fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(StagingTable(schema.Name())))
		if _, err := pool.Exec(ctx, truncateSQL); err != nil {
			return loaderrors.Load(fmt.Sprintf("failed to reconcile orphaned staging table for %s", schema.Name()), err)
		}
		d.log.Warn("reconciled orphaned staging table", "dataset", schema.Name())
	}
	return nil
}

func (d *Driver) tableExists(ctx context.Context, table string) (bool, error) {
	pool, err := d.pgPool()
	if err != nil {
		return false, err
	}
	var exists bool
	err = pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_tables WHERE tablename = $1)`, table).Scan(&exists)
	return exists, err
}
