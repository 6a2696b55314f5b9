package postgres

import (
	"context"
	"fmt"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// Cleanup drops the per-run staging and CDC tables for the given datasets.
// Tolerates tables that were never created (e.g. a dataset that failed
// before InitializeStaging ran for it).
func (d *Driver) Cleanup(ctx context.Context, schemas []medgen.Schema) error {
	pool, err := d.pgPool()
	if err != nil {
		return err
	}

	for _, schema := range schemas {
		name := schema.Name()
		tables := []string{
			StagingTable(name),
			CDCInsertsTable(name),
			CDCUpdatesTable(name),
			CDCDeletesTable(name),
		}
		for _, t := range tables {
			ddl := fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(t))
			if _, err := pool.Exec(ctx, ddl); err != nil {
				return loaderrors.Load(fmt.Sprintf("failed to drop %s", t), err)
			}
		}
	}
	return nil
}
