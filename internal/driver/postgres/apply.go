package postgres

import (
	"context"
	"fmt"

	"github.com/malbeclabs/medgen-loader/internal/driver"
	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// ApplyChanges promotes staging to production. In full mode it builds a
// fresh table from staging and swaps it in with table renames; in delta
// mode it applies the CDC sets computed by ExecuteCDC inside one
// transaction, in a fixed order: deactivate, then update, then insert.
func (d *Driver) ApplyChanges(ctx context.Context, schema medgen.Schema, mode driver.Mode) (driver.ApplyCounts, error) {
	switch mode {
	case driver.ModeFull:
		return d.applyFull(ctx, schema)
	case driver.ModeDelta:
		return d.applyDelta(ctx, schema)
	default:
		return driver.ApplyCounts{}, loaderrors.Config("unknown load mode %q", mode)
	}
}

// applyFull builds prod_new from the staging snapshot, indexes it, and
// swaps it in for the live production table via rename. The previous
// production table becomes the single-generation backup.
func (d *Driver) applyFull(ctx context.Context, schema medgen.Schema) (driver.ApplyCounts, error) {
	pool, err := d.pgPool()
	if err != nil {
		return driver.ApplyCounts{}, err
	}

	name := schema.Name()
	newT := quoteIdent(newTable(name))
	staging := quoteIdent(StagingTable(name))
	prod := quoteIdent(ProductionTable(name))
	backup := quoteIdent(BackupTable(name))

	colList := quotedColumns(schema)
	selectCols := ""
	for i, c := range colList {
		if i > 0 {
			selectCols += ", "
		}
		selectCols += "s." + c
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", newT)); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to clear stale prod_new", err)
	}

	buildSQL := fmt.Sprintf(`
		CREATE TABLE %s AS
		SELECT
			row_number() OVER () AS id,
			%s,
			s.raw_record,
			true AS is_active,
			now()::timestamp AS last_updated_at,
			now()::timestamp AS first_seen_at
		FROM %s s
	`, newT, selectCols, staging)
	if _, err := pool.Exec(ctx, buildSQL); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load(fmt.Sprintf("failed to build %s", newTable(name)), err)
	}

	var inserted int64
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", newT)).Scan(&inserted); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to count prod_new rows", err)
	}

	alterDDLs := []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN id SET NOT NULL", newT),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN id ADD GENERATED BY DEFAULT AS IDENTITY (START WITH %d)", newT, inserted+1),
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id)", newT),
	}
	for _, ddl := range alterDDLs {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return driver.ApplyCounts{}, loaderrors.Load("failed to constrain prod_new", err)
		}
	}
	if _, err := pool.Exec(ctx, businessKeyUniqueIndexDDL(schema, newTable(name), newTable(name)+"_bk_idx")); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to index prod_new", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to begin swap transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	swapDDLs := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", backup),
	}
	exists, err := d.tableExists(ctx, ProductionTable(name))
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to check for existing production table", err)
	}
	// The business-key index follows its table through the renames, so it is
	// renamed too; this frees the <name>_new_bk_idx name for the next run.
	if exists {
		swapDDLs = append(swapDDLs,
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", prod, backup),
			fmt.Sprintf("ALTER INDEX IF EXISTS %s RENAME TO %s", quoteIdent(ProductionTable(name)+"_bk_idx"), quoteIdent(BackupTable(name)+"_bk_idx")),
		)
	}
	swapDDLs = append(swapDDLs,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", newT, prod),
		fmt.Sprintf("ALTER INDEX %s RENAME TO %s", quoteIdent(newTable(name)+"_bk_idx"), quoteIdent(ProductionTable(name)+"_bk_idx")),
	)

	for _, ddl := range swapDDLs {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return driver.ApplyCounts{}, loaderrors.Load("failed to swap production table", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to commit production swap", err)
	}
	committed = true

	return driver.ApplyCounts{Inserted: inserted}, nil
}

// applyDelta applies the previously computed CDC sets to production inside
// one transaction: deactivate rows named in cdc_deletes, overwrite payload
// and flip is_active true for rows named in cdc_updates, then insert
// cdc_inserts as brand-new rows. This order matters: an update may also be
// a reactivation of a row a prior (non-existent, since this all runs in
// one transaction) delete would otherwise have touched.
func (d *Driver) applyDelta(ctx context.Context, schema medgen.Schema) (driver.ApplyCounts, error) {
	pool, err := d.pgPool()
	if err != nil {
		return driver.ApplyCounts{}, err
	}

	name := schema.Name()
	prod := quoteIdent(ProductionTable(name))
	insertsTable := quoteIdent(CDCInsertsTable(name))
	updatesTable := quoteIdent(CDCUpdatesTable(name))
	deletesTable := quoteIdent(CDCDeletesTable(name))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to begin delta apply transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	deactivateSQL := fmt.Sprintf(`
		UPDATE %s SET is_active = false, last_updated_at = now()::timestamp
		WHERE id IN (SELECT id FROM %s)
	`, prod, deletesTable)
	deactivateTag, err := tx.Exec(ctx, deactivateSQL)
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to apply CDC deletes", err)
	}

	bkJoin := businessKeyJoinCondition(schema, "u", "p")
	setClauses := ""
	for i, c := range schema.PayloadColumns() {
		if i > 0 {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = u.%s", quoteIdent(c), quoteIdent(c))
	}
	if setClauses != "" {
		setClauses += ", "
	}
	updateSQL := fmt.Sprintf(`
		UPDATE %s p SET %sraw_record = u.raw_record, is_active = true, last_updated_at = now()::timestamp
		FROM %s u
		WHERE %s
	`, prod, setClauses, updatesTable, bkJoin)
	updateTag, err := tx.Exec(ctx, updateSQL)
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to apply CDC updates", err)
	}

	colList := quotedColumns(schema)
	selectCols := ""
	for i, c := range colList {
		if i > 0 {
			selectCols += ", "
		}
		selectCols += "i." + c
	}
	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (%s, raw_record, is_active, last_updated_at, first_seen_at)
		SELECT %s, i.raw_record, true, now()::timestamp, now()::timestamp
		FROM %s i
	`, prod, joinColumns(colList), selectCols, insertsTable)
	insertTag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to apply CDC inserts", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return driver.ApplyCounts{}, loaderrors.Load("failed to commit delta apply", err)
	}
	committed = true

	return driver.ApplyCounts{
		Inserted: insertTag.RowsAffected(),
		Updated:  updateTag.RowsAffected(),
		Deleted:  deactivateTag.RowsAffected(),
	}, nil
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
