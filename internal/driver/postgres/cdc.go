package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/medgen-loader/internal/driver"
	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// ExecuteCDC computes the insert/update/delete sets between the staging
// snapshot and the current production table for schema. Duplicate business
// keys in staging fail deterministically with a DataError naming the
// offending keys: this loader never lets one file silently shadow another.
func (d *Driver) ExecuteCDC(ctx context.Context, schema medgen.Schema) (driver.CDCCounts, error) {
	pool, err := d.pgPool()
	if err != nil {
		return driver.CDCCounts{}, err
	}

	if dupKeys, err := d.findDuplicateBusinessKeys(ctx, schema); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to check for duplicate business keys", err)
	} else if len(dupKeys) > 0 {
		return driver.CDCCounts{}, loaderrors.Data(
			fmt.Sprintf("duplicate business key(s) in staging for %s", schema.Name()),
			dupKeys...,
		)
	}

	staging := quoteIdent(StagingTable(schema.Name()))
	prod := quoteIdent(ProductionTable(schema.Name()))
	insertsTable := quoteIdent(CDCInsertsTable(schema.Name()))
	updatesTable := quoteIdent(CDCUpdatesTable(schema.Name()))
	deletesTable := quoteIdent(CDCDeletesTable(schema.Name()))

	colDefs := append(allColumnDefs(schema), "raw_record TEXT")
	colList := strings.Join(quotedColumns(schema), ", ") + ", raw_record"

	createDDLs := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", insertsTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", updatesTable),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", deletesTable),
		fmt.Sprintf("CREATE UNLOGGED TABLE %s (\n\t%s\n)", insertsTable, strings.Join(colDefs, ",\n\t")),
		fmt.Sprintf("CREATE UNLOGGED TABLE %s (\n\t%s\n)", updatesTable, strings.Join(colDefs, ",\n\t")),
		fmt.Sprintf("CREATE UNLOGGED TABLE %s (id BIGINT NOT NULL)", deletesTable),
	}
	for _, ddl := range createDDLs {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return driver.CDCCounts{}, loaderrors.Load("failed to prepare CDC tables", err)
		}
	}

	bkJoin := businessKeyJoinCondition(schema, "s", "p")
	firstBK := quoteIdent(schema.BusinessKeyColumns()[0])

	// Deletes: active production rows with no matching staging row.
	deleteSQL := fmt.Sprintf(`
		INSERT INTO %s (id)
		SELECT p.id FROM %s p
		LEFT JOIN %s s ON %s
		WHERE s.%s IS NULL AND p.is_active = true
	`, deletesTable, prod, staging, bkJoin, firstBK)
	if _, err := pool.Exec(ctx, deleteSQL); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to compute CDC deletes", err)
	}

	// Inserts: staging rows whose business key has no row in production,
	// active or not (invariant 3: a reactivation reuses the existing id
	// rather than inserting a new row).
	insertSQL := fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s, s.raw_record FROM %s s
		LEFT JOIN %s p ON %s
		WHERE p.%s IS NULL
	`, insertsTable, colList, selectList(schema, "s"), staging, prod, bkJoin, firstBK)
	if _, err := pool.Exec(ctx, insertSQL); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to compute CDC inserts", err)
	}

	// Updates: rows present in both whose payload hash differs, or whose
	// only difference is a reactivation (production row currently
	// inactive).
	hashS := rowHashExpr(schema, "s")
	hashP := rowHashExpr(schema, "p")
	updateSQL := fmt.Sprintf(`
		INSERT INTO %s (%s)
		SELECT %s, s.raw_record FROM %s s
		JOIN %s p ON %s
		WHERE %s <> %s OR p.is_active = false
	`, updatesTable, colList, selectList(schema, "s"), staging, prod, bkJoin, hashS, hashP)
	if _, err := pool.Exec(ctx, updateSQL); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to compute CDC updates", err)
	}

	counts := driver.CDCCounts{}
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", insertsTable)).Scan(&counts.Inserts); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to count CDC inserts", err)
	}
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", updatesTable)).Scan(&counts.Updates); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to count CDC updates", err)
	}
	if err := pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", deletesTable)).Scan(&counts.Deletes); err != nil {
		return driver.CDCCounts{}, loaderrors.Load("failed to count CDC deletes", err)
	}

	return counts, nil
}

// selectList renders "<alias>.col1, <alias>.col2, ..." over a schema's
// business-key+payload columns, for use as a SELECT list.
func selectList(schema medgen.Schema, alias string) string {
	cols := schema.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s.%s", alias, quoteIdent(c))
	}
	return strings.Join(out, ", ")
}

// findDuplicateBusinessKeys returns the business-key tuples (rendered as
// "col=val, col=val") that appear more than once in staging.
func (d *Driver) findDuplicateBusinessKeys(ctx context.Context, schema medgen.Schema) ([]string, error) {
	pool, err := d.pgPool()
	if err != nil {
		return nil, err
	}

	bkCols := schema.BusinessKeyColumns()
	quotedBK := make([]string, len(bkCols))
	for i, c := range bkCols {
		quotedBK[i] = quoteIdent(c)
	}
	groupBy := strings.Join(quotedBK, ", ")

	query := fmt.Sprintf(
		"SELECT %s, count(*) FROM %s GROUP BY %s HAVING count(*) > 1",
		groupBy, quoteIdent(StagingTable(schema.Name())), groupBy,
	)

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dupKeys []string
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(bkCols))
		for i, c := range bkCols {
			parts[i] = fmt.Sprintf("%s=%v", c, vals[i])
		}
		dupKeys = append(dupKeys, "("+strings.Join(parts, ", ")+")")
	}
	return dupKeys, rows.Err()
}
