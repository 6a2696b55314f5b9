package postgres

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// columnTypes maps a dataset's business-key/payload column names to their
// PostgreSQL column type. Columns absent from this map default to TEXT,
// which covers every MedGen payload field except the few below.
var columnTypes = map[medgen.Name]map[string]string{
	medgen.Names: {
		"suppress": "BOOLEAN",
	},
}

func columnType(dataset medgen.Name, column string) string {
	if byDataset, ok := columnTypes[dataset]; ok {
		if t, ok := byDataset[column]; ok {
			return t
		}
	}
	return "TEXT"
}

// allColumnDefs renders "name TYPE" for every business-key and payload
// column of schema, business-key columns first.
func allColumnDefs(schema medgen.Schema) []string {
	defs := make([]string, 0, len(schema.Columns()))
	for _, c := range schema.BusinessKeyColumns() {
		defs = append(defs, fmt.Sprintf("%s %s NOT NULL", quoteIdent(c), columnType(schema.Name(), c)))
	}
	for _, c := range schema.PayloadColumns() {
		defs = append(defs, fmt.Sprintf("%s %s", quoteIdent(c), columnType(schema.Name(), c)))
	}
	return defs
}

// quotedColumns returns the business-key+payload column names, quoted, in
// wire order.
func quotedColumns(schema medgen.Schema) []string {
	cols := schema.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return out
}

// stagingCreateDDL builds the CREATE UNLOGGED TABLE statement for a
// dataset's staging table: business-key+payload columns, no indexes, no
// constraints except NOT NULL on business-key columns, plus raw_record.
func stagingCreateDDL(schema medgen.Schema) string {
	cols := allColumnDefs(schema)
	cols = append(cols, "raw_record TEXT")
	return fmt.Sprintf(
		"CREATE UNLOGGED TABLE IF NOT EXISTS %s (\n\t%s\n)",
		quoteIdent(StagingTable(schema.Name())),
		strings.Join(cols, ",\n\t"),
	)
}

// productionCreateDDL builds the CREATE TABLE statement for a dataset's
// production table: surrogate id, business-key+payload columns,
// raw_record, is_active, last_updated_at, first_seen_at. The statement
// creates no business-key index; businessKeyUniqueIndexDDL builds that.
func productionCreateDDL(schema medgen.Schema) string {
	cols := allColumnDefs(schema)
	cols = append(cols,
		"raw_record TEXT",
		"is_active BOOLEAN NOT NULL DEFAULT true",
		"last_updated_at TIMESTAMP NOT NULL",
		"first_seen_at TIMESTAMP NOT NULL",
	)
	table := ProductionTable(schema.Name())
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\tid BIGSERIAL PRIMARY KEY,\n\t%s\n)",
		quoteIdent(table),
		strings.Join(cols, ",\n\t"),
	)
}

// businessKeyUniqueIndexDDL builds the partial unique index enforcing
// business-key uniqueness across active rows on tableName (used for both
// production and prod_new during a full-load swap).
func businessKeyUniqueIndexDDL(schema medgen.Schema, tableName, indexName string) string {
	bkCols := make([]string, len(schema.BusinessKeyColumns()))
	for i, c := range schema.BusinessKeyColumns() {
		bkCols[i] = quoteIdent(c)
	}
	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE is_active",
		quoteIdent(indexName),
		quoteIdent(tableName),
		strings.Join(bkCols, ", "),
	)
}

// businessKeyJoinCondition builds "s.col1 = p.col1 AND s.col2 = p.col2 ..."
// for the CDC joins.
func businessKeyJoinCondition(schema medgen.Schema, leftAlias, rightAlias string) string {
	parts := make([]string, len(schema.BusinessKeyColumns()))
	for i, c := range schema.BusinessKeyColumns() {
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", leftAlias, quoteIdent(c), rightAlias, quoteIdent(c))
	}
	return strings.Join(parts, " AND ")
}

// rowHashExpr builds MD5(ROW(col1, col2, ...)::text) over the payload
// columns of schema for alias. Business-key columns are intentionally
// excluded: they are the join key, so any business-key difference is a
// different row entirely, not an update.
func rowHashExpr(schema medgen.Schema, alias string) string {
	if len(schema.PayloadColumns()) == 0 {
		// No payload columns: every matched business key is definitionally
		// identical, so the hash is constant and no row is ever an update
		// — only inserts/deletes/reactivations apply.
		return "MD5('')"
	}
	cols := make([]string, len(schema.PayloadColumns()))
	for i, c := range schema.PayloadColumns() {
		cols[i] = fmt.Sprintf("%s.%s", alias, quoteIdent(c))
	}
	return fmt.Sprintf("MD5(ROW(%s)::text)", strings.Join(cols, ", "))
}
