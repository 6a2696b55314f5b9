package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"cui"`, quoteIdent("cui"))
	assert.Equal(t, `"weird""name"`, quoteIdent(`weird"name`))
}

func TestAllColumnDefs(t *testing.T) {
	schema := medgen.Schemas[medgen.Names]
	defs := allColumnDefs(schema)

	require.Len(t, defs, 5)
	assert.Equal(t, `"cui" TEXT NOT NULL`, defs[0])
	assert.Equal(t, `"suppress" BOOLEAN`, defs[4], "suppress has a non-default column type")
}

func TestAllColumnDefs_NoPayloadColumns(t *testing.T) {
	schema := medgen.Schemas[medgen.SourceLinks]
	defs := allColumnDefs(schema)
	assert.Len(t, defs, len(schema.BusinessKeyColumns()))
}

func TestQuotedColumns_WireOrder(t *testing.T) {
	schema := medgen.Schemas[medgen.Concepts]
	got := quotedColumns(schema)
	assert.Equal(t, []string{`"cui"`, `"preferred_name"`, `"definition"`}, got)
}

func TestStagingCreateDDL(t *testing.T) {
	ddl := stagingCreateDDL(medgen.Schemas[medgen.Concepts])
	assert.Contains(t, ddl, "CREATE UNLOGGED TABLE IF NOT EXISTS \"staging_concepts\"")
	assert.Contains(t, ddl, `"cui" TEXT NOT NULL`)
	assert.Contains(t, ddl, "raw_record TEXT")
	assert.NotContains(t, ddl, "is_active", "staging tables carry no loader-managed columns")
}

func TestProductionCreateDDL(t *testing.T) {
	ddl := productionCreateDDL(medgen.Schemas[medgen.Concepts])
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "concepts"`)
	assert.Contains(t, ddl, "id BIGSERIAL PRIMARY KEY")
	assert.Contains(t, ddl, "is_active BOOLEAN NOT NULL DEFAULT true")
	assert.Contains(t, ddl, "last_updated_at TIMESTAMP NOT NULL")
	assert.Contains(t, ddl, "first_seen_at TIMESTAMP NOT NULL")
}

func TestBusinessKeyUniqueIndexDDL(t *testing.T) {
	ddl := businessKeyUniqueIndexDDL(medgen.Schemas[medgen.Relationships], "relationships", "idx_relationships_bk")
	assert.Contains(t, ddl, `CREATE UNIQUE INDEX IF NOT EXISTS "idx_relationships_bk"`)
	assert.Contains(t, ddl, `("cui1", "relationship", "cui2", "source")`)
	assert.Contains(t, ddl, "WHERE is_active")
}

func TestBusinessKeyJoinCondition(t *testing.T) {
	cond := businessKeyJoinCondition(medgen.Schemas[medgen.Concepts], "s", "p")
	assert.Equal(t, `s."cui" = p."cui"`, cond)

	cond = businessKeyJoinCondition(medgen.Schemas[medgen.Relationships], "s", "p")
	assert.Equal(t, `s."cui1" = p."cui1" AND s."relationship" = p."relationship" AND s."cui2" = p."cui2" AND s."source" = p."source"`, cond)
}

func TestRowHashExpr(t *testing.T) {
	expr := rowHashExpr(medgen.Schemas[medgen.Concepts], "s")
	assert.Equal(t, `MD5(ROW(s."preferred_name", s."definition")::text)`, expr)
}

func TestRowHashExpr_NoPayloadColumns(t *testing.T) {
	expr := rowHashExpr(medgen.Schemas[medgen.SourceLinks], "s")
	assert.Equal(t, "MD5('')", expr, "a business-key-only dataset never produces an update, only inserts/deletes/reactivations")
}
