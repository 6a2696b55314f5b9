package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medgen-loader/internal/driver"
	"github.com/malbeclabs/medgen-loader/internal/driver/postgres"
	"github.com/malbeclabs/medgen-loader/internal/driver/postgres/dbtesting"
	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

func testDriver(t *testing.T) (*postgres.Driver, string) {
	t.Helper()
	db := dbtesting.NewDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := postgres.New(log, db.ConnStr, postgres.Options{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))
	t.Cleanup(func() { _ = d.Close(ctx) })
	return d, db.ConnStr
}

func loadStaging(t *testing.T, d *postgres.Driver, schema medgen.Schema, rows string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.InitializeStaging(ctx, []medgen.Schema{schema}))
	_, _, err := d.BulkLoad(ctx, schema, &stringReader{s: rows})
	require.NoError(t, err)
}

type stringReader struct {
	s   string
	pos int
}

func (r *stringReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

func rowCount(t *testing.T, connStr, table, where string) int64 {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	q := "SELECT count(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	require.NoError(t, pool.QueryRow(ctx, q).Scan(&n))
	return n
}

func TestFullLoad_FreshDatabase(t *testing.T) {
	d, _ := testDriver(t)
	ctx := context.Background()
	schema := medgen.Schemas[medgen.Concepts]

	loadStaging(t, d, schema, "C0001\tHeadache\tPain in the head\t\\N\nC0002\tFever\tElevated body temperature\t\\N\n")

	counts, err := d.ApplyChanges(ctx, schema, driver.ModeFull)
	require.NoError(t, err)
	require.EqualValues(t, 2, counts.Inserted)
}

func TestFullLoad_SecondRunRemovesRow(t *testing.T) {
	d, _ := testDriver(t)
	ctx := context.Background()
	schema := medgen.Schemas[medgen.Concepts]

	loadStaging(t, d, schema, "C0001\tHeadache\tPain in the head\t\\N\nC0002\tFever\tElevated body temperature\t\\N\n")
	_, err := d.ApplyChanges(ctx, schema, driver.ModeFull)
	require.NoError(t, err)

	loadStaging(t, d, schema, "C0001\tHeadache\tPain in the head\t\\N\n")
	counts, err := d.ApplyChanges(ctx, schema, driver.ModeFull)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Inserted)
}

func TestDelta_InsertUpdateDeleteReactivate(t *testing.T) {
	d, connStr := testDriver(t)
	ctx := context.Background()
	schema := medgen.Schemas[medgen.Concepts]

	// Generation 1: seed two concepts via full load.
	loadStaging(t, d, schema, "C0001\tHeadache\tPain in the head\t\\N\nC0002\tFever\tElevated body temperature\t\\N\n")
	_, err := d.ApplyChanges(ctx, schema, driver.ModeFull)
	require.NoError(t, err)

	// Generation 2 (delta): C0001 updated, C0002 removed (soft delete), C0003 new.
	loadStaging(t, d, schema, "C0001\tHeadache\tPain and pressure in the head\t\\N\nC0003\tCough\tForceful expulsion of air\t\\N\n")

	cdcCounts, err := d.ExecuteCDC(ctx, schema)
	require.NoError(t, err)
	require.EqualValues(t, 1, cdcCounts.Inserts)
	require.EqualValues(t, 1, cdcCounts.Updates)
	require.EqualValues(t, 1, cdcCounts.Deletes)

	applyCounts, err := d.ApplyChanges(ctx, schema, driver.ModeDelta)
	require.NoError(t, err)
	require.EqualValues(t, 1, applyCounts.Inserted)
	require.EqualValues(t, 1, applyCounts.Updated)
	require.EqualValues(t, 1, applyCounts.Deleted)

	require.EqualValues(t, 2, rowCount(t, connStr, "concepts", "is_active"))

	// Generation 3 (delta): C0002 reappears unchanged -> reactivation, not a
	// fresh insert; it must keep its original row.
	loadStaging(t, d, schema, "C0001\tHeadache\tPain and pressure in the head\t\\N\nC0002\tFever\tElevated body temperature\t\\N\nC0003\tCough\tForceful expulsion of air\t\\N\n")

	cdcCounts, err = d.ExecuteCDC(ctx, schema)
	require.NoError(t, err)
	require.EqualValues(t, 0, cdcCounts.Inserts)
	require.EqualValues(t, 1, cdcCounts.Updates, "reactivation must be an update, not an insert")
	require.EqualValues(t, 0, cdcCounts.Deletes)

	applyCounts, err = d.ApplyChanges(ctx, schema, driver.ModeDelta)
	require.NoError(t, err)
	require.EqualValues(t, 0, applyCounts.Inserted)
	require.EqualValues(t, 1, applyCounts.Updated)

	require.EqualValues(t, 3, rowCount(t, connStr, "concepts", "is_active"))
}

func TestExecuteCDC_DuplicateBusinessKeyFails(t *testing.T) {
	d, _ := testDriver(t)
	ctx := context.Background()
	schema := medgen.Schemas[medgen.Concepts]

	loadStaging(t, d, schema, "C0001\tHeadache\tFirst\t\\N\nC0001\tHeadache\tSecond\t\\N\n")

	_, err := d.ExecuteCDC(ctx, schema)
	require.Error(t, err)

	le, ok := loaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, loaderrors.KindData, le.Kind)
	require.NotEmpty(t, le.OffendingKeys)
}

func TestReconcileOrphans_TruncatesLeftoverStaging(t *testing.T) {
	d, connStr := testDriver(t)
	ctx := context.Background()
	schema := medgen.Schemas[medgen.Concepts]

	loadStaging(t, d, schema, "C0001\tHeadache\tPain\t\\N\n")
	require.NoError(t, d.ReconcileOrphans(ctx, []medgen.Schema{schema}))
	require.EqualValues(t, 0, rowCount(t, connStr, "staging_concepts", ""))
}
