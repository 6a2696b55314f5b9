package postgres

import (
	"context"
	"fmt"
	"io"

	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// copyStatement builds the literal COPY ... FROM STDIN command: COPY table
// FROM STDIN WITH (FORMAT text, DELIMITER E'\t', NULL '\N', ENCODING
// 'UTF8').
func copyStatement(table string, columns []string) string {
	colList := ""
	for i, c := range columns {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}
	return fmt.Sprintf(
		"COPY %s (%s) FROM STDIN WITH (FORMAT text, DELIMITER E'\\t', NULL '\\N', ENCODING 'UTF8')",
		quoteIdent(table), colList,
	)
}

// countingReader tracks the number of bytes pulled through it, so BulkLoad
// can report bytes_loaded for the audit detail row without buffering.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// BulkLoad streams r into the staging table for schema using PostgreSQL's
// native COPY FROM STDIN protocol, via the libpq-level CopyFrom call so
// data flows row-by-row from the encoder to the server with bounded
// memory. On failure the containing transaction is rolled back and
// staging is left empty.
func (d *Driver) BulkLoad(ctx context.Context, schema medgen.Schema, r io.Reader) (int64, int64, error) {
	pool, err := d.pgPool()
	if err != nil {
		return 0, 0, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return 0, 0, loaderrors.Connection("failed to acquire connection for bulk load", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, 0, loaderrors.Load("failed to begin bulk load transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	columns := append(append([]string{}, quotedColumns(schema)...), "raw_record")
	stmt := copyStatement(StagingTable(schema.Name()), columns)

	cr := &countingReader{r: r}
	tag, err := tx.Conn().PgConn().CopyFrom(ctx, cr, stmt)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, loaderrors.TimedOut(fmt.Sprintf("bulk load of %s cancelled", schema.Name()))
		}
		return 0, 0, loaderrors.Load(fmt.Sprintf("bulk load of %s failed", schema.Name()), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, loaderrors.Load(fmt.Sprintf("failed to commit bulk load of %s", schema.Name()), err)
	}
	committed = true

	return tag.RowsAffected(), cr.n, nil
}
