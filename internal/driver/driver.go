// Package driver defines the backend contract every relational engine
// adapter must satisfy: a single Driver interface covering this loader's
// connect/staging/bulk-load/CDC/apply/cleanup lifecycle.
package driver

import (
	"context"
	"io"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// Mode selects the load strategy for a run.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// CDCCounts reports the cardinalities ExecuteCDC computed for one dataset.
type CDCCounts struct {
	Inserts int64
	Updates int64
	Deletes int64
}

// ApplyCounts reports the rows actually mutated by ApplyChanges, used for
// the per-dataset audit detail row.
type ApplyCounts struct {
	Inserted int64
	Updated  int64
	Deleted  int64
}

// Driver is the abstract backend contract. Every method below is a
// contract, not just a signature: preconditions and failure modes apply to
// every implementation.
type Driver interface {
	// Connect establishes a session. Fails with loaderrors.KindConnection
	// on an unreachable endpoint or bad credentials. Idempotent: redundant
	// calls are no-ops.
	Connect(ctx context.Context) error

	// InitializeStaging creates or truncates the staging tables for the
	// given datasets. Must be safe to run twice.
	InitializeStaging(ctx context.Context, schemas []medgen.Schema) error

	// BulkLoad streams encoded rows from r into the staging table for
	// schema using the backend's native bulk protocol. Must not buffer the
	// entire stream in memory. Returns the row count loaded. Fails with
	// loaderrors.KindLoad on protocol, constraint, or I/O failure; partial
	// loads are rolled back.
	BulkLoad(ctx context.Context, schema medgen.Schema, r io.Reader) (rowsLoaded int64, bytesLoaded int64, err error)

	// ExecuteCDC compares the staging snapshot against the current
	// production table for schema and materializes the insert/update/
	// delete sets. Fails with loaderrors.KindData on duplicate business
	// keys in staging.
	ExecuteCDC(ctx context.Context, schema medgen.Schema) (CDCCounts, error)

	// ApplyChanges promotes staging to production (full mode, via the swap
	// protocol) or applies the previously computed CDC sets (delta mode,
	// inside one transaction, deactivations then updates then inserts).
	ApplyChanges(ctx context.Context, schema medgen.Schema, mode Mode) (ApplyCounts, error)

	// Cleanup drops per-run staging and CDC tables. Must tolerate missing
	// tables.
	Cleanup(ctx context.Context, schemas []medgen.Schema) error

	// ReconcileOrphans truncates any staging tables left behind by a run
	// that lost its connection mid-way, so the next run starts clean. Safe
	// to call even when nothing is orphaned.
	ReconcileOrphans(ctx context.Context, schemas []medgen.Schema) error

	// Close releases the session. Idempotent.
	Close(ctx context.Context) error
}
