// Package dbtesting spins up a disposable PostgreSQL container for driver
// integration tests.
package dbtesting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DB is a running PostgreSQL test container.
type DB struct {
	ConnStr   string
	container *tcpostgres.PostgresContainer
}

// NewDB starts a PostgreSQL container and returns its connection string. The
// container is terminated automatically via t.Cleanup.
func NewDB(t *testing.T) *DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("medgen_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	t.Cleanup(func() {
		termCtx, termCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer termCancel()
		_ = container.Terminate(termCtx)
	})

	return &DB{ConnStr: connStr, container: container}
}
