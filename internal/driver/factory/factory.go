// Package factory selects a backend driver.Driver from a connection
// string scheme, the way a CLI entrypoint validates backend-specific
// required flags before dispatch. It lives apart from internal/driver
// itself so the interface package stays a leaf: driver must not depend on
// any concrete backend, while the factory depends on both.
package factory

import (
	"log/slog"
	"net/url"

	"github.com/malbeclabs/medgen-loader/internal/driver"
	"github.com/malbeclabs/medgen-loader/internal/driver/postgres"
	"github.com/malbeclabs/medgen-loader/internal/loaderrors"
)

// Options carries backend-specific configuration keyed by option name, so
// a future non-Postgres backend (e.g. a warehouse needing an S3 staging
// bucket) can travel through the same NewFromURL signature without
// changing it.
type Options struct {
	StatementTimeoutSeconds int
	MaxConns                int32
	CaptureRawRecord        bool
}

// NewFromURL parses rawURL and returns the Driver registered for its
// scheme. Unknown schemes fail with loaderrors.KindConfig.
func NewFromURL(log *slog.Logger, rawURL string, opts Options) (driver.Driver, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, loaderrors.Config("invalid connection string: %v", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return postgres.New(log, rawURL, postgres.Options{
			StatementTimeoutSeconds: opts.StatementTimeoutSeconds,
			MaxConns:                opts.MaxConns,
			CaptureRawRecord:        opts.CaptureRawRecord,
		})
	case "":
		return nil, loaderrors.Config("connection string missing scheme")
	default:
		return nil, loaderrors.Config("unsupported backend scheme %q", u.Scheme)
	}
}
