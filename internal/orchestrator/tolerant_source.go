package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// tolerantSource wraps a medgen.RecordSource, skipping up to maxErrors
// malformed records (any Next error other than io.EOF) before giving up
// and surfacing the error. A zero maxErrors tolerates none.
type tolerantSource struct {
	log       *slog.Logger
	src       medgen.RecordSource
	maxErrors int
	skipped   int
}

func newTolerantSource(log *slog.Logger, src medgen.RecordSource, maxErrors int) *tolerantSource {
	return &tolerantSource{log: log, src: src, maxErrors: maxErrors}
}

func (t *tolerantSource) Next(ctx context.Context) (medgen.Record, error) {
	for {
		rec, err := t.src.Next(ctx)
		if err == nil || err == io.EOF {
			return rec, err
		}
		if t.skipped >= t.maxErrors {
			return nil, fmt.Errorf("parse error tolerance (%d) exceeded: %w", t.maxErrors, err)
		}
		t.skipped++
		t.log.Warn("skipping malformed record", "error", err, "skipped_so_far", t.skipped)
	}
}

func (t *tolerantSource) Close() error {
	return t.src.Close()
}
