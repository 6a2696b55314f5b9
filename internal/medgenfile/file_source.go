// Package medgenfile provides a minimal concrete medgen.RecordSource
// reading the pipe-delimited flat files NCBI publishes for MedGen
// (download and parsing are otherwise out of scope for this loader; this
// is the thin default so the CLI has something runnable against a local
// mirror of those files).
package medgenfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// fileNames maps each dataset to the NCBI MedGen flat file that carries it.
var fileNames = map[medgen.Name]string{
	medgen.Concepts:      "MGCONSO.RRF",
	medgen.Names:         "MGCONSO.RRF",
	medgen.SemanticTypes: "MGSTY.RRF",
	medgen.Relationships: "MGREL.RRF",
	medgen.SourceLinks:   "MGCONSO.RRF",
	medgen.Definitions:   "MGDEF.RRF",
}

// record is a plain pipe-delimited row paired with the dataset schema that
// tells it where business-key columns end and payload columns begin.
type record struct {
	dataset medgen.Name
	bk      []string
	payload []any
	raw     string
}

func (r *record) Dataset() medgen.Name  { return r.dataset }
func (r *record) BusinessKey() []string { return r.bk }
func (r *record) PayloadValues() []any  { return r.payload }
func (r *record) RawLine() string       { return r.raw }

// Source reads one dataset's flat file line by line, splitting each line
// on '|' and slotting fields into business-key and payload columns per the
// dataset's schema.
type Source struct {
	schema medgen.Schema
	file   *os.File
	scan   *bufio.Scanner
}

// Open opens the flat file for dataset under dir.
func Open(dir string, name medgen.Name) (*Source, error) {
	fname, ok := fileNames[name]
	if !ok {
		return nil, fmt.Errorf("no known source file for dataset %s", name)
	}
	f, err := os.Open(filepath.Join(dir, fname))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fname, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Source{schema: medgen.Schemas[name], file: f, scan: scanner}, nil
}

func (s *Source) Next(ctx context.Context) (medgen.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.scan.Scan() {
		if err := s.scan.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	line := s.scan.Text()
	fields := strings.Split(strings.TrimSuffix(line, "|"), "|")

	nBK := len(s.schema.BusinessKeyColumns())
	nPayload := len(s.schema.PayloadColumns())
	if len(fields) < nBK+nPayload {
		return nil, fmt.Errorf("malformed line: got %d fields, want at least %d: %q", len(fields), nBK+nPayload, line)
	}

	bk := append([]string{}, fields[:nBK]...)
	payload := make([]any, nPayload)
	for i, v := range fields[nBK : nBK+nPayload] {
		if v == "" {
			payload[i] = nil
			continue
		}
		payload[i] = v
	}

	return &record{
		dataset: s.schema.Name(),
		bk:      bk,
		payload: payload,
		raw:     line,
	}, nil
}

func (s *Source) Close() error {
	return s.file.Close()
}
