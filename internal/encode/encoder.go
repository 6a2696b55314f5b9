// Package encode turns a lazy medgen.RecordSource into the byte stream the
// PostgreSQL COPY FROM STDIN protocol expects. Emission is purely
// transformational: no I/O beyond reading one record at a time, and no
// buffering beyond one rendered row.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

// nullSentinel is COPY TEXT's NULL marker.
const nullSentinel = `\N`

const delimiter = '\t'

// CopyReader adapts a medgen.RecordSource into an io.Reader of COPY TEXT
// formatted rows, one LF-terminated line per record, column order matching
// the staging DDL exactly: business-key columns, payload columns, then
// raw_record. It never holds more than one rendered row in memory.
type CopyReader struct {
	ctx    context.Context
	src    medgen.RecordSource
	schema medgen.Schema

	buf bytes.Buffer
	err error
	eof bool
}

// NewCopyReader builds a CopyReader over src for the given dataset schema.
func NewCopyReader(ctx context.Context, src medgen.RecordSource, schema medgen.Schema) *CopyReader {
	return &CopyReader{ctx: ctx, src: src, schema: schema}
}

// Read implements io.Reader, pulling and encoding one record at a time as
// the internal buffer drains.
func (r *CopyReader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if r.err != nil {
			return 0, r.err
		}

		rec, err := r.src.Next(r.ctx)
		if err == io.EOF {
			r.eof = true
			continue
		}
		if err != nil {
			r.err = err
			continue
		}

		if err := EncodeRow(&r.buf, r.schema, rec); err != nil {
			r.err = fmt.Errorf("invariant violation encoding record: %w", err)
			continue
		}
	}
	return r.buf.Read(p)
}

// EncodeRow renders one record as a COPY TEXT line into w, business-key
// columns first, then payload columns, then raw_record. Column count
// mismatch between the record and its schema is a fatal internal
// invariant violation — it is never expected on well-typed input.
func EncodeRow(w io.Writer, schema medgen.Schema, rec medgen.Record) error {
	bk := rec.BusinessKey()
	if len(bk) != len(schema.BusinessKeyColumns()) {
		return fmt.Errorf("business key column count mismatch: got %d, want %d", len(bk), len(schema.BusinessKeyColumns()))
	}
	payload := rec.PayloadValues()
	if len(payload) != len(schema.PayloadColumns()) {
		return fmt.Errorf("payload column count mismatch: got %d, want %d", len(payload), len(schema.PayloadColumns()))
	}

	var line strings.Builder
	for _, v := range bk {
		line.WriteString(escapeField(v))
		line.WriteByte(delimiter)
	}
	for _, v := range payload {
		line.WriteString(encodeValue(v))
		line.WriteByte(delimiter)
	}
	line.WriteString(escapeField(rec.RawLine()))
	line.WriteByte('\n')

	_, err := w.Write([]byte(line.String()))
	return err
}

// encodeValue renders a typed payload value per COPY TEXT rules: nil
// becomes the NULL sentinel, everything else is stringified and escaped.
func encodeValue(v any) string {
	if v == nil {
		return nullSentinel
	}
	switch t := v.(type) {
	case string:
		return escapeField(t)
	case bool:
		if t {
			return "t"
		}
		return "f"
	case time.Time:
		return escapeField(t.UTC().Format("2006-01-02 15:04:05.999999"))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return escapeField(fmt.Sprintf("%v", t))
	}
}

// escapeField escapes backslashes, tabs, carriage returns and newlines per
// COPY TEXT's escaping rules: newlines in field values are escaped, never
// literal. Empty string is distinct from NULL: COPY TEXT itself has no way
// to represent a quoted empty string, so callers needing that distinction
// must use nil for NULL and "" for empty.
func escapeField(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
