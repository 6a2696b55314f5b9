package encode

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/medgen-loader/internal/medgen"
)

type fakeRecord struct {
	ds      medgen.Name
	bk      []string
	payload []any
	raw     string
}

func (f fakeRecord) Dataset() medgen.Name  { return f.ds }
func (f fakeRecord) BusinessKey() []string { return f.bk }
func (f fakeRecord) PayloadValues() []any  { return f.payload }
func (f fakeRecord) RawLine() string       { return f.raw }

type sliceSource struct {
	records []medgen.Record
	i       int
}

func (s *sliceSource) Next(ctx context.Context) (medgen.Record, error) {
	if s.i >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.i]
	s.i++
	return r, nil
}

func (s *sliceSource) Close() error { return nil }

func TestEncodeRow_NullSentinelAndEscaping(t *testing.T) {
	schema := medgen.Schemas[medgen.Concepts]
	rec := fakeRecord{
		ds:      medgen.Concepts,
		bk:      []string{"C0001"},
		payload: []any{nil, "has\ttab\\and\nnewline"},
		raw:     "C0001|ENG|P|line\twith\ttabs",
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeRow(&buf, schema, rec))

	line := buf.String()
	assert.Contains(t, line, `\N`)
	assert.Contains(t, line, `has\ttab\\and\nnewline`)
	assert.Contains(t, line, `line\twith\ttabs`)
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("\n")))
}

func TestEncodeRow_ColumnCountMismatchIsFatal(t *testing.T) {
	schema := medgen.Schemas[medgen.Concepts]
	rec := fakeRecord{ds: medgen.Concepts, bk: []string{"C0001", "extra"}, payload: []any{"x", "y"}}

	var buf bytes.Buffer
	err := EncodeRow(&buf, schema, rec)
	assert.Error(t, err)
}

func TestCopyReader_StreamsAllRecords(t *testing.T) {
	schema := medgen.Schemas[medgen.Concepts]
	src := &sliceSource{records: []medgen.Record{
		fakeRecord{ds: medgen.Concepts, bk: []string{"C0001"}, payload: []any{"Foo", nil}, raw: "C0001|Foo"},
		fakeRecord{ds: medgen.Concepts, bk: []string{"C0002"}, payload: []any{"Bar", "def"}, raw: "C0002|Bar|def"},
	}}

	r := NewCopyReader(context.Background(), src, schema)
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "C0001")
	assert.Contains(t, string(lines[1]), "C0002")
}

func TestCopyReader_SmallReadBuffer(t *testing.T) {
	// Exercise the partial-read path through bytes.Buffer.Read when the
	// caller's buffer is smaller than one rendered row.
	schema := medgen.Schemas[medgen.Concepts]
	src := &sliceSource{records: []medgen.Record{
		fakeRecord{ds: medgen.Concepts, bk: []string{"C0001"}, payload: []any{"Foo", nil}, raw: "C0001|Foo"},
	}}
	r := NewCopyReader(context.Background(), src, schema)

	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Contains(t, out.String(), "C0001")
}
