// Package medgen defines the logical dataset model mirrored from the NCBI
// MedGen public dataset and the interfaces an external downloader/parser
// must satisfy to feed the loader.
package medgen

import "context"

// Name identifies one of the six logical datasets mirrored from MedGen.
type Name string

const (
	Concepts      Name = "concepts"
	Names         Name = "names"
	SemanticTypes Name = "semantic_types"
	Relationships Name = "relationships"
	SourceLinks   Name = "source_links"
	Definitions   Name = "definitions"
)

// LoadOrder is the fixed dependency order the orchestrator processes
// datasets in. Concepts first, since every other dataset's business key or
// payload references a cui; relationships last, since it references two
// cuis and is the most expensive to validate.
var LoadOrder = []Name{
	Concepts,
	SemanticTypes,
	Definitions,
	Names,
	SourceLinks,
	Relationships,
}

// Schema describes one logical dataset's column layout: the business-key
// columns that uniquely identify a row, and the payload columns that carry
// its domain data. Column order here is authoritative — it is the order
// used for staging DDL, COPY, and CDC row-hash comparisons.
type Schema struct {
	dataset         Name
	businessKeyCols []string
	payloadCols     []string
}

// NewSchema constructs a dataset Schema. businessKeyCols and payloadCols
// must be disjoint; the Encoder and driver emit columns in
// businessKeyCols++payloadCols order.
func NewSchema(dataset Name, businessKeyCols, payloadCols []string) Schema {
	return Schema{dataset: dataset, businessKeyCols: businessKeyCols, payloadCols: payloadCols}
}

func (s Schema) Name() Name { return s.dataset }
func (s Schema) BusinessKeyColumns() []string { return s.businessKeyCols }
func (s Schema) PayloadColumns() []string { return s.payloadCols }

// Columns returns the full column list in wire order: business-key columns
// followed by payload columns. raw_record, is_active, last_updated_at and
// first_seen_at are appended by the driver, not here, since they are
// loader-managed rather than source-derived.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.businessKeyCols)+len(s.payloadCols))
	cols = append(cols, s.businessKeyCols...)
	cols = append(cols, s.payloadCols...)
	return cols
}

// Schemas is the authoritative business-key/payload layout for the six
// MedGen datasets.
var Schemas = map[Name]Schema{
	Concepts: NewSchema(Concepts,
		[]string{"cui"},
		[]string{"preferred_name", "definition"},
	),
	Names: NewSchema(Names,
		[]string{"cui", "name", "source", "type"},
		[]string{"suppress"},
	),
	SemanticTypes: NewSchema(SemanticTypes,
		[]string{"cui", "sty"},
		[]string{"sty_label"},
	),
	Relationships: NewSchema(Relationships,
		[]string{"cui1", "relationship", "cui2", "source"},
		[]string{"relationship_attribute"},
	),
	SourceLinks: NewSchema(SourceLinks,
		[]string{"cui", "source", "source_id"},
		[]string{},
	),
	Definitions: NewSchema(Definitions,
		[]string{"cui", "source"},
		[]string{"definition_text"},
	),
}

// Record is the contract every MedGen parser row satisfies. Parsers,
// external to this module, produce a lazy sequence of these.
type Record interface {
	// Dataset identifies which logical dataset this record belongs to.
	Dataset() Name
	// BusinessKey returns the ordered business-key column values, matching
	// Schema.BusinessKeyColumns order.
	BusinessKey() []string
	// PayloadValues returns the ordered payload column values, matching
	// Schema.PayloadColumns order. A nil entry encodes SQL NULL.
	PayloadValues() []any
	// RawLine returns the original unparsed source line, captured
	// byte-for-byte into raw_record.
	RawLine() string
}

// RecordSource is a lazy, pull-based sequence of records for one dataset.
// RecordSource surfaces parse failures to the caller so they can be
// counted against a configurable error-tolerance threshold.
type RecordSource interface {
	// Next returns the next record, or io.EOF when the source is
	// exhausted. ctx cancellation must be honored between records.
	Next(ctx context.Context) (Record, error)
	Close() error
}
