package graph

import (
	"fmt"
	"strings"
	"time"

	"github.com/athapong/finkg/pkg/schema"
)

// Entity represents a node in the knowledge graph. One entity exists per
// distinct real-world referent; aliases map many-to-one onto the identity.
type Entity struct {
	ID         string            `json:"id"`
	Type       schema.EntityType `json:"type"`
	Name       string            `json:"name"`
	Aliases    []string          `json:"aliases,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Amount is a monetary value in whole currency units.
type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

func (a *Amount) String() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s %d", a.Currency, a.Value)
}

// Equal reports whether two amounts are the same observation.
func (a *Amount) Equal(b *Amount) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Currency == b.Currency && a.Value == b.Value
}

// Fact is a stored relation between two resolved entities. The
// (Head, Relation, Tail) triple is the natural key; attributes are a closed
// set of typed fields so conflict resolution is total over all cases.
type Fact struct {
	Head        string     `json:"head"`
	Relation    string     `json:"relation"`
	Tail        string     `json:"tail"`
	Date        *time.Time `json:"date,omitempty"`
	Amount      *Amount    `json:"amount,omitempty"`
	Provenance  []string   `json:"provenance,omitempty"`
	Confidence  float64    `json:"confidence"`
	ExtractedAt time.Time  `json:"extracted_at"`
}

// Key returns the fact's natural key.
func (f *Fact) Key() NaturalKey {
	return NaturalKey{Head: f.Head, Relation: f.Relation, Tail: f.Tail}
}

// NaturalKey identifies a unique fact slot in the graph.
type NaturalKey struct {
	Head     string
	Relation string
	Tail     string
}

func (k NaturalKey) String() string {
	return strings.Join([]string{k.Head, k.Relation, k.Tail}, "|")
}

// UpsertOutcome classifies the result of applying a fact to the graph.
type UpsertOutcome string

const (
	OutcomeCreated  UpsertOutcome = "created"
	OutcomeMerged   UpsertOutcome = "merged"
	OutcomeRejected UpsertOutcome = "rejected"
)

// UpsertResult reports what the upsert engine did with a fact.
type UpsertResult struct {
	Outcome UpsertOutcome
	Reason  string
}

// PipelineReport tallies per-candidate outcomes for one batch. A single
// candidate's rejection never aborts the batch.
type PipelineReport struct {
	Spans      int      `json:"spans"`
	Candidates int      `json:"candidates"`
	Created    int      `json:"created"`
	Merged     int      `json:"merged"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}

// Intent is the classified shape of a natural-language question.
type Intent string

const (
	IntentOutgoing Intent = "lookup-outgoing-relation"
	IntentIncoming Intent = "lookup-incoming-relation"
	IntentCount    Intent = "aggregate-count"
	IntentRange    Intent = "filter-by-attribute-range"
)

// StructuredQuery is the translator's output: a graph-engine-agnostic
// description of what to fetch.
type StructuredQuery struct {
	Intent    Intent
	AnchorID  string
	Relation  string
	DateFrom  *time.Time
	DateTo    *time.Time
	MinAmount *Amount
	Limit     int
}

// Row is one result record, mapping attribute name to value.
type Row map[string]interface{}
