package extract

import (
	"context"
	"time"
)

// Span is one preprocessed slice of source text, ordered within its document.
// PublicationDate anchors relative-date parsing downstream when known.
type Span struct {
	ID              string
	Text            string
	PublicationDate *time.Time
}

// CandidateTriplet is raw extractor output: head/tail as surface strings,
// relation as a free-text label, no entity identity yet. Candidates are
// consumed by the normalizer and never persisted as-is.
type CandidateTriplet struct {
	Head       string
	HeadType   string
	Relation   string
	Tail       string
	TailType   string
	Amount     string
	Date       string
	Confidence float64
	Excerpt    string
}

// Extractor is the extraction capability: given a text span, return zero or
// more candidate triplets. The oracle is non-deterministic and non-idempotent;
// all idempotence guarantees are enforced downstream.
type Extractor interface {
	Extract(ctx context.Context, span Span) ([]CandidateTriplet, error)
}
