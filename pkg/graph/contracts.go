package graph

import (
	"context"
	"time"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/athapong/finkg/pkg/schema"
)

// NormalizedTriplet is a candidate after normalization: canonical names and
// relation, parsed attributes, assigned confidence. Entity identity is still
// unresolved.
type NormalizedTriplet struct {
	HeadName      string
	HeadType      schema.EntityType
	HeadAttrs     map[string]string
	TailName      string
	TailType      schema.EntityType
	TailAttrs     map[string]string
	Relation      string
	Date          *time.Time
	Amount        *Amount
	Confidence    float64
	SourceExcerpt string
}

// Normalizer converts raw extractor output into canonical triplets or
// discards it with a ValidationError.
type Normalizer interface {
	Normalize(candidate extract.CandidateTriplet, span extract.Span) (*NormalizedTriplet, error)
}

// EntityResolver maps a normalized surface name to a stable entity identity.
type EntityResolver interface {
	Resolve(ctx context.Context, name string, hint schema.EntityType, attrs map[string]string) (string, error)
}

// FactUpserter applies canonical facts to the persistent graph.
type FactUpserter interface {
	Upsert(ctx context.Context, fact *Fact) (UpsertResult, error)
}
