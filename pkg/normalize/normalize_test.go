package normalize

import (
	"testing"
	"time"

	"github.com/athapong/finkg/pkg/extract"
	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanEntityName(t *testing.T) {
	cases := []struct {
		in        string
		wantName  string
		wantLegal string
	}{
		{"Apple Inc.", "Apple", "Inc"},
		{"Apple, Inc.", "Apple", "Inc"},
		{"Microsoft Corporation", "Microsoft", "Corporation"},
		{"  Tesla   Motors  ", "Tesla Motors", ""},
		{`"DarwinAI"`, "DarwinAI", ""},
		{"APPLE INC", "Apple", "Inc"},
		{"acme holdings", "Acme", "Holdings"},
		{"Deutsche Bank AG", "Deutsche Bank", "Ag"},
		// Short all-cap names are acronyms, not shouting.
		{"IBM", "IBM", ""},
		{"HSBC HOLDINGS", "HSBC", "Holdings"},
		{"MICROSOFT", "Microsoft", ""},
	}
	for _, c := range cases {
		name, legal := CleanEntityName(c.in)
		assert.Equal(t, c.wantName, name, c.in)
		assert.Equal(t, c.wantLegal, legal, c.in)
	}
}

func TestCanonicalRelation(t *testing.T) {
	assert.Equal(t, "ACQUIRED", CanonicalRelation("acquired"))
	assert.Equal(t, "ACQUIRED", CanonicalRelation("Bought"))
	assert.Equal(t, "INVESTED_IN", CanonicalRelation("has invested in"))
	assert.Equal(t, "PARTNERED_WITH", CanonicalRelation("partners with"))
	assert.Equal(t, "CEO_OF", CanonicalRelation("Chief Executive Officer of"))
	assert.Equal(t, "FLEW_TO_THE_MOON", CanonicalRelation("flew to the moon"))
	assert.Equal(t, "", CanonicalRelation("  "))
}

func newCandidate() extract.CandidateTriplet {
	return extract.CandidateTriplet{
		Head:       "Apple Inc.",
		HeadType:   "Company",
		Relation:   "acquired",
		Tail:       "DarwinAI",
		TailType:   "Company",
		Confidence: 0.9,
		Excerpt:    "Apple acquired DarwinAI for $950 million in January 2024.",
	}
}

func TestNormalizeCanonicalizes(t *testing.T) {
	n := New(schema.NewDefaultRegistry())

	normalized, err := n.Normalize(newCandidate(), extract.Span{ID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, "Apple", normalized.HeadName)
	assert.Equal(t, schema.EntityCompany, normalized.HeadType)
	assert.Equal(t, map[string]string{"legal_form": "Inc"}, normalized.HeadAttrs)
	assert.Equal(t, "DarwinAI", normalized.TailName)
	assert.Equal(t, "ACQUIRED", normalized.Relation)
	assert.Equal(t, 0.9, normalized.Confidence)

	require.NotNil(t, normalized.Amount)
	assert.Equal(t, graph.Amount{Currency: "USD", Value: 950_000_000}, *normalized.Amount)
	require.NotNil(t, normalized.Date)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *normalized.Date)
}

func TestNormalizeDiscardReasons(t *testing.T) {
	n := New(schema.NewDefaultRegistry())
	span := extract.Span{ID: "s1"}

	empty := newCandidate()
	empty.Tail = `""`
	_, err := n.Normalize(empty, span)
	var verr *graph.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonEmptyEntity, verr.Reason)

	self := newCandidate()
	self.Tail = "apple inc"
	_, err = n.Normalize(self, span)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonSelfRelation, verr.Reason)

	unknown := newCandidate()
	unknown.Relation = "flew to the moon"
	_, err = n.Normalize(unknown, span)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ReasonUnknownRelationType, verr.Reason)
}

func TestNormalizeAttributeFailureDegradesToOmission(t *testing.T) {
	n := New(schema.NewDefaultRegistry())

	candidate := newCandidate()
	candidate.Amount = "an undisclosed sum"
	candidate.Date = "sometime soon"
	candidate.Excerpt = "Apple acquired DarwinAI."

	normalized, err := n.Normalize(candidate, extract.Span{ID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, normalized.Amount)
	assert.Nil(t, normalized.Date)
}

func TestNormalizeDefaultConfidenceScalesWithCompleteness(t *testing.T) {
	n := New(schema.NewDefaultRegistry())
	span := extract.Span{ID: "s1"}

	bare := newCandidate()
	bare.Confidence = 0
	bare.Excerpt = "Apple acquired DarwinAI."
	normalized, err := n.Normalize(bare, span)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, normalized.Confidence, 1e-9)

	full := newCandidate()
	full.Confidence = 0
	normalized, err = n.Normalize(full, span)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, normalized.Confidence, 1e-9)
}

func TestNormalizeRelativeDateUsesPublicationAnchor(t *testing.T) {
	n := New(schema.NewDefaultRegistry())

	candidate := newCandidate()
	candidate.Date = "last month"
	candidate.Excerpt = "Apple acquired DarwinAI."

	// Without a publication date the relative expression is dropped.
	normalized, err := n.Normalize(candidate, extract.Span{ID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, normalized.Date)

	anchor := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	normalized, err = n.Normalize(candidate, extract.Span{ID: "s1", PublicationDate: &anchor})
	require.NoError(t, err)
	require.NotNil(t, normalized.Date)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *normalized.Date)
}
