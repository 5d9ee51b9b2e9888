package graph_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/graph/storage"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngineFixture(t *testing.T) (*graph.UpsertEngine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, entity := range []*graph.Entity{
		{ID: "apple", Type: schema.EntityCompany, Name: "Apple", CreatedAt: now},
		{ID: "darwinai", Type: schema.EntityCompany, Name: "DarwinAI", CreatedAt: now},
	} {
		require.NoError(t, store.CreateEntity(ctx, entity))
	}
	return graph.NewUpsertEngine(store, schema.NewDefaultRegistry()), store
}

func acquisitionFact(confidence float64, excerpt string) *graph.Fact {
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return &graph.Fact{
		Head:       "apple",
		Relation:   "ACQUIRED",
		Tail:       "darwinai",
		Date:       &date,
		Confidence: confidence,
		Provenance: []string{excerpt},
	}
}

func TestUpsertCreateThenIdempotentReapply(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngineFixture(t)

	fact := acquisitionFact(0.9, "Apple acquired DarwinAI.")
	result, err := engine.Upsert(ctx, fact)
	require.NoError(t, err)
	assert.Equal(t, graph.OutcomeCreated, result.Outcome)

	// Re-applying the identical fact is a no-op: provenance length unchanged.
	result, err = engine.Upsert(ctx, acquisitionFact(0.9, "Apple acquired DarwinAI."))
	require.NoError(t, err)
	assert.Equal(t, graph.OutcomeMerged, result.Outcome)

	stored, version, err := store.GetFact(ctx, fact.Key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Provenance, 1)
	assert.Equal(t, int64(1), version)
}

func TestUpsertConflictResolutionIsOrderIndependent(t *testing.T) {
	strong := func() *graph.Fact {
		f := acquisitionFact(0.9, "confirmed at $5 billion")
		f.Amount = &graph.Amount{Currency: "USD", Value: 5_000_000_000}
		return f
	}
	weak := func() *graph.Fact {
		f := acquisitionFact(0.6, "rumored at $6 billion")
		f.Amount = &graph.Amount{Currency: "USD", Value: 6_000_000_000}
		return f
	}

	for name, order := range map[string][]*graph.Fact{
		"strong first": {strong(), weak()},
		"weak first":   {weak(), strong()},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			engine, store := newEngineFixture(t)

			for _, fact := range order {
				_, err := engine.Upsert(ctx, fact)
				require.NoError(t, err)
			}

			stored, _, err := store.GetFact(ctx, strong().Key())
			require.NoError(t, err)
			require.NotNil(t, stored)

			// The higher-confidence observation wins the scalar conflict, but
			// both excerpts survive in provenance.
			assert.Equal(t, int64(5_000_000_000), stored.Amount.Value)
			assert.Equal(t, 0.9, stored.Confidence)
			assert.ElementsMatch(t,
				[]string{"confirmed at $5 billion", "rumored at $6 billion"},
				stored.Provenance)
		})
	}
}

func TestUpsertConcurrentWritersConverge(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngineFixture(t)

	strong := func() *graph.Fact {
		f := acquisitionFact(0.9, "confirmed at $5 billion")
		f.Amount = &graph.Amount{Currency: "USD", Value: 5_000_000_000}
		return f
	}
	weak := func() *graph.Fact {
		f := acquisitionFact(0.6, "rumored at $6 billion")
		f.Amount = &graph.Amount{Currency: "USD", Value: 6_000_000_000}
		return f
	}
	writers := []*graph.Fact{strong(), weak(), strong(), weak()}

	// Release all writers against the same natural key at once; the
	// conditional-write loop must serialize them, never drop one.
	start := make(chan struct{})
	errs := make([]error, len(writers))
	var wg sync.WaitGroup
	for i, fact := range writers {
		wg.Add(1)
		go func(i int, fact *graph.Fact) {
			defer wg.Done()
			<-start
			_, errs[i] = engine.Upsert(ctx, fact)
		}(i, fact)
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	stored, _, err := store.GetFact(ctx, strong().Key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(5_000_000_000), stored.Amount.Value)
	assert.Equal(t, 0.9, stored.Confidence)
	assert.ElementsMatch(t,
		[]string{"confirmed at $5 billion", "rumored at $6 billion"},
		stored.Provenance)
}

func TestUpsertLeavesCallerFactUnchanged(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngineFixture(t)

	fact := acquisitionFact(0.9, "Apple acquired DarwinAI.")
	require.True(t, fact.ExtractedAt.IsZero())

	_, err := engine.Upsert(ctx, fact)
	require.NoError(t, err)

	// The stamp lands on the stored copy only.
	assert.True(t, fact.ExtractedAt.IsZero())
}

func TestUpsertUnionsOneSidedAttributes(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngineFixture(t)

	dated := acquisitionFact(0.9, "in January 2024")
	_, err := engine.Upsert(ctx, dated)
	require.NoError(t, err)

	priced := acquisitionFact(0.5, "for $950 million")
	priced.Date = nil
	priced.Amount = &graph.Amount{Currency: "USD", Value: 950_000_000}
	_, err = engine.Upsert(ctx, priced)
	require.NoError(t, err)

	stored, _, err := store.GetFact(ctx, dated.Key())
	require.NoError(t, err)
	require.NotNil(t, stored.Date)
	require.NotNil(t, stored.Amount)
	assert.Equal(t, 0.9, stored.Confidence)
}

func TestUpsertConfidenceNeverDecreases(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngineFixture(t)

	_, err := engine.Upsert(ctx, acquisitionFact(0.9, "a"))
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, acquisitionFact(0.4, "b"))
	require.NoError(t, err)

	stored, _, err := store.GetFact(ctx, acquisitionFact(0, "").Key())
	require.NoError(t, err)
	assert.Equal(t, 0.9, stored.Confidence)
}

func TestUpsertRejectsSelfRelation(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngineFixture(t)

	fact := acquisitionFact(0.9, "x")
	fact.Tail = fact.Head
	result, err := engine.Upsert(ctx, fact)
	require.Error(t, err)
	assert.Equal(t, graph.OutcomeRejected, result.Outcome)
}

func TestUpsertRejectsUnresolvedEndpoint(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngineFixture(t)

	fact := acquisitionFact(0.9, "x")
	fact.Tail = "ghost"
	result, err := engine.Upsert(ctx, fact)
	require.Error(t, err)
	assert.Equal(t, graph.OutcomeRejected, result.Outcome)

	var rerr *graph.ResolutionError
	assert.ErrorAs(t, err, &rerr)
}

func TestUpsertValidatesAtWriteTime(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngineFixture(t)

	fact := acquisitionFact(0.9, "x")
	fact.Relation = "REPORTED_REVENUE"
	result, err := engine.Upsert(ctx, fact)
	require.Error(t, err)
	assert.Equal(t, graph.OutcomeRejected, result.Outcome)
	assert.Equal(t, schema.ReasonMissingRequiredAttribute, result.Reason)
}
