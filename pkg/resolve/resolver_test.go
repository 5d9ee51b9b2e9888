package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/graph/storage"
	"github.com/athapong/finkg/pkg/normalize"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, createMissing bool) (*Resolver, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return New(store, Config{CreateMissing: createMissing}), store
}

func TestResolveCreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(t, true)

	first, err := resolver.Resolve(ctx, "Apple", schema.EntityCompany, nil)
	require.NoError(t, err)

	second, err := resolver.Resolve(ctx, "Apple", schema.EntityCompany, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Name lookup is case-insensitive.
	third, err := resolver.Resolve(ctx, "APPLE", schema.EntityCompany, nil)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestResolveFuzzyMatchRecordsAlias(t *testing.T) {
	ctx := context.Background()
	resolver, store := newTestResolver(t, true)

	id, err := resolver.Resolve(ctx, "DarwinAI", schema.EntityCompany, nil)
	require.NoError(t, err)

	matched, err := resolver.Resolve(ctx, "Darwin AI", schema.EntityCompany, nil)
	require.NoError(t, err)
	assert.Equal(t, id, matched)

	// The surface form is now an alias, so the next lookup is exact.
	entity, err := store.FindEntityByAlias(ctx, "Darwin AI", schema.EntityCompany)
	require.NoError(t, err)
	assert.Equal(t, id, entity.ID)
}

func TestResolveBelowThresholdCreatesNewEntity(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(t, true)

	apple, err := resolver.Resolve(ctx, "Apple", schema.EntityCompany, nil)
	require.NoError(t, err)
	google, err := resolver.Resolve(ctx, "Google", schema.EntityCompany, nil)
	require.NoError(t, err)
	assert.NotEqual(t, apple, google)
}

func TestResolveSurfaceVariantsShareIdentity(t *testing.T) {
	ctx := context.Background()

	// "Apple Inc.", "Apple" and "APPLE INC" all clean to the same canonical
	// name, so every arrival order converges on one identity.
	surfaces := [][]string{
		{"Apple Inc.", "Apple", "APPLE INC"},
		{"APPLE INC", "Apple Inc.", "Apple"},
		{"Apple", "APPLE INC", "Apple Inc."},
	}
	for _, order := range surfaces {
		resolver, store := newTestResolver(t, true)
		ids := make(map[string]bool)
		for _, raw := range order {
			name, _ := normalize.CleanEntityName(raw)
			id, err := resolver.Resolve(ctx, name, schema.EntityCompany, nil)
			require.NoError(t, err)
			ids[id] = true
		}
		assert.Len(t, ids, 1)

		entities, err := store.EntitiesByType(ctx, schema.EntityCompany)
		require.NoError(t, err)
		assert.Len(t, entities, 1)
	}
}

func TestResolveIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	surfaces := []string{"DarwinAI", "Darwin AI"}

	resolveAll := func(names []string) int {
		resolver, store := newTestResolver(t, true)
		for _, name := range names {
			_, err := resolver.Resolve(ctx, name, schema.EntityCompany, nil)
			require.NoError(t, err)
		}
		entities, err := store.EntitiesByType(ctx, schema.EntityCompany)
		require.NoError(t, err)
		return len(entities)
	}

	assert.Equal(t, 1, resolveAll(surfaces))
	assert.Equal(t, 1, resolveAll([]string{surfaces[1], surfaces[0]}))
}

func TestResolveTypeHintRestrictsMatching(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(t, true)

	company, err := resolver.Resolve(ctx, "Mercury", schema.EntityCompany, nil)
	require.NoError(t, err)

	// A product with the same surface name is a distinct identity.
	product, err := resolver.Resolve(ctx, "Mercury", schema.EntityProduct, nil)
	require.NoError(t, err)
	assert.NotEqual(t, company, product)
}

func TestResolveReadOnlyMiss(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(t, false)

	_, err := resolver.Resolve(ctx, "Atlantis", schema.EntityOther, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	var rerr *graph.ResolutionError
	assert.True(t, errors.As(err, &rerr))
}

func TestResolveEmptyName(t *testing.T) {
	ctx := context.Background()
	resolver, _ := newTestResolver(t, true)

	_, err := resolver.Resolve(ctx, "   ", schema.EntityCompany, nil)
	assert.Error(t, err)
}

func TestMergeRewritesFacts(t *testing.T) {
	ctx := context.Background()
	resolver, store := newTestResolver(t, true)

	now := time.Now().UTC()
	survivor := &graph.Entity{ID: "e1", Type: schema.EntityCompany, Name: "Apple", CreatedAt: now}
	losing := &graph.Entity{ID: "e2", Type: schema.EntityCompany, Name: "Apple Computer", CreatedAt: now}
	require.NoError(t, store.CreateEntity(ctx, survivor))
	require.NoError(t, store.CreateEntity(ctx, losing))

	fact := &graph.Fact{Head: "e2", Relation: "ACQUIRED", Tail: "e3", Confidence: 0.9}
	require.NoError(t, store.PutFact(ctx, fact, 0))

	require.NoError(t, resolver.Merge(ctx, "e1", "e2"))

	_, err := store.GetEntity(ctx, "e2")
	assert.True(t, errors.Is(err, graph.ErrNotFound))

	merged, err := store.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Contains(t, merged.Aliases, "Apple Computer")

	rewritten, _, err := store.GetFact(ctx, graph.NaturalKey{Head: "e1", Relation: "ACQUIRED", Tail: "e3"})
	require.NoError(t, err)
	require.NotNil(t, rewritten)
	assert.Equal(t, "e1", rewritten.Head)
}

func TestMergeSelfRejected(t *testing.T) {
	resolver, _ := newTestResolver(t, true)
	assert.Error(t, resolver.Merge(context.Background(), "e1", "e1"))
}
