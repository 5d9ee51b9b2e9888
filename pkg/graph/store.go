package graph

import (
	"context"

	"github.com/athapong/finkg/pkg/schema"
)

// Store is the persistent labeled-property-graph capability the pipeline
// writes to and the query translator reads from. Implementations must provide
// at least read-your-writes consistency within a single process, and PutFact
// must be conditional on the version the caller read so concurrent upserts to
// the same natural key cannot both win a conflict resolution.
type Store interface {
	Connect(ctx context.Context) error
	Close() error

	// Entity operations. Name and alias lookups are case-insensitive.
	CreateEntity(ctx context.Context, entity *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	FindEntityByName(ctx context.Context, name string, entityType schema.EntityType) (*Entity, error)
	FindEntityByAlias(ctx context.Context, alias string, entityType schema.EntityType) (*Entity, error)
	EntitiesByType(ctx context.Context, entityType schema.EntityType) ([]Entity, error)
	AddAlias(ctx context.Context, id, alias string) error
	FactCount(ctx context.Context, id string) (int, error)

	// MergeEntities rewrites every fact referencing losingID to survivorID,
	// unions the alias sets onto the survivor and removes the losing entity,
	// atomically with respect to concurrent upserts.
	MergeEntities(ctx context.Context, survivorID, losingID string) error

	// GetFact returns the stored fact for a natural key together with its
	// version, or (nil, 0, nil) when the slot is empty.
	GetFact(ctx context.Context, key NaturalKey) (*Fact, int64, error)

	// PutFact writes a fact conditionally: expectedVersion 0 creates the
	// slot, a non-zero version replaces that exact version. Returns
	// ErrVersionConflict when the stored version differs.
	PutFact(ctx context.Context, fact *Fact, expectedVersion int64) error

	// Select executes a structured query and returns formatted rows.
	Select(ctx context.Context, query *StructuredQuery) ([]Row, error)
}
