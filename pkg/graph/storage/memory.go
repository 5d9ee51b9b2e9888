package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/schema"
)

type versionedFact struct {
	fact    graph.Fact
	version int64
}

// MemoryStore implements the Store interface with in-memory maps. It backs
// single-node runs and tests; semantics match the Neo4j store, including
// conditional fact writes.
type MemoryStore struct {
	mu         sync.RWMutex
	entities   map[string]*graph.Entity
	nameIndex  map[string]string // type|folded name -> entity id
	aliasIndex map[string]string // type|folded alias -> entity id
	facts      map[string]*versionedFact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:   make(map[string]*graph.Entity),
		nameIndex:  make(map[string]string),
		aliasIndex: make(map[string]string),
		facts:      make(map[string]*versionedFact),
	}
}

// Connect implements Store.
func (s *MemoryStore) Connect(ctx context.Context) error { return nil }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func indexKey(entityType schema.EntityType, name string) string {
	return string(entityType) + "|" + strings.ToLower(strings.TrimSpace(name))
}

// CreateEntity implements Store.
func (s *MemoryStore) CreateEntity(ctx context.Context, entity *graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entity
	copied.Aliases = append([]string(nil), entity.Aliases...)
	s.entities[copied.ID] = &copied
	s.nameIndex[indexKey(copied.Type, copied.Name)] = copied.ID
	for _, alias := range copied.Aliases {
		s.aliasIndex[indexKey(copied.Type, alias)] = copied.ID
	}
	return nil
}

// GetEntity implements Store.
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	copied := *entity
	return &copied, nil
}

// FindEntityByName implements Store.
func (s *MemoryStore) FindEntityByName(ctx context.Context, name string, entityType schema.EntityType) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.nameIndex[indexKey(entityType, name)]
	if !ok {
		return nil, graph.ErrNotFound
	}
	copied := *s.entities[id]
	return &copied, nil
}

// FindEntityByAlias implements Store.
func (s *MemoryStore) FindEntityByAlias(ctx context.Context, alias string, entityType schema.EntityType) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.aliasIndex[indexKey(entityType, alias)]
	if !ok {
		return nil, graph.ErrNotFound
	}
	copied := *s.entities[id]
	return &copied, nil
}

// EntitiesByType implements Store.
func (s *MemoryStore) EntitiesByType(ctx context.Context, entityType schema.EntityType) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]graph.Entity, 0)
	for _, entity := range s.entities {
		if entity.Type == entityType {
			result = append(result, *entity)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// AddAlias implements Store. Adding an alias twice is a no-op.
func (s *MemoryStore) AddAlias(ctx context.Context, id, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[id]
	if !ok {
		return graph.ErrNotFound
	}
	key := indexKey(entity.Type, alias)
	if _, exists := s.aliasIndex[key]; exists {
		return nil
	}
	entity.Aliases = append(entity.Aliases, alias)
	s.aliasIndex[key] = id
	return nil
}

// FactCount implements Store.
func (s *MemoryStore) FactCount(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, vf := range s.facts {
		if vf.fact.Head == id || vf.fact.Tail == id {
			count++
		}
	}
	return count, nil
}

// MergeEntities implements Store. The rewrite happens under the store lock so
// no concurrent upsert can observe a half-merged graph.
func (s *MemoryStore) MergeEntities(ctx context.Context, survivorID, losingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	survivor, ok := s.entities[survivorID]
	if !ok {
		return graph.ErrNotFound
	}
	losing, ok := s.entities[losingID]
	if !ok {
		return graph.ErrNotFound
	}

	// The losing canonical name and all its aliases become survivor aliases.
	for _, alias := range append([]string{losing.Name}, losing.Aliases...) {
		key := indexKey(survivor.Type, alias)
		if _, exists := s.aliasIndex[key]; !exists {
			survivor.Aliases = append(survivor.Aliases, alias)
			s.aliasIndex[key] = survivorID
		} else if s.aliasIndex[key] == losingID {
			s.aliasIndex[key] = survivorID
		}
	}
	delete(s.nameIndex, indexKey(losing.Type, losing.Name))
	delete(s.entities, losingID)

	// Rewrite facts referencing the losing id. A rewritten key may collide
	// with an existing slot; the observations are reconciled, never lost.
	for key, vf := range s.facts {
		if vf.fact.Head != losingID && vf.fact.Tail != losingID {
			continue
		}
		delete(s.facts, key)
		if vf.fact.Head == losingID {
			vf.fact.Head = survivorID
		}
		if vf.fact.Tail == losingID {
			vf.fact.Tail = survivorID
		}
		newKey := vf.fact.Key().String()
		if existing, ok := s.facts[newKey]; ok {
			mergeFactInto(&existing.fact, &vf.fact)
			existing.version++
		} else {
			s.facts[newKey] = vf
		}
	}
	return nil
}

// mergeFactInto folds src into dst: higher confidence wins scalar attributes,
// provenance is unioned.
func mergeFactInto(dst, src *graph.Fact) {
	if src.Confidence > dst.Confidence {
		if src.Amount != nil {
			dst.Amount = src.Amount
		}
		if src.Date != nil {
			dst.Date = src.Date
		}
		dst.Confidence = src.Confidence
	} else {
		if dst.Amount == nil {
			dst.Amount = src.Amount
		}
		if dst.Date == nil {
			dst.Date = src.Date
		}
	}
	for _, excerpt := range src.Provenance {
		if !containsString(dst.Provenance, excerpt) {
			dst.Provenance = append(dst.Provenance, excerpt)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// GetFact implements Store.
func (s *MemoryStore) GetFact(ctx context.Context, key graph.NaturalKey) (*graph.Fact, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vf, ok := s.facts[key.String()]
	if !ok {
		return nil, 0, nil
	}
	copied := vf.fact
	copied.Provenance = append([]string(nil), vf.fact.Provenance...)
	return &copied, vf.version, nil
}

// PutFact implements Store.
func (s *MemoryStore) PutFact(ctx context.Context, fact *graph.Fact, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fact.Key().String()
	existing, ok := s.facts[key]
	if !ok {
		if expectedVersion != 0 {
			return graph.ErrVersionConflict
		}
		copied := *fact
		copied.Provenance = append([]string(nil), fact.Provenance...)
		s.facts[key] = &versionedFact{fact: copied, version: 1}
		return nil
	}
	if existing.version != expectedVersion {
		return graph.ErrVersionConflict
	}
	copied := *fact
	copied.Provenance = append([]string(nil), fact.Provenance...)
	existing.fact = copied
	existing.version++
	return nil
}

// Select implements Store.
func (s *MemoryStore) Select(ctx context.Context, query *graph.StructuredQuery) ([]graph.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]graph.Fact, 0)
	for _, vf := range s.facts {
		if s.matches(&vf.fact, query) {
			matched = append(matched, vf.fact)
		}
	}

	if query.Intent == graph.IntentCount {
		return []graph.Row{{"count": len(matched)}}, nil
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence > matched[j].Confidence
		}
		return matched[i].Key().String() < matched[j].Key().String()
	})
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	rows := make([]graph.Row, 0, len(matched))
	for i := range matched {
		rows = append(rows, s.factRow(&matched[i]))
	}
	return rows, nil
}

func (s *MemoryStore) matches(fact *graph.Fact, query *graph.StructuredQuery) bool {
	if query.Relation != "" && fact.Relation != query.Relation {
		return false
	}
	switch query.Intent {
	case graph.IntentIncoming:
		if query.AnchorID != "" && fact.Tail != query.AnchorID {
			return false
		}
	default:
		if query.AnchorID != "" && fact.Head != query.AnchorID {
			return false
		}
	}
	if query.DateFrom != nil && (fact.Date == nil || fact.Date.Before(*query.DateFrom)) {
		return false
	}
	if query.DateTo != nil && (fact.Date == nil || fact.Date.After(*query.DateTo)) {
		return false
	}
	if query.MinAmount != nil {
		if fact.Amount == nil || fact.Amount.Currency != query.MinAmount.Currency ||
			fact.Amount.Value < query.MinAmount.Value {
			return false
		}
	}
	return true
}

func (s *MemoryStore) factRow(fact *graph.Fact) graph.Row {
	row := graph.Row{
		"source":     s.entityName(fact.Head),
		"relation":   fact.Relation,
		"target":     s.entityName(fact.Tail),
		"confidence": fact.Confidence,
	}
	if fact.Date != nil {
		row["date"] = fact.Date.Format("2006-01-02")
	}
	if fact.Amount != nil {
		row["amount"] = fact.Amount.String()
	}
	return row
}

func (s *MemoryStore) entityName(id string) string {
	if entity, ok := s.entities[id]; ok {
		return entity.Name
	}
	return id
}
