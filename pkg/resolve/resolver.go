package resolve

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/graph/metrics"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/sirupsen/logrus"
)

// DefaultSimilarityThreshold is deliberately high-precision: below it a new
// entity is created rather than guessed onto an existing one.
const DefaultSimilarityThreshold = 0.85

// Config controls matching behavior.
type Config struct {
	// SimilarityThreshold is the minimum fuzzy similarity (0..1) for an
	// existing entity to absorb a new surface form.
	SimilarityThreshold float64

	// CreateMissing creates a new entity when nothing matches. The query
	// side runs with this off: a miss there is an unresolvable entity, never
	// a silent create.
	CreateMissing bool
}

// Resolver maps normalized surface names to stable entity identities. The
// alias table lives in the store and grows monotonically; it is never pruned
// automatically.
type Resolver struct {
	store  graph.Store
	config Config
	differ *diffmatchpatch.DiffMatchPatch
	mu     sync.Mutex
	logger *logrus.Logger
}

// New creates a resolver over a store.
func New(store graph.Store, config Config) *Resolver {
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Resolver{
		store:  store,
		config: config,
		differ: diffmatchpatch.New(),
		logger: logger,
	}
}

// Resolve implements graph.EntityResolver. Matching policy, first match wins:
// exact canonical-name match, alias-table lookup, then same-type fuzzy match
// above the similarity threshold. A successful fuzzy match records the
// surface form as a new alias of the winning entity.
func (r *Resolver) Resolve(ctx context.Context, name string, hint schema.EntityType, attrs map[string]string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &graph.ResolutionError{Name: name, Err: errors.New("empty name")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	candidateTypes := typesFor(hint)

	for _, entityType := range candidateTypes {
		if entity, err := r.store.FindEntityByName(ctx, name, entityType); err == nil {
			return entity.ID, nil
		} else if !errors.Is(err, graph.ErrNotFound) {
			return "", &graph.ResolutionError{Name: name, Err: err}
		}
	}

	for _, entityType := range candidateTypes {
		if entity, err := r.store.FindEntityByAlias(ctx, name, entityType); err == nil {
			return entity.ID, nil
		} else if !errors.Is(err, graph.ErrNotFound) {
			return "", &graph.ResolutionError{Name: name, Err: err}
		}
	}

	winner, err := r.fuzzyMatch(ctx, name, candidateTypes)
	if err != nil {
		return "", &graph.ResolutionError{Name: name, Err: err}
	}
	if winner != nil {
		if err := r.store.AddAlias(ctx, winner.ID, name); err != nil {
			return "", &graph.ResolutionError{Name: name, Err: err}
		}
		r.logger.WithFields(logrus.Fields{
			"surface": name,
			"entity":  winner.Name,
		}).Debug("Fuzzy match recorded as alias")
		return winner.ID, nil
	}

	if !r.config.CreateMissing {
		return "", &graph.ResolutionError{Name: name, Err: graph.ErrNotFound}
	}
	return r.create(ctx, name, hint, attrs)
}

func (r *Resolver) create(ctx context.Context, name string, hint schema.EntityType, attrs map[string]string) (string, error) {
	if hint == "" {
		hint = schema.EntityOther
	}
	entity := &graph.Entity{
		ID:         uuid.New().String(),
		Type:       hint,
		Name:       name,
		Attributes: attrs,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return "", &graph.ResolutionError{Name: name, Err: err}
	}
	return entity.ID, nil
}

type scoredEntity struct {
	entity graph.Entity
	score  float64
	facts  int
}

// fuzzyMatch returns the best candidate at or above the threshold, or nil.
// Equally-scored candidates are ordered by connectivity (fact count), then
// earliest creation time, then id, so resolution is deterministic.
func (r *Resolver) fuzzyMatch(ctx context.Context, name string, candidateTypes []schema.EntityType) (*graph.Entity, error) {
	best := make([]scoredEntity, 0)
	bestScore := 0.0

	for _, entityType := range candidateTypes {
		entities, err := r.store.EntitiesByType(ctx, entityType)
		if err != nil {
			return nil, err
		}
		for _, entity := range entities {
			score := r.entityScore(name, &entity)
			if score < r.config.SimilarityThreshold || score < bestScore {
				continue
			}
			if score > bestScore {
				best = best[:0]
				bestScore = score
			}
			count, err := r.store.FactCount(ctx, entity.ID)
			if err != nil {
				return nil, err
			}
			best = append(best, scoredEntity{entity: entity, score: score, facts: count})
		}
	}
	if len(best) == 0 {
		return nil, nil
	}

	sort.Slice(best, func(i, j int) bool {
		if best[i].facts != best[j].facts {
			return best[i].facts > best[j].facts
		}
		if !best[i].entity.CreatedAt.Equal(best[j].entity.CreatedAt) {
			return best[i].entity.CreatedAt.Before(best[j].entity.CreatedAt)
		}
		return best[i].entity.ID < best[j].entity.ID
	})
	return &best[0].entity, nil
}

// entityScore is the best similarity of the surface name against the
// entity's canonical name and all known aliases.
func (r *Resolver) entityScore(name string, entity *graph.Entity) float64 {
	score := r.similarity(name, entity.Name)
	for _, alias := range entity.Aliases {
		if s := r.similarity(name, alias); s > score {
			score = s
		}
	}
	return score
}

// similarity is a normalized, case-insensitive edit-distance score in 0..1.
func (r *Resolver) similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	diffs := r.differ.DiffMain(a, b, false)
	distance := r.differ.DiffLevenshtein(diffs)
	return 1 - float64(distance)/float64(longest)
}

// Merge is an explicit administrative operation: it unions the two entities'
// alias sets and rewrites all facts referencing the losing id onto the
// survivor. It holds the resolver lock so no resolution can interleave, and
// the store performs the rewrite atomically with respect to upserts.
func (r *Resolver) Merge(ctx context.Context, survivorID, losingID string) error {
	if survivorID == losingID {
		return errors.New("cannot merge an entity into itself")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.MergeEntities(ctx, survivorID, losingID); err != nil {
		return errors.Wrap(err, "merge failed")
	}
	metrics.EntityMerges.Inc()
	r.logger.WithFields(logrus.Fields{
		"survivor": survivorID,
		"removed":  losingID,
	}).Info("Entities merged")
	return nil
}

// typesFor expands an unknown or Other hint to all types; a concrete hint
// restricts matching to that type.
func typesFor(hint schema.EntityType) []schema.EntityType {
	switch hint {
	case schema.EntityCompany, schema.EntityPerson, schema.EntityProduct:
		return []schema.EntityType{hint}
	default:
		return []schema.EntityType{
			schema.EntityCompany, schema.EntityPerson, schema.EntityProduct, schema.EntityOther,
		}
	}
}
