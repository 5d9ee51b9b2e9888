package schema

import (
	"fmt"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// EntityType classifies a node in the knowledge graph.
type EntityType string

const (
	EntityCompany EntityType = "Company"
	EntityPerson  EntityType = "Person"
	EntityProduct EntityType = "Product"
	EntityOther   EntityType = "Other"
)

// Rejection reasons returned by Validate.
const (
	ReasonUnknownRelationType      = "UnknownRelationType"
	ReasonMissingRequiredAttribute = "MissingRequiredAttribute"
	ReasonTypeMismatch             = "TypeMismatch"
)

// RelationDef describes one recognized relation type: which entity types may
// appear at each end and which attributes an observation must carry.
type RelationDef struct {
	Name           string
	HeadTypes      []EntityType
	TailTypes      []EntityType
	RequiresAmount bool
	RequiresDate   bool
}

// Candidate is the registry's view of a triplet awaiting validation. Entity
// types may be empty when the extractor gave no hint; type constraints are
// only enforced against known types.
type Candidate struct {
	Relation  string
	HeadType  EntityType
	TailType  EntityType
	HasAmount bool
	HasDate   bool
}

// ValidationResult reports the outcome of validating a candidate.
type ValidationResult struct {
	Accepted bool
	Relation string
	Reason   string
}

// Registry holds the recognized entity and relation vocabulary. It is
// read-mostly: loaded once at startup and replaced wholesale by Reload.
type Registry struct {
	mu        sync.RWMutex
	relations map[string]RelationDef
	entities  mapset.Set[EntityType]
}

// DefaultRelations is the financial-news vocabulary the pipeline ships with.
func DefaultRelations() []RelationDef {
	company := []EntityType{EntityCompany}
	companyOrOther := []EntityType{EntityCompany, EntityOther}
	return []RelationDef{
		{Name: "ACQUIRED", HeadTypes: company, TailTypes: companyOrOther},
		{Name: "INVESTED_IN", HeadTypes: []EntityType{EntityCompany, EntityPerson}, TailTypes: companyOrOther},
		{Name: "LAUNCHED", HeadTypes: company, TailTypes: []EntityType{EntityProduct, EntityOther}},
		{Name: "PARTNERED_WITH", HeadTypes: company, TailTypes: company},
		{Name: "CEO_OF", HeadTypes: []EntityType{EntityPerson}, TailTypes: company},
		{Name: "FOUNDED", HeadTypes: []EntityType{EntityPerson, EntityCompany}, TailTypes: companyOrOther},
		{Name: "REPORTED_REVENUE", HeadTypes: company, TailTypes: companyOrOther, RequiresAmount: true},
	}
}

// NewRegistry creates a registry with the given relation definitions and the
// standard entity types.
func NewRegistry(defs []RelationDef) *Registry {
	r := &Registry{}
	r.load(defs)
	return r
}

// NewDefaultRegistry creates a registry with the built-in vocabulary.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultRelations())
}

func (r *Registry) load(defs []RelationDef) {
	relations := make(map[string]RelationDef, len(defs))
	for _, def := range defs {
		relations[strings.ToUpper(def.Name)] = def
	}
	entities := mapset.NewSet(EntityCompany, EntityPerson, EntityProduct, EntityOther)

	r.mu.Lock()
	r.relations = relations
	r.entities = entities
	r.mu.Unlock()
}

// Reload replaces the entire relation vocabulary. This is the only mutation
// path; it is administrative and never invoked by the pipeline itself.
func (r *Registry) Reload(defs []RelationDef) {
	r.load(defs)
}

// Relation returns the definition for a canonical relation name.
func (r *Registry) Relation(name string) (RelationDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.relations[strings.ToUpper(name)]
	return def, ok
}

// RelationNames returns the canonical relation vocabulary.
func (r *Registry) RelationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.relations))
	for name := range r.relations {
		names = append(names, name)
	}
	return names
}

// EntityTypeNames returns the recognized entity types.
func (r *Registry) EntityTypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, r.entities.Cardinality())
	for _, t := range r.entities.ToSlice() {
		names = append(names, string(t))
	}
	return names
}

// KnownEntityType reports whether t is part of the registry vocabulary.
func (r *Registry) KnownEntityType(t EntityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities.Contains(t)
}

// Validate checks a candidate against the registry. It is a pure function of
// registry state and input.
func (r *Registry) Validate(c Candidate) ValidationResult {
	def, ok := r.Relation(c.Relation)
	if !ok {
		return ValidationResult{Reason: ReasonUnknownRelationType}
	}
	if def.RequiresAmount && !c.HasAmount {
		return ValidationResult{Reason: ReasonMissingRequiredAttribute}
	}
	if def.RequiresDate && !c.HasDate {
		return ValidationResult{Reason: ReasonMissingRequiredAttribute}
	}
	if !typeAllowed(c.HeadType, def.HeadTypes) || !typeAllowed(c.TailType, def.TailTypes) {
		return ValidationResult{Reason: ReasonTypeMismatch}
	}
	return ValidationResult{Accepted: true, Relation: def.Name}
}

// typeAllowed enforces type constraints only when the candidate carries a
// concrete type; Other always passes since the extractor frequently cannot
// classify tail entities.
func typeAllowed(t EntityType, allowed []EntityType) bool {
	if t == "" || t == EntityOther || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// ParseEntityType maps a free-text type label to a known entity type,
// defaulting to Other.
func ParseEntityType(s string) EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "company", "organization", "org", "corporation", "startup":
		return EntityCompany
	case "person", "people", "individual", "executive":
		return EntityPerson
	case "product", "service", "model":
		return EntityProduct
	case "":
		return EntityOther
	default:
		return EntityOther
	}
}

func (t EntityType) String() string { return string(t) }

// Describe renders the vocabulary for inclusion in an extraction prompt.
func (r *Registry) Describe() string {
	return fmt.Sprintf("entity types: %s; relation types: %s",
		strings.Join(r.EntityTypeNames(), ", "),
		strings.Join(r.RelationNames(), ", "))
}
