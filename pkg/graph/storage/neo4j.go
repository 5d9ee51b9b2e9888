package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/athapong/finkg/pkg/graph"
	"github.com/athapong/finkg/pkg/schema"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/pkg/errors"
)

// Neo4jStore implements the Store interface against a Neo4j instance. Facts
// are FACT relationships keyed by the natural key and carry a version
// property; all conditional writes run inside write transactions.
type Neo4jStore struct {
	driver neo4j.Driver
	uri    string
}

// NewNeo4jStore creates a new Neo4j-backed store.
func NewNeo4jStore(uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriver(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Neo4j driver")
	}
	return &Neo4jStore{driver: driver, uri: uri}, nil
}

// Connect verifies connectivity and ensures constraints exist.
func (s *Neo4jStore) Connect(ctx context.Context) error {
	session := s.driver.NewSession(neo4j.SessionConfig{})
	defer session.Close()

	if _, err := session.Run("RETURN 1", nil); err != nil {
		return &graph.CapabilityError{Op: "neo4j.connect", Transient: true, Err: err}
	}
	_, err := session.Run(
		"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE", nil)
	if err != nil {
		// Older servers use the deprecated syntax; connectivity is already
		// proven, so a constraint failure is not fatal.
		_, _ = session.Run("CREATE CONSTRAINT ON (e:Entity) ASSERT e.id IS UNIQUE", nil)
	}
	return nil
}

// Close implements Store.
func (s *Neo4jStore) Close() error {
	if s.driver != nil {
		return s.driver.Close()
	}
	return nil
}

// Clear removes all nodes and relationships. Administrative only.
func (s *Neo4jStore) Clear(ctx context.Context) error {
	session := s.driver.NewSession(neo4j.SessionConfig{})
	defer session.Close()
	_, err := session.Run("MATCH (n) DETACH DELETE n", nil)
	return errors.Wrap(err, "failed to clear graph")
}

func (s *Neo4jStore) session() neo4j.Session {
	return s.driver.NewSession(neo4j.SessionConfig{})
}

// CreateEntity implements Store.
func (s *Neo4jStore) CreateEntity(ctx context.Context, entity *graph.Entity) error {
	session := s.session()
	defer session.Close()

	attrs, err := json.Marshal(entity.Attributes)
	if err != nil {
		return errors.Wrap(err, "failed to encode entity attributes")
	}
	aliasKeys := make([]string, len(entity.Aliases))
	for i, alias := range entity.Aliases {
		aliasKeys[i] = strings.ToLower(alias)
	}

	_, err = session.Run(`
		CREATE (e:Entity {
			id: $id,
			type: $type,
			name: $name,
			name_key: toLower($name),
			aliases: $aliases,
			alias_keys: $aliasKeys,
			attributes: $attributes,
			created_at: $createdAt
		})
	`, map[string]interface{}{
		"id":         entity.ID,
		"type":       string(entity.Type),
		"name":       entity.Name,
		"aliases":    entity.Aliases,
		"aliasKeys":  aliasKeys,
		"attributes": string(attrs),
		"createdAt":  entity.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return &graph.CapabilityError{Op: "neo4j.create_entity", Transient: true, Err: err}
	}
	return nil
}

// GetEntity implements Store.
func (s *Neo4jStore) GetEntity(ctx context.Context, id string) (*graph.Entity, error) {
	return s.findEntity("MATCH (e:Entity {id: $v}) RETURN e", id, "")
}

// FindEntityByName implements Store.
func (s *Neo4jStore) FindEntityByName(ctx context.Context, name string, entityType schema.EntityType) (*graph.Entity, error) {
	return s.findEntity(
		"MATCH (e:Entity {type: $type}) WHERE e.name_key = toLower($v) RETURN e",
		name, entityType)
}

// FindEntityByAlias implements Store.
func (s *Neo4jStore) FindEntityByAlias(ctx context.Context, alias string, entityType schema.EntityType) (*graph.Entity, error) {
	return s.findEntity(
		"MATCH (e:Entity {type: $type}) WHERE toLower($v) IN e.alias_keys RETURN e",
		alias, entityType)
}

func (s *Neo4jStore) findEntity(query, value string, entityType schema.EntityType) (*graph.Entity, error) {
	session := s.session()
	defer session.Close()

	result, err := session.Run(query, map[string]interface{}{
		"v":    value,
		"type": string(entityType),
	})
	if err != nil {
		return nil, &graph.CapabilityError{Op: "neo4j.find_entity", Transient: true, Err: err}
	}
	if result.Next() {
		node, ok := result.Record().Values[0].(neo4j.Node)
		if !ok {
			return nil, errors.New("unexpected record shape for entity")
		}
		return entityFromNode(node)
	}
	return nil, graph.ErrNotFound
}

// EntitiesByType implements Store.
func (s *Neo4jStore) EntitiesByType(ctx context.Context, entityType schema.EntityType) ([]graph.Entity, error) {
	session := s.session()
	defer session.Close()

	result, err := session.Run(
		"MATCH (e:Entity {type: $type}) RETURN e ORDER BY e.id",
		map[string]interface{}{"type": string(entityType)})
	if err != nil {
		return nil, &graph.CapabilityError{Op: "neo4j.entities_by_type", Transient: true, Err: err}
	}

	entities := make([]graph.Entity, 0)
	for result.Next() {
		node, ok := result.Record().Values[0].(neo4j.Node)
		if !ok {
			continue
		}
		entity, err := entityFromNode(node)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, nil
}

// AddAlias implements Store.
func (s *Neo4jStore) AddAlias(ctx context.Context, id, alias string) error {
	session := s.session()
	defer session.Close()

	_, err := session.Run(`
		MATCH (e:Entity {id: $id})
		WHERE NOT toLower($alias) IN e.alias_keys
		SET e.aliases = e.aliases + $alias,
		    e.alias_keys = e.alias_keys + toLower($alias)
	`, map[string]interface{}{"id": id, "alias": alias})
	if err != nil {
		return &graph.CapabilityError{Op: "neo4j.add_alias", Transient: true, Err: err}
	}
	return nil
}

// FactCount implements Store.
func (s *Neo4jStore) FactCount(ctx context.Context, id string) (int, error) {
	session := s.session()
	defer session.Close()

	result, err := session.Run(
		"MATCH (e:Entity {id: $id})-[r:FACT]-() RETURN count(r) AS c",
		map[string]interface{}{"id": id})
	if err != nil {
		return 0, &graph.CapabilityError{Op: "neo4j.fact_count", Transient: true, Err: err}
	}
	if result.Next() {
		if c, ok := result.Record().Values[0].(int64); ok {
			return int(c), nil
		}
	}
	return 0, nil
}

// MergeEntities implements Store. The whole rewrite runs in one write
// transaction so concurrent upserts never observe a half-merged graph.
func (s *Neo4jStore) MergeEntities(ctx context.Context, survivorID, losingID string) error {
	session := s.session()
	defer session.Close()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		// Union the loser's name and aliases onto the survivor.
		if _, err := tx.Run(`
			MATCH (w:Entity {id: $survivor}), (l:Entity {id: $loser})
			SET w.aliases = w.aliases + [a IN ([l.name] + l.aliases) WHERE NOT toLower(a) IN w.alias_keys AND toLower(a) <> w.name_key],
			    w.alias_keys = w.alias_keys + [a IN ([toLower(l.name)] + l.alias_keys) WHERE NOT a IN w.alias_keys AND a <> w.name_key]
		`, map[string]interface{}{"survivor": survivorID, "loser": losingID}); err != nil {
			return nil, err
		}

		// Rewrite facts endpoint by endpoint. A rewritten natural key may
		// collide with a fact the survivor already has; fold the observations
		// together instead of dropping one.
		loserFacts, err := readFactsTouching(tx, losingID)
		if err != nil {
			return nil, err
		}
		for _, lf := range loserFacts {
			fact := lf
			if fact.Head == losingID {
				fact.Head = survivorID
			}
			if fact.Tail == losingID {
				fact.Tail = survivorID
			}
			existing, version, err := readFactTx(tx, fact.Key())
			if err != nil {
				return nil, err
			}
			if existing != nil {
				mergeFactInto(existing, &fact)
				if err := writeFactTx(tx, existing, version, false); err != nil {
					return nil, err
				}
			} else {
				if err := writeFactTx(tx, &fact, 0, true); err != nil {
					return nil, err
				}
			}
		}

		_, err = tx.Run(
			"MATCH (l:Entity {id: $loser}) DETACH DELETE l",
			map[string]interface{}{"loser": losingID})
		return nil, err
	})
	if err != nil {
		return &graph.CapabilityError{Op: "neo4j.merge_entities", Transient: true, Err: err}
	}
	return nil
}

// GetFact implements Store.
func (s *Neo4jStore) GetFact(ctx context.Context, key graph.NaturalKey) (*graph.Fact, int64, error) {
	session := s.session()
	defer session.Close()

	result, err := session.Run(`
		MATCH (h:Entity {id: $head})-[r:FACT {key: $key}]->(t:Entity {id: $tail})
		RETURN r
	`, map[string]interface{}{"head": key.Head, "tail": key.Tail, "key": key.String()})
	if err != nil {
		return nil, 0, &graph.CapabilityError{Op: "neo4j.get_fact", Transient: true, Err: err}
	}
	if result.Next() {
		rel, ok := result.Record().Values[0].(neo4j.Relationship)
		if !ok {
			return nil, 0, errors.New("unexpected record shape for fact")
		}
		fact, version := factFromProps(key, rel.Props)
		return fact, version, nil
	}
	return nil, 0, nil
}

// PutFact implements Store. expectedVersion 0 creates the slot; any other
// value replaces exactly that version or fails with ErrVersionConflict.
func (s *Neo4jStore) PutFact(ctx context.Context, fact *graph.Fact, expectedVersion int64) error {
	session := s.session()
	defer session.Close()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		return nil, writeFactTx(tx, fact, expectedVersion, expectedVersion == 0)
	})
	if errors.Is(err, graph.ErrVersionConflict) {
		return graph.ErrVersionConflict
	}
	if err != nil {
		return &graph.CapabilityError{Op: "neo4j.put_fact", Transient: true, Err: err}
	}
	return nil
}

func factParams(fact *graph.Fact) map[string]interface{} {
	params := map[string]interface{}{
		"head":        fact.Head,
		"tail":        fact.Tail,
		"key":         fact.Key().String(),
		"relation":    fact.Relation,
		"provenance":  fact.Provenance,
		"confidence":  fact.Confidence,
		"extractedAt": fact.ExtractedAt.Format(time.RFC3339Nano),
		"date":        nil,
		"amountCur":   nil,
		"amountVal":   nil,
	}
	if fact.Date != nil {
		params["date"] = fact.Date.Format("2006-01-02")
	}
	if fact.Amount != nil {
		params["amountCur"] = fact.Amount.Currency
		params["amountVal"] = fact.Amount.Value
	}
	return params
}

func writeFactTx(tx neo4j.Transaction, fact *graph.Fact, expectedVersion int64, create bool) error {
	params := factParams(fact)
	var query string
	if create {
		query = `
			MATCH (h:Entity {id: $head}), (t:Entity {id: $tail})
			WHERE NOT (h)-[:FACT {key: $key}]->(t)
			CREATE (h)-[r:FACT {
				key: $key, relation: $relation, date: $date,
				amount_currency: $amountCur, amount_value: $amountVal,
				provenance: $provenance, confidence: $confidence,
				extracted_at: $extractedAt, version: 1
			}]->(t)
			RETURN r.version
		`
	} else {
		params["expected"] = expectedVersion
		query = `
			MATCH (h:Entity {id: $head})-[r:FACT {key: $key}]->(t:Entity {id: $tail})
			WHERE r.version = $expected
			SET r.relation = $relation, r.date = $date,
			    r.amount_currency = $amountCur, r.amount_value = $amountVal,
			    r.provenance = $provenance, r.confidence = $confidence,
			    r.extracted_at = $extractedAt, r.version = r.version + 1
			RETURN r.version
		`
	}
	result, err := tx.Run(query, params)
	if err != nil {
		return err
	}
	if !result.Next() {
		return graph.ErrVersionConflict
	}
	return nil
}

func readFactTx(tx neo4j.Transaction, key graph.NaturalKey) (*graph.Fact, int64, error) {
	result, err := tx.Run(`
		MATCH (h:Entity {id: $head})-[r:FACT {key: $key}]->(t:Entity {id: $tail})
		RETURN r
	`, map[string]interface{}{"head": key.Head, "tail": key.Tail, "key": key.String()})
	if err != nil {
		return nil, 0, err
	}
	if result.Next() {
		rel, ok := result.Record().Values[0].(neo4j.Relationship)
		if !ok {
			return nil, 0, errors.New("unexpected record shape for fact")
		}
		fact, version := factFromProps(key, rel.Props)
		return fact, version, nil
	}
	return nil, 0, nil
}

func readFactsTouching(tx neo4j.Transaction, entityID string) ([]graph.Fact, error) {
	result, err := tx.Run(`
		MATCH (h:Entity)-[r:FACT]->(t:Entity)
		WHERE h.id = $id OR t.id = $id
		RETURN h.id, t.id, r
	`, map[string]interface{}{"id": entityID})
	if err != nil {
		return nil, err
	}
	facts := make([]graph.Fact, 0)
	for result.Next() {
		values := result.Record().Values
		rel, ok := values[2].(neo4j.Relationship)
		if !ok {
			continue
		}
		key := graph.NaturalKey{
			Head:     values[0].(string),
			Relation: stringProp(rel.Props, "relation"),
			Tail:     values[1].(string),
		}
		fact, _ := factFromProps(key, rel.Props)
		facts = append(facts, *fact)
	}
	return facts, nil
}

// Select implements Store.
func (s *Neo4jStore) Select(ctx context.Context, query *graph.StructuredQuery) ([]graph.Row, error) {
	session := s.session()
	defer session.Close()

	anchorClause := "h.id = $anchor"
	if query.Intent == graph.IntentIncoming {
		anchorClause = "t.id = $anchor"
	}

	conditions := []string{"($anchor = '' OR " + anchorClause + ")"}
	params := map[string]interface{}{
		"anchor":    query.AnchorID,
		"relation":  query.Relation,
		"dateFrom":  "",
		"dateTo":    "",
		"amountCur": "",
		"amountVal": int64(0),
	}
	conditions = append(conditions, "($relation = '' OR r.relation = $relation)")
	if query.DateFrom != nil {
		params["dateFrom"] = query.DateFrom.Format("2006-01-02")
	}
	conditions = append(conditions, "($dateFrom = '' OR (r.date IS NOT NULL AND r.date >= $dateFrom))")
	if query.DateTo != nil {
		params["dateTo"] = query.DateTo.Format("2006-01-02")
	}
	conditions = append(conditions, "($dateTo = '' OR (r.date IS NOT NULL AND r.date <= $dateTo))")
	if query.MinAmount != nil {
		params["amountCur"] = query.MinAmount.Currency
		params["amountVal"] = query.MinAmount.Value
	}
	conditions = append(conditions,
		"($amountCur = '' OR (r.amount_currency = $amountCur AND r.amount_value >= $amountVal))")

	cypher := `
		MATCH (h:Entity)-[r:FACT]->(t:Entity)
		WHERE ` + strings.Join(conditions, " AND ")

	if query.Intent == graph.IntentCount {
		cypher += " RETURN count(r) AS count"
	} else {
		cypher += `
		RETURN h.name AS source, r.relation AS relation, t.name AS target,
		       r.date AS date, r.amount_currency AS amount_currency,
		       r.amount_value AS amount_value, r.confidence AS confidence
		ORDER BY r.confidence DESC, r.key`
		if query.Limit > 0 {
			cypher += " LIMIT $limit"
			params["limit"] = query.Limit
		}
	}

	result, err := session.Run(cypher, params)
	if err != nil {
		return nil, &graph.CapabilityError{Op: "neo4j.select", Transient: true, Err: err}
	}

	rows := make([]graph.Row, 0)
	for result.Next() {
		record := result.Record()
		if query.Intent == graph.IntentCount {
			count, _ := record.Values[0].(int64)
			rows = append(rows, graph.Row{"count": int(count)})
			continue
		}
		row := graph.Row{}
		for i, key := range record.Keys {
			switch key {
			case "amount_currency", "amount_value":
				continue
			case "date":
				if record.Values[i] != nil {
					row["date"] = record.Values[i]
				}
			default:
				row[key] = record.Values[i]
			}
		}
		if cur, ok := record.Get("amount_currency"); ok && cur != nil {
			if val, ok := record.Get("amount_value"); ok && val != nil {
				amount := graph.Amount{Currency: cur.(string), Value: val.(int64)}
				row["amount"] = amount.String()
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func entityFromNode(node neo4j.Node) (*graph.Entity, error) {
	entity := &graph.Entity{
		ID:   stringProp(node.Props, "id"),
		Type: schema.EntityType(stringProp(node.Props, "type")),
		Name: stringProp(node.Props, "name"),
	}
	if raw, ok := node.Props["aliases"].([]interface{}); ok {
		for _, alias := range raw {
			if s, ok := alias.(string); ok {
				entity.Aliases = append(entity.Aliases, s)
			}
		}
	}
	if raw := stringProp(node.Props, "attributes"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &entity.Attributes); err != nil {
			return nil, errors.Wrap(err, "failed to decode entity attributes")
		}
	}
	if raw := stringProp(node.Props, "created_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entity.CreatedAt = ts
		}
	}
	return entity, nil
}

func factFromProps(key graph.NaturalKey, props map[string]interface{}) (*graph.Fact, int64) {
	fact := &graph.Fact{
		Head:       key.Head,
		Relation:   key.Relation,
		Tail:       key.Tail,
		Confidence: floatProp(props, "confidence"),
	}
	if rel := stringProp(props, "relation"); rel != "" {
		fact.Relation = rel
	}
	if raw := stringProp(props, "date"); raw != "" {
		if d, err := time.Parse("2006-01-02", raw); err == nil {
			fact.Date = &d
		}
	}
	if cur := stringProp(props, "amount_currency"); cur != "" {
		if val, ok := props["amount_value"].(int64); ok {
			fact.Amount = &graph.Amount{Currency: cur, Value: val}
		}
	}
	if raw, ok := props["provenance"].([]interface{}); ok {
		for _, excerpt := range raw {
			if s, ok := excerpt.(string); ok {
				fact.Provenance = append(fact.Provenance, s)
			}
		}
	}
	if raw := stringProp(props, "extracted_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			fact.ExtractedAt = ts
		}
	}
	version, _ := props["version"].(int64)
	return fact, version
}

func stringProp(props map[string]interface{}, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func floatProp(props map[string]interface{}, key string) float64 {
	if f, ok := props[key].(float64); ok {
		return f
	}
	return 0
}
