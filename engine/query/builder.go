package query

import (
	"fmt"
	"strings"
)

// Builder provides a fluent interface for building Cypher queries
type Builder struct {
	query      strings.Builder
	parameters map[string]any
	errors     []error
}

// NewBuilder creates a new query builder
func NewBuilder() *Builder {
	return &Builder{
		parameters: make(map[string]any),
		errors:     make([]error, 0),
	}
}

// Match adds a MATCH clause to the query
func (b *Builder) Match(pattern string) *Builder {
	if b.query.Len() > 0 {
		b.query.WriteString(" ")
	}
	b.query.WriteString("MATCH ")
	b.query.WriteString(pattern)
	return b
}

// OptionalMatch adds an OPTIONAL MATCH clause
func (b *Builder) OptionalMatch(pattern string) *Builder {
	if b.query.Len() > 0 {
		b.query.WriteString(" ")
	}
	b.query.WriteString("OPTIONAL MATCH ")
	b.query.WriteString(pattern)
	return b
}

// Where adds a WHERE clause
func (b *Builder) Where(condition string) *Builder {
	b.query.WriteString(" WHERE ")
	b.query.WriteString(condition)
	return b
}

// And adds an AND condition to the WHERE clause
func (b *Builder) And(condition string) *Builder {
	b.query.WriteString(" AND ")
	b.query.WriteString(condition)
	return b
}

// Or adds an OR condition to the WHERE clause
func (b *Builder) Or(condition string) *Builder {
	b.query.WriteString(" OR ")
	b.query.WriteString(condition)
	return b
}

// Return adds a RETURN clause
func (b *Builder) Return(fields string) *Builder {
	b.query.WriteString(" RETURN ")
	b.query.WriteString(fields)
	return b
}

// OrderBy adds an ORDER BY clause
func (b *Builder) OrderBy(fields string) *Builder {
	b.query.WriteString(" ORDER BY ")
	b.query.WriteString(fields)
	return b
}

// Limit adds a LIMIT clause
func (b *Builder) Limit(count int) *Builder {
	if count <= 0 {
		return b.fail(fmt.Errorf("limit must be positive, got %d", count))
	}
	fmt.Fprintf(&b.query, " LIMIT %d", count)
	return b
}

// Skip adds a SKIP clause
func (b *Builder) Skip(count int) *Builder {
	if count < 0 {
		return b.fail(fmt.Errorf("skip must not be negative, got %d", count))
	}
	fmt.Fprintf(&b.query, " SKIP %d", count)
	return b
}

// With adds a WITH clause
func (b *Builder) With(fields string) *Builder {
	b.query.WriteString(" WITH ")
	b.query.WriteString(fields)
	return b
}

// Create adds a CREATE clause
func (b *Builder) Create(pattern string) *Builder {
	if b.query.Len() > 0 {
		b.query.WriteString(" ")
	}
	b.query.WriteString("CREATE ")
	b.query.WriteString(pattern)
	return b
}

// Merge adds a MERGE clause
func (b *Builder) Merge(pattern string) *Builder {
	if b.query.Len() > 0 {
		b.query.WriteString(" ")
	}
	b.query.WriteString("MERGE ")
	b.query.WriteString(pattern)
	return b
}

// Set adds a SET clause
func (b *Builder) Set(assignments string) *Builder {
	b.query.WriteString(" SET ")
	b.query.WriteString(assignments)
	return b
}

// Delete adds a DELETE clause
func (b *Builder) Delete(nodes string) *Builder {
	b.query.WriteString(" DELETE ")
	b.query.WriteString(nodes)
	return b
}

// DetachDelete adds a DETACH DELETE clause
func (b *Builder) DetachDelete(nodes string) *Builder {
	b.query.WriteString(" DETACH DELETE ")
	b.query.WriteString(nodes)
	return b
}

// SetParameter adds a parameter to the query
func (b *Builder) SetParameter(name string, value any) *Builder {
	b.parameters[name] = value
	return b
}

// SetParameters adds multiple parameters to the query
func (b *Builder) SetParameters(params map[string]any) *Builder {
	for name, value := range params {
		b.parameters[name] = value
	}
	return b
}

// ContextFilter adds a knowledge-context filter condition
func (b *Builder) ContextFilter(context string) *Builder {
	b.SetParameter("context", context)
	return b
}

// fail records a build error; Build reports all recorded errors
func (b *Builder) fail(err error) *Builder {
	b.errors = append(b.errors, err)
	return b
}

// Build returns the final query and parameters
func (b *Builder) Build() (string, map[string]any, error) {
	if len(b.errors) > 0 {
		return "", nil, fmt.Errorf("query build errors: %v", b.errors)
	}
	return strings.TrimSpace(b.query.String()), b.parameters, nil
}

// String returns the query string
func (b *Builder) String() string {
	return strings.TrimSpace(b.query.String())
}

// KnowledgeBuilder provides high-level query building for the knowledge
// graph: Entity nodes connected by RELATES relationships whose type
// property carries the logical relation.
type KnowledgeBuilder struct{}

// NewKnowledgeBuilder creates a new knowledge-graph query builder
func NewKnowledgeBuilder() *KnowledgeBuilder {
	return &KnowledgeBuilder{}
}

// MergeFact creates a query that stores one fact as two merged entities
// and a merged relationship between them
func (kb *KnowledgeBuilder) MergeFact(subject, predicate, object, context string) *Builder {
	return NewBuilder().
		Merge("(a:Entity {name: $subject})").
		Merge("(b:Entity {name: $object})").
		Merge("(a)-[r:RELATES {type: $predicate}]->(b)").
		Set("r.context = $context, r.created_at = coalesce(r.created_at, datetime())").
		SetParameter("subject", subject).
		SetParameter("predicate", predicate).
		SetParameter("object", object).
		ContextFilter(context)
}

// factTripleFields is the row shape shared by all fact-listing queries
const factTripleFields = "a.name AS from_entity, r.type AS relation, b.name AS to_entity, " +
	"r.context AS context, r.created_at AS created_at"

// FactTriples creates a query that lists stored facts as triples,
// optionally restricted to one knowledge context
func (kb *KnowledgeBuilder) FactTriples(context string) *Builder {
	b := NewBuilder().
		Match("(a:Entity)-[r:RELATES]->(b:Entity)")
	if context != "" {
		b.Where("r.context = $context").
			ContextFilter(context)
	}
	return b.
		Return(factTripleFields).
		OrderBy("from_entity, relation, to_entity")
}

// FactsMatching creates a query that finds facts whose entities or relation
// contain a search term (case-insensitive), optionally restricted to one
// knowledge context
func (kb *KnowledgeBuilder) FactsMatching(term, context string) *Builder {
	b := NewBuilder().
		Match("(a:Entity)-[r:RELATES]->(b:Entity)").
		Where("(toLower(a.name) CONTAINS toLower($term)" +
			" OR toLower(b.name) CONTAINS toLower($term)" +
			" OR toLower(r.type) CONTAINS toLower($term))").
		SetParameter("term", term)
	if context != "" {
		b.And("r.context = $context").
			ContextFilter(context)
	}
	return b.
		Return(factTripleFields).
		OrderBy("from_entity, relation, to_entity")
}

// EntityOverview creates a query that fetches an entity together with its
// direct connections
func (kb *KnowledgeBuilder) EntityOverview(name string) *Builder {
	return NewBuilder().
		Match("(e:Entity)").
		Where("e.name = $name").
		OptionalMatch("(e)-[r:RELATES]-(other:Entity)").
		SetParameter("name", name).
		Return("e AS entity, collect({relation: r.type, entity: other.name, context: r.context}) AS connections")
}

// SearchEntities creates a query that finds entities whose name or type
// matches a pattern (case-insensitive)
func (kb *KnowledgeBuilder) SearchEntities(pattern string) *Builder {
	return NewBuilder().
		Match("(e:Entity)").
		Where("toLower(e.name) CONTAINS toLower($pattern)").
		Or("toLower(coalesce(e.type, '')) CONTAINS toLower($pattern)").
		SetParameter("pattern", pattern).
		Return("e").
		OrderBy("e.name")
}

// ConnectionsWithinDepth creates a query that finds all entities reachable
// from the named entity within maxDepth hops. Depth is bounded to keep
// variable-length expansion from running away.
func (kb *KnowledgeBuilder) ConnectionsWithinDepth(name string, maxDepth int) *Builder {
	b := NewBuilder()
	if maxDepth < 1 || maxDepth > 10 {
		return b.fail(fmt.Errorf("max depth must be between 1 and 10, got %d", maxDepth))
	}
	pattern := fmt.Sprintf("path = (start:Entity {name: $name})-[:RELATES*1..%d]-(connected:Entity)", maxDepth)
	return b.
		Match(pattern).
		Where("connected.name <> $name").
		SetParameter("name", name).
		Return("DISTINCT connected.name AS entity, " +
			"[rel IN relationships(path) | rel.type] AS relations, " +
			"length(path) AS distance").
		OrderBy("distance, entity")
}

// PathsBetween creates a query that finds paths connecting two entities
// within maxDepth hops, shortest first
func (kb *KnowledgeBuilder) PathsBetween(conceptA, conceptB string, maxDepth int) *Builder {
	b := NewBuilder()
	if maxDepth < 1 || maxDepth > 10 {
		return b.fail(fmt.Errorf("max depth must be between 1 and 10, got %d", maxDepth))
	}
	pattern := fmt.Sprintf(
		"path = (a:Entity {name: $concept_a})-[:RELATES*1..%d]-(b:Entity {name: $concept_b})",
		maxDepth,
	)
	return b.
		Match(pattern).
		SetParameter("concept_a", conceptA).
		SetParameter("concept_b", conceptB).
		Return("[n IN nodes(path) | {name: n.name, type: n.type}] AS nodes, " +
			"[rel IN relationships(path) | rel.type] AS relation_types, " +
			"length(path) AS length").
		OrderBy("length")
}

// CountEntitiesByType creates a query that counts entities per type
func (kb *KnowledgeBuilder) CountEntitiesByType() *Builder {
	return NewBuilder().
		Match("(e:Entity)").
		Return("coalesce(e.type, 'unknown') AS entity_type, count(e) AS count").
		OrderBy("count DESC, entity_type")
}

// CountRelationsByType creates a query that counts facts per relation type
func (kb *KnowledgeBuilder) CountRelationsByType() *Builder {
	return NewBuilder().
		Match("(:Entity)-[r:RELATES]->(:Entity)").
		Return("r.type AS relation_type, count(r) AS count").
		OrderBy("count DESC, relation_type")
}

// MostConnectedEntities creates a query that ranks entities by degree
func (kb *KnowledgeBuilder) MostConnectedEntities(limit int) *Builder {
	return NewBuilder().
		Match("(e:Entity)").
		With("e, count { (e)-[:RELATES]-() } AS degree").
		Return("e.name AS entity, degree").
		OrderBy("degree DESC, entity").
		Limit(limit)
}
