package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	t.Run("Should_build_basic_match_query", func(t *testing.T) {
		builder := NewBuilder()
		query, params, err := builder.
			Match("(e:Entity)").
			Where("e.name = $name").
			Return("e").
			Build()

		require.NoError(t, err)
		assert.Equal(t, "MATCH (e:Entity) WHERE e.name = $name RETURN e", query)
		assert.Empty(t, params)
	})

	t.Run("Should_build_query_with_parameters", func(t *testing.T) {
		builder := NewBuilder()
		query, params, err := builder.
			Match("(e:Entity)").
			Where("e.name = $name").
			SetParameter("name", "alice").
			Return("e").
			Build()

		require.NoError(t, err)
		assert.Contains(t, query, "MATCH (e:Entity)")
		assert.Equal(t, "alice", params["name"])
	})

	t.Run("Should_build_complex_query", func(t *testing.T) {
		builder := NewBuilder()
		query, params, err := builder.
			Match("(e:Entity)").
			Where("e.type = $type").
			And("e.name CONTAINS $fragment").
			SetParameter("type", "person").
			SetParameter("fragment", "al").
			Return("e.name, e.type").
			OrderBy("e.name").
			Limit(10).
			Build()

		require.NoError(t, err)
		assert.Contains(t, query, "MATCH (e:Entity)")
		assert.Contains(t, query, "WHERE e.type = $type")
		assert.Contains(t, query, "AND e.name CONTAINS $fragment")
		assert.Contains(t, query, "RETURN e.name, e.type")
		assert.Contains(t, query, "ORDER BY e.name")
		assert.Contains(t, query, "LIMIT 10")
		assert.Equal(t, "person", params["type"])
		assert.Equal(t, "al", params["fragment"])
	})

	t.Run("Should_build_write_query", func(t *testing.T) {
		builder := NewBuilder()
		query, _, err := builder.
			Merge("(e:Entity {name: $name})").
			Set("e.type = $type").
			Return("e").
			Build()

		require.NoError(t, err)
		assert.Equal(t, "MERGE (e:Entity {name: $name}) SET e.type = $type RETURN e", query)
	})

	t.Run("Should_set_context_parameter_via_filter", func(t *testing.T) {
		builder := NewBuilder()
		_, params, err := builder.
			Match("(e:Entity)").
			Return("e").
			ContextFilter("work").
			Build()

		require.NoError(t, err)
		assert.Equal(t, "work", params["context"])
	})

	t.Run("Should_report_invalid_limit", func(t *testing.T) {
		_, _, err := NewBuilder().
			Match("(e:Entity)").
			Return("e").
			Limit(0).
			Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be positive")
	})

	t.Run("Should_report_invalid_skip", func(t *testing.T) {
		_, _, err := NewBuilder().
			Match("(e:Entity)").
			Return("e").
			Skip(-1).
			Build()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "skip must not be negative")
	})
}

func TestKnowledgeBuilder(t *testing.T) {
	t.Run("Should_create_merge_fact_query", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		builder := kb.MergeFact("alice", "works_at", "acme", "employment")

		query, params, err := builder.Build()
		require.NoError(t, err)
		assert.Contains(t, query, "MERGE (a:Entity {name: $subject})")
		assert.Contains(t, query, "MERGE (b:Entity {name: $object})")
		assert.Contains(t, query, "MERGE (a)-[r:RELATES {type: $predicate}]->(b)")
		assert.Contains(t, query, "SET r.context = $context")
		assert.Contains(t, query, "coalesce(r.created_at, datetime())")
		assert.Equal(t, "alice", params["subject"])
		assert.Equal(t, "works_at", params["predicate"])
		assert.Equal(t, "acme", params["object"])
		assert.Equal(t, "employment", params["context"])
	})

	t.Run("Should_create_fact_triples_query", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.FactTriples("work").Build()

		require.NoError(t, err)
		assert.Contains(t, query, "MATCH (a:Entity)-[r:RELATES]->(b:Entity)")
		assert.Contains(t, query, "WHERE r.context = $context")
		assert.Contains(t, query, "a.name AS from_entity, r.type AS relation, b.name AS to_entity")
		assert.Equal(t, "work", params["context"])
	})

	t.Run("Should_omit_context_filter_when_empty", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.FactTriples("").Build()

		require.NoError(t, err)
		assert.NotContains(t, query, "WHERE")
		assert.Empty(t, params)
	})

	t.Run("Should_create_fact_search_query", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.FactsMatching("acme", "work").Build()

		require.NoError(t, err)
		assert.Contains(t, query, "toLower(a.name) CONTAINS toLower($term)")
		assert.Contains(t, query, "OR toLower(b.name) CONTAINS toLower($term)")
		assert.Contains(t, query, "OR toLower(r.type) CONTAINS toLower($term)")
		assert.Contains(t, query, "AND r.context = $context")
		assert.Equal(t, "acme", params["term"])
		assert.Equal(t, "work", params["context"])
	})

	t.Run("Should_search_facts_across_contexts_when_context_empty", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.FactsMatching("acme", "").Build()

		require.NoError(t, err)
		assert.NotContains(t, query, "r.context = $context")
		assert.NotContains(t, params, "context")
	})

	t.Run("Should_create_entity_overview_query", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.EntityOverview("alice").Build()

		require.NoError(t, err)
		assert.Contains(t, query, "MATCH (e:Entity)")
		assert.Contains(t, query, "WHERE e.name = $name")
		assert.Contains(t, query, "OPTIONAL MATCH (e)-[r:RELATES]-(other:Entity)")
		assert.Contains(t, query, "collect({relation: r.type, entity: other.name, context: r.context}) AS connections")
		assert.Equal(t, "alice", params["name"])
	})

	t.Run("Should_create_search_query_matching_name_or_type", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.SearchEntities("ali").Build()

		require.NoError(t, err)
		assert.Contains(t, query, "toLower(e.name) CONTAINS toLower($pattern)")
		assert.Contains(t, query, "OR toLower(coalesce(e.type, '')) CONTAINS toLower($pattern)")
		assert.Equal(t, "ali", params["pattern"])
	})

	t.Run("Should_create_bounded_connection_query", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.ConnectionsWithinDepth("alice", 3).Build()

		require.NoError(t, err)
		assert.Contains(t, query, "[:RELATES*1..3]")
		assert.Contains(t, query, "WHERE connected.name <> $name")
		assert.Contains(t, query, "length(path) AS distance")
		assert.Equal(t, "alice", params["name"])
	})

	t.Run("Should_reject_out_of_range_depth", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		_, _, err := kb.ConnectionsWithinDepth("alice", 0).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max depth must be between 1 and 10")

		_, _, err = kb.ConnectionsWithinDepth("alice", 11).Build()
		require.Error(t, err)
	})

	t.Run("Should_create_path_query_between_two_concepts", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, params, err := kb.PathsBetween("alice", "bob", 4).Build()

		require.NoError(t, err)
		assert.Contains(t, query, "(a:Entity {name: $concept_a})-[:RELATES*1..4]-(b:Entity {name: $concept_b})")
		assert.Contains(t, query, "[n IN nodes(path) | {name: n.name, type: n.type}] AS nodes")
		assert.Contains(t, query, "[rel IN relationships(path) | rel.type] AS relation_types")
		assert.Contains(t, query, "length(path) AS length")
		assert.Contains(t, query, "ORDER BY length")
		assert.Equal(t, "alice", params["concept_a"])
		assert.Equal(t, "bob", params["concept_b"])
	})

	t.Run("Should_reject_out_of_range_path_depth", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		_, _, err := kb.PathsBetween("alice", "bob", 0).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max depth must be between 1 and 10")
	})

	t.Run("Should_create_count_queries", func(t *testing.T) {
		kb := NewKnowledgeBuilder()

		query, _, err := kb.CountEntitiesByType().Build()
		require.NoError(t, err)
		assert.Contains(t, query, "coalesce(e.type, 'unknown') AS entity_type, count(e) AS count")

		query, _, err = kb.CountRelationsByType().Build()
		require.NoError(t, err)
		assert.Contains(t, query, "r.type AS relation_type, count(r) AS count")
	})

	t.Run("Should_rank_entities_by_degree", func(t *testing.T) {
		kb := NewKnowledgeBuilder()
		query, _, err := kb.MostConnectedEntities(5).Build()

		require.NoError(t, err)
		assert.Contains(t, query, "count { (e)-[:RELATES]-() } AS degree")
		assert.Contains(t, query, "ORDER BY degree DESC, entity")
		assert.Contains(t, query, "LIMIT 5")
	})
}
