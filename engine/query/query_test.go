package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Render(t *testing.T) {
	t.Run("Should_render_all_slots_in_clause_order", func(t *testing.T) {
		q := Query{
			Match:   "(n:Person)",
			Where:   []string{"n.active = true", "n.age > $min_age"},
			Return:  "n",
			OrderBy: "n.name",
			Limit:   "$limit",
		}
		assert.Equal(t,
			"MATCH (n:Person) WHERE n.active = true AND n.age > $min_age "+
				"RETURN n ORDER BY n.name LIMIT $limit",
			q.Render())
	})

	t.Run("Should_render_create_query_without_match_stage", func(t *testing.T) {
		q := Query{
			Body:   "CREATE (n:Entity) SET n = $properties",
			Return: "n",
		}
		assert.Equal(t, "CREATE (n:Entity) SET n = $properties RETURN n", q.Render())
	})

	t.Run("Should_render_body_between_where_and_return", func(t *testing.T) {
		q := Query{
			Match:  "(n:Entity)",
			Where:  []string{"n.type = $type"},
			Body:   "WITH n, count { (n)--() } AS degree",
			Return: "n, degree",
		}
		assert.Equal(t,
			"MATCH (n:Entity) WHERE n.type = $type "+
				"WITH n, count { (n)--() } AS degree RETURN n, degree",
			q.Render())
	})

	t.Run("Should_skip_empty_slots", func(t *testing.T) {
		q := Query{Match: "(n)", Return: "n"}
		assert.Equal(t, "MATCH (n) RETURN n", q.Render())
	})

	t.Run("Should_render_deterministically", func(t *testing.T) {
		q := Query{
			Match:   "(n:Entity)",
			Where:   []string{"n.name = $name"},
			Return:  "n",
			OrderBy: "n.name",
			Limit:   "10",
		}
		first := q.Render()
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, q.Render())
		}
	})

	t.Run("Should_report_empty_query", func(t *testing.T) {
		assert.True(t, Query{}.IsEmpty())
		assert.False(t, Query{Return: "1"}.IsEmpty())
	})
}

func TestQuery_WithWhere(t *testing.T) {
	t.Run("Should_append_predicate_to_where_block", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Where: []string{"n.active = true"}, Return: "n"}
		composed, err := q.WithWhere("n.age > 30")
		require.NoError(t, err)
		assert.Equal(t,
			"MATCH (n:Person) WHERE n.active = true AND n.age > 30 RETURN n",
			composed.Render())
	})

	t.Run("Should_start_where_block_when_absent", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n"}
		composed, err := q.WithWhere("n.age > 30")
		require.NoError(t, err)
		assert.Equal(t, "MATCH (n:Person) WHERE n.age > 30 RETURN n", composed.Render())
	})

	t.Run("Should_not_mutate_the_original_query", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Where: []string{"n.active = true"}, Return: "n"}
		_, err := q.WithWhere("n.age > 30")
		require.NoError(t, err)
		assert.Equal(t, []string{"n.active = true"}, q.Where)
	})

	t.Run("Should_refuse_empty_predicate", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n"}
		_, err := q.WithWhere("  ")
		assert.Error(t, err)
	})

	t.Run("Should_refuse_predicate_without_match_stage", func(t *testing.T) {
		q := Query{Body: "CREATE (n:Entity) SET n = $properties", Return: "n"}
		_, err := q.WithWhere("n.name = 'x'")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no match stage")
	})
}

func TestQuery_WithOrderBy(t *testing.T) {
	t.Run("Should_replace_sort_and_preserve_limit", func(t *testing.T) {
		q := Query{
			Match:   "(n:Person)",
			Return:  "n",
			OrderBy: "n.name",
			Limit:   "$limit",
		}
		composed := q.WithOrderBy("n.age DESC")
		rendered := composed.Render()
		assert.Equal(t, "MATCH (n:Person) RETURN n ORDER BY n.age DESC LIMIT $limit", rendered)
		assert.Equal(t, 1, strings.Count(rendered, "ORDER BY"))
	})

	t.Run("Should_add_sort_when_absent", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n", Limit: "10"}
		assert.Equal(t,
			"MATCH (n:Person) RETURN n ORDER BY n.age LIMIT 10",
			q.WithOrderBy("n.age").Render())
	})
}

func TestQuery_WithLimit(t *testing.T) {
	t.Run("Should_replace_limit_slot_with_literal", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n", Limit: "$limit"}
		composed, err := q.WithLimit(5)
		require.NoError(t, err)
		rendered := composed.Render()
		assert.Equal(t, "MATCH (n:Person) RETURN n LIMIT 5", rendered)
		assert.Equal(t, 1, strings.Count(rendered, "LIMIT"))
	})

	t.Run("Should_keep_a_single_limit_after_repeated_application", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n", Limit: "$limit"}
		composed, err := q.WithLimit(5)
		require.NoError(t, err)
		composed, err = composed.WithLimit(7)
		require.NoError(t, err)
		rendered := composed.Render()
		assert.Equal(t, 1, strings.Count(rendered, "LIMIT"))
		assert.Contains(t, rendered, "LIMIT 7")
	})

	t.Run("Should_refuse_zero_and_negative_limits", func(t *testing.T) {
		q := Query{Match: "(n:Person)", Return: "n"}
		_, err := q.WithLimit(0)
		assert.Error(t, err)
		_, err = q.WithLimit(-3)
		assert.Error(t, err)
	})
}

func TestQuery_Parameters(t *testing.T) {
	t.Run("Should_extract_parameter_names_in_first_appearance_order", func(t *testing.T) {
		q := Query{
			Match:  "(n:Entity)",
			Where:  []string{"n[$property] = $value", "n.score > $value"},
			Return: "n",
			Limit:  "$limit",
		}
		assert.Equal(t, []string{"property", "value", "limit"}, q.Parameters())
	})

	t.Run("Should_return_empty_for_parameterless_query", func(t *testing.T) {
		q := Query{Match: "(n)", Return: "n"}
		assert.Empty(t, q.Parameters())
	})
}
