package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
	mcpconfig "github.com/mnemograph/mnemo/pkg/mcp"
)

// MockServiceAdapter for testing
type MockServiceAdapter struct {
	mock.Mock
}

func (m *MockServiceAdapter) StoreFacts(
	ctx context.Context,
	facts []core.Fact,
	contextTag string,
) (*core.StoreFactsResult, error) {
	args := m.Called(ctx, facts, contextTag)
	if result := args.Get(0); result != nil {
		return result.(*core.StoreFactsResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) QueryKnowledge(
	ctx context.Context,
	search, contextFilter string,
) (*core.KnowledgeResult, error) {
	args := m.Called(ctx, search, contextFilter)
	if result := args.Get(0); result != nil {
		return result.(*core.KnowledgeResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) FindConnections(
	ctx context.Context,
	conceptA, conceptB string,
	maxDepth int,
) ([]core.Connection, error) {
	args := m.Called(ctx, conceptA, conceptB, maxDepth)
	if result := args.Get(0); result != nil {
		return result.([]core.Connection), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) ExecuteCypher(
	ctx context.Context,
	cypher string,
	params map[string]any,
) ([]map[string]any, *infra.QueryStats, error) {
	args := m.Called(ctx, cypher, params)
	var rows []map[string]any
	if result := args.Get(0); result != nil {
		rows = result.([]map[string]any)
	}
	var stats *infra.QueryStats
	if result := args.Get(1); result != nil {
		stats = result.(*infra.QueryStats)
	}
	return rows, stats, args.Error(2)
}

func (m *MockServiceAdapter) ExecuteTemplate(ctx context.Context, req *query.Request) (*query.Response, error) {
	args := m.Called(ctx, req)
	if result := args.Get(0); result != nil {
		return result.(*query.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) ListTemplates() []*query.Template {
	args := m.Called()
	if result := args.Get(0); result != nil {
		return result.([]*query.Template)
	}
	return nil
}

func (m *MockServiceAdapter) GetTemplate(name string) (*query.Template, error) {
	args := m.Called(name)
	if result := args.Get(0); result != nil {
		return result.(*query.Template), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) TemplateStates() map[string]query.TemplateState {
	args := m.Called()
	if result := args.Get(0); result != nil {
		return result.(map[string]query.TemplateState)
	}
	return nil
}

func (m *MockServiceAdapter) RejectionReason(name string) (string, bool) {
	args := m.Called(name)
	return args.String(0), args.Bool(1)
}

func (m *MockServiceAdapter) FetchSchema(ctx context.Context) (*schema.Snapshot, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.(*schema.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) ListIndexes(ctx context.Context) ([]map[string]any, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.([]map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) ValidateQuery(
	ctx context.Context,
	cypher string,
	params map[string]any,
) (*schema.QueryValidation, error) {
	args := m.Called(ctx, cypher, params)
	if result := args.Get(0); result != nil {
		return result.(*schema.QueryValidation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) ValidateChanges(ctx context.Context, proposed *schema.Definition) ([]string, error) {
	args := m.Called(ctx, proposed)
	if result := args.Get(0); result != nil {
		return result.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) SetupSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockServiceAdapter) CountNodesByLabel(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.(map[string]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAdapter) CountNodesForLabel(ctx context.Context, label string) (int64, error) {
	args := m.Called(ctx, label)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockServiceAdapter) CountRelationshipsForType(ctx context.Context, relType string) (int64, error) {
	args := m.Called(ctx, relType)
	return args.Get(0).(int64), args.Error(1)
}

// newTestServer builds a server around a mock adapter without going
// through tool registration
func newTestServer(adapter ServiceAdapter) *Server {
	return &Server{
		config:         mcpconfig.DefaultConfig(),
		serviceAdapter: adapter,
		cache:          make(map[string]cacheEntry),
	}
}

func envelopeText(t *testing.T, response *ToolResponse) string {
	t.Helper()
	require.NotNil(t, response)
	require.NotEmpty(t, response.Content)
	entry, ok := response.Content[0].(map[string]any)
	require.True(t, ok)
	text, ok := entry["text"].(string)
	require.True(t, ok)
	return text
}

func envelopeResource(t *testing.T, response *ToolResponse) (string, any) {
	t.Helper()
	require.NotNil(t, response)
	require.Len(t, response.Content, 2)
	entry, ok := response.Content[1].(map[string]any)
	require.True(t, ok)
	resource, ok := entry["resource"].(map[string]any)
	require.True(t, ok)
	uri, ok := resource["uri"].(string)
	require.True(t, ok)
	return uri, resource["data"]
}

func TestHandleCallToolInternal(t *testing.T) {
	t.Run("Should route template tools by prefix", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteTemplate", mock.Anything, mock.MatchedBy(func(req *query.Request) bool {
			return req.TemplateName == "entity-search" && req.Parameters["property"] == "type"
		})).Return(&query.Response{
			Results:      []map[string]any{{"name": "alice"}},
			TemplateUsed: "entity-search",
			Warnings:     []string{},
		}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleCallToolInternal(context.Background(), "template.entity-search", map[string]any{
			"property": "type",
			"operator": "=",
			"value":    "person",
		})

		require.NoError(t, err)
		assert.Contains(t, envelopeText(t, response), "entity-search")
	})

	t.Run("Should reject unknown tool names", func(t *testing.T) {
		server := newTestServer(new(MockServiceAdapter))

		response, err := server.HandleCallToolInternal(context.Background(), "graph-dump", map[string]any{})

		require.Error(t, err)
		assert.Nil(t, response)
		assert.Equal(t, core.ErrorCodeUnknownTool, core.CodeOf(err))
		assert.Contains(t, err.Error(), "Unknown tool: graph-dump")
	})

	t.Run("Should convert a handler panic into an error", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("QueryKnowledge", mock.Anything, "", "").
			Run(func(mock.Arguments) { panic("adapter blew up") }).
			Return(nil, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleCallToolInternal(context.Background(), "query-knowledge", map[string]any{})

		require.Error(t, err)
		assert.Nil(t, response)
		assert.Equal(t, core.ErrorCode("PANIC_RECOVERED"), core.CodeOf(err))
		assert.Contains(t, err.Error(), "adapter blew up")
	})
}

func TestHandleStoreFactsInternal(t *testing.T) {
	t.Run("Should store facts and report the total", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("StoreFacts", mock.Anything, mock.MatchedBy(func(facts []core.Fact) bool {
			return len(facts) == 2 && facts[0].Subject == "alice" && facts[1].Object == "acme"
		}), "work").Return(&core.StoreFactsResult{
			StoredFacts: []core.Fact{
				{Subject: "alice", Predicate: "knows", Object: "bob"},
				{Subject: "bob", Predicate: "works_at", Object: "acme"},
			},
			Context:     "work",
			TotalStored: 2,
		}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleStoreFactsInternal(context.Background(), map[string]any{
			"facts": []any{
				map[string]any{"subject": "alice", "predicate": "knows", "object": "bob"},
				map[string]any{"subject": "bob", "predicate": "works_at", "object": "acme"},
			},
			"context": "work",
		})

		require.NoError(t, err)
		assert.Equal(t, "Stored 2 facts in the knowledge graph", envelopeText(t, response))
		uri, data := envelopeResource(t, response)
		assert.Equal(t, "knowledge://facts/stored", uri)
		result, ok := data.(*core.StoreFactsResult)
		require.True(t, ok)
		assert.Equal(t, 2, result.TotalStored)
	})

	t.Run("Should reject a missing facts array", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		server := newTestServer(mockAdapter)

		_, err := server.HandleStoreFactsInternal(context.Background(), map[string]any{"context": "work"})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
		assert.Contains(t, err.Error(), "facts must be a non-empty array")
		mockAdapter.AssertNumberOfCalls(t, "StoreFacts", 0)
	})

	t.Run("Should reject a fact that is not an object", func(t *testing.T) {
		server := newTestServer(new(MockServiceAdapter))

		_, err := server.HandleStoreFactsInternal(context.Background(), map[string]any{
			"facts": []any{"alice knows bob"},
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fact 0 must be an object")
	})
}

func TestHandleQueryKnowledgeInternal(t *testing.T) {
	t.Run("Should wrap relations in the response envelope", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("QueryKnowledge", mock.Anything, "deploy", "work").Return(&core.KnowledgeResult{
			Relations: []core.Relation{
				{FromName: "ci", ToName: "prod", Type: "deploys_to"},
			},
			Context:    "work",
			TotalFound: 1,
		}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleQueryKnowledgeInternal(context.Background(), map[string]any{
			"query":   "deploy",
			"context": "work",
		})

		require.NoError(t, err)
		assert.Equal(t, "Found 1 relations in the knowledge graph", envelopeText(t, response))
		uri, data := envelopeResource(t, response)
		assert.Equal(t, "knowledge://relations", uri)
		result, ok := data.(*core.KnowledgeResult)
		require.True(t, ok)
		assert.Equal(t, "deploys_to", result.Relations[0].Type)
	})
}

func TestHandleFindConnectionsInternal(t *testing.T) {
	t.Run("Should forward the requested depth", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("FindConnections", mock.Anything, "alice", "carol", 5).Return([]core.Connection{
			{
				Nodes: []core.Entity{
					{Name: "alice", Type: "person"},
					{Name: "carol", Type: "person"},
				},
				RelationTypes: []string{"knows"},
				Length:        1,
			},
		}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleFindConnectionsInternal(context.Background(), map[string]any{
			"concept_a": "alice",
			"concept_b": "carol",
			"max_depth": float64(5),
		})

		require.NoError(t, err)
		assert.Equal(t, "Found 1 paths between 'alice' and 'carol'", envelopeText(t, response))
		uri, data := envelopeResource(t, response)
		assert.Equal(t, "knowledge://connections", uri)
		result, ok := data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 1, result["total_found"])
	})

	t.Run("Should pass zero depth when unset", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("FindConnections", mock.Anything, "alice", "carol", 0).Return([]core.Connection{}, nil)
		server := newTestServer(mockAdapter)

		_, err := server.HandleFindConnectionsInternal(context.Background(), map[string]any{
			"concept_a": "alice",
			"concept_b": "carol",
		})

		require.NoError(t, err)
		mockAdapter.AssertExpectations(t)
	})
}

func TestHandleExecuteCypherInternal(t *testing.T) {
	t.Run("Should execute the query and report the row count", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, "MATCH (n:Entity) RETURN n.name", map[string]any{}).
			Return([]map[string]any{{"n.name": "alice"}, {"n.name": "bob"}}, nil, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleExecuteCypherInternal(context.Background(), map[string]any{
			"query": "MATCH (n:Entity) RETURN n.name",
		})

		require.NoError(t, err)
		assert.Equal(t, "Query executed successfully, returned 2 results", envelopeText(t, response))
		_, data := envelopeResource(t, response)
		result, ok := data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 2, result["result_count"])
		assert.NotContains(t, result, "truncated")
		assert.NotContains(t, result, "counters")
	})

	t.Run("Should truncate results at the configured maximum", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, mock.Anything, mock.Anything).
			Return([]map[string]any{{"i": int64(1)}, {"i": int64(2)}, {"i": int64(3)}}, nil, nil)
		server := newTestServer(mockAdapter)
		server.config.Performance.MaxResults = 2

		response, err := server.HandleExecuteCypherInternal(context.Background(), map[string]any{
			"query": "UNWIND range(1, 3) AS i RETURN i",
		})

		require.NoError(t, err)
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		assert.Equal(t, 2, result["result_count"])
		assert.Equal(t, true, result["truncated"])
	})

	t.Run("Should include counters for write queries", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, mock.Anything, mock.Anything).
			Return([]map[string]any{}, &infra.QueryStats{
				Counters: infra.Counters{NodesCreated: 1, ContainsUpdates: true},
			}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleExecuteCypherInternal(context.Background(), map[string]any{
			"query": "CREATE (e:Entity {name: $name})",
			"parameters": map[string]any{
				"name": "alice",
			},
		})

		require.NoError(t, err)
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		counters, ok := result["counters"].(infra.Counters)
		require.True(t, ok)
		assert.Equal(t, 1, counters.NodesCreated)
	})

	t.Run("Should require a query", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		server := newTestServer(mockAdapter)

		_, err := server.HandleExecuteCypherInternal(context.Background(), map[string]any{})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
		mockAdapter.AssertNumberOfCalls(t, "ExecuteCypher", 0)
	})

	t.Run("Should pass through database errors", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, nil, core.NewError(
				assert.AnError, core.ErrorCodeDatabaseUnavailable, nil))
		server := newTestServer(mockAdapter)

		_, err := server.HandleExecuteCypherInternal(context.Background(), map[string]any{
			"query": "MATCH (n) RETURN n",
		})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeDatabaseUnavailable, core.CodeOf(err))
	})
}

func TestHandleGetSchemaInternal(t *testing.T) {
	snapshot := &schema.Snapshot{
		Nodes: []schema.LabelSchema{
			{Label: "Entity", Properties: []schema.PropertySchema{{Name: "name", Types: []string{"String"}}}},
		},
		Relationships: []schema.RelTypeSchema{
			{Type: "RELATES"},
		},
	}

	t.Run("Should cache the snapshot inside the TTL", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("FetchSchema", mock.Anything).Return(snapshot, nil)
		server := newTestServer(mockAdapter)

		first, err := server.HandleGetSchemaInternal(context.Background(), map[string]any{})
		require.NoError(t, err)
		_, err = server.HandleGetSchemaInternal(context.Background(), map[string]any{})
		require.NoError(t, err)

		assert.Equal(t, "Schema has 1 node labels and 1 relationship types", envelopeText(t, first))
		mockAdapter.AssertNumberOfCalls(t, "FetchSchema", 1)
	})

	t.Run("Should refetch when caching is disabled", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("FetchSchema", mock.Anything).Return(snapshot, nil)
		server := newTestServer(mockAdapter)
		server.config.Performance.SchemaCacheTTL = 0

		_, err := server.HandleGetSchemaInternal(context.Background(), map[string]any{})
		require.NoError(t, err)
		_, err = server.HandleGetSchemaInternal(context.Background(), map[string]any{})
		require.NoError(t, err)

		mockAdapter.AssertNumberOfCalls(t, "FetchSchema", 2)
	})
}

func TestHandleValidateQueryInternal(t *testing.T) {
	t.Run("Should report a clean validation", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ValidateQuery", mock.Anything, "MATCH (e:Entity) RETURN e", map[string]any{}).
			Return(&schema.QueryValidation{Warnings: []string{}}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleValidateQueryInternal(context.Background(), map[string]any{
			"query": "MATCH (e:Entity) RETURN e",
		})

		require.NoError(t, err)
		assert.Equal(t, "Query is valid against the current schema", envelopeText(t, response))
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		assert.Equal(t, true, result["valid"])
	})

	t.Run("Should surface validation warnings", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ValidateQuery", mock.Anything, mock.Anything, mock.Anything).
			Return(&schema.QueryValidation{Warnings: []string{
				"Query references unknown labels: Ghost",
				"Query may perform a full scan",
			}}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleValidateQueryInternal(context.Background(), map[string]any{
			"query": "MATCH (g:Ghost) RETURN g",
		})

		require.NoError(t, err)
		assert.Equal(t, "Query validation produced 2 warnings", envelopeText(t, response))
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		assert.Equal(t, false, result["valid"])
		assert.Len(t, result["warnings"], 2)
	})
}

func TestHandleSetupSchemaInternal(t *testing.T) {
	t.Run("Should apply the built-in statements", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("SetupSchema", mock.Anything).Return(nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleSetupSchemaInternal(context.Background(), map[string]any{})

		require.NoError(t, err)
		assert.Equal(t, "Schema constraints and indexes applied", envelopeText(t, response))
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		assert.Equal(t, true, result["applied"])
		assert.NotContains(t, result, "warnings")
		mockAdapter.AssertNumberOfCalls(t, "ValidateChanges", 0)
	})

	t.Run("Should check a proposed definition first", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ValidateChanges", mock.Anything, mock.MatchedBy(func(def *schema.Definition) bool {
			return len(def.Labels) == 1 && def.Labels[0].Name == "Project"
		})).Return([]string{"Labels not present in the current schema: Project"}, nil)
		mockAdapter.On("SetupSchema", mock.Anything).Return(nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleSetupSchemaInternal(context.Background(), map[string]any{
			"definition": map[string]any{
				"labels": []any{
					map[string]any{"name": "Project"},
				},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, "Schema constraints and indexes applied with 1 warnings", envelopeText(t, response))
		_, data := envelopeResource(t, response)
		result := data.(map[string]any)
		assert.Len(t, result["warnings"], 1)
	})

	t.Run("Should reject a malformed definition", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		server := newTestServer(mockAdapter)

		_, err := server.HandleSetupSchemaInternal(context.Background(), map[string]any{
			"definition": map[string]any{
				"labels": []any{
					map[string]any{"name": ""},
				},
			},
		})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
		mockAdapter.AssertNumberOfCalls(t, "SetupSchema", 0)
	})

	t.Run("Should not apply when the changes check fails", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ValidateChanges", mock.Anything, mock.Anything).
			Return(nil, core.NewError(assert.AnError, core.ErrorCodeDatabaseUnavailable, nil))
		server := newTestServer(mockAdapter)

		_, err := server.HandleSetupSchemaInternal(context.Background(), map[string]any{
			"definition": map[string]any{
				"labels": []any{
					map[string]any{"name": "Project"},
				},
			},
		})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeDatabaseUnavailable, core.CodeOf(err))
		mockAdapter.AssertNumberOfCalls(t, "SetupSchema", 0)
	})
}

func TestHandleListTemplatesInternal(t *testing.T) {
	templates := []*query.Template{
		{
			Name:        "entity-search",
			Description: "Search entities by property",
			Category:    "search",
			Parameters:  map[string]string{"property": "Property to filter on"},
		},
		{
			Name:        "relation-analytics",
			Description: "Aggregate relations over time",
			Category:    "analytics",
			Parameters:  map[string]string{},
		},
	}
	states := map[string]query.TemplateState{
		"entity-search":      query.StateLoaded,
		"relation-analytics": query.StateRejected,
	}

	t.Run("Should list states and rejection reasons", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ListTemplates").Return(templates)
		mockAdapter.On("TemplateStates").Return(states)
		mockAdapter.On("RejectionReason", "entity-search").Return("", false)
		mockAdapter.On("RejectionReason", "relation-analytics").
			Return("Template requires relationship types that don't exist in schema: OBSERVED", true)
		server := newTestServer(mockAdapter)

		response, err := server.HandleListTemplatesInternal(context.Background(), map[string]any{})

		require.NoError(t, err)
		assert.Equal(t, "2 templates registered, 1 loaded", envelopeText(t, response))
		uri, data := envelopeResource(t, response)
		assert.Equal(t, "templates://queries", uri)
		listing := data.(map[string]any)
		entries := listing["templates"].([]map[string]any)
		require.Len(t, entries, 2)
		assert.Equal(t, query.StateLoaded, entries[0]["state"])
		assert.NotContains(t, entries[0], "rejection_reason")
		assert.Equal(t, query.StateRejected, entries[1]["state"])
		assert.Contains(t, entries[1]["rejection_reason"], "OBSERVED")
	})

	t.Run("Should filter by category", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ListTemplates").Return(templates)
		mockAdapter.On("TemplateStates").Return(states)
		mockAdapter.On("RejectionReason", "entity-search").Return("", false)
		server := newTestServer(mockAdapter)

		response, err := server.HandleListTemplatesInternal(context.Background(), map[string]any{
			"category": "search",
		})

		require.NoError(t, err)
		_, data := envelopeResource(t, response)
		listing := data.(map[string]any)
		assert.Equal(t, 1, listing["total"])
	})
}

func TestHandleTemplateExecuteInternal(t *testing.T) {
	t.Run("Should split parameters from customizations", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteTemplate", mock.Anything, mock.MatchedBy(func(req *query.Request) bool {
			if req.TemplateName != "entity-search" {
				return false
			}
			if _, leaked := req.Parameters["customizations"]; leaked {
				return false
			}
			return req.Customizations != nil &&
				req.Customizations.Limit == 5 &&
				req.Customizations.OrderBy == "n.name"
		})).Return(&query.Response{
			Results:      []map[string]any{{"name": "alice"}},
			TemplateUsed: "entity-search",
			Warnings:     []string{},
		}, nil)
		server := newTestServer(mockAdapter)

		response, err := server.HandleTemplateExecuteInternal(context.Background(), "entity-search", map[string]any{
			"property": "type",
			"operator": "=",
			"value":    "person",
			"customizations": map[string]any{
				"limit":    float64(5),
				"order_by": "n.name",
			},
		})

		require.NoError(t, err)
		assert.Equal(t, "Template 'entity-search' returned 1 rows", envelopeText(t, response))
		uri, _ := envelopeResource(t, response)
		assert.Equal(t, "templates://queries/entity-search/results", uri)
	})

	t.Run("Should reject malformed customizations", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		server := newTestServer(mockAdapter)

		_, err := server.HandleTemplateExecuteInternal(context.Background(), "entity-search", map[string]any{
			"customizations": "ORDER BY n.name",
		})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
		mockAdapter.AssertNumberOfCalls(t, "ExecuteTemplate", 0)
	})

	t.Run("Should pass through executor rejections", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteTemplate", mock.Anything, mock.Anything).
			Return(nil, core.NewError(assert.AnError, core.ErrorCodeTemplateRejected, nil))
		server := newTestServer(mockAdapter)

		_, err := server.HandleTemplateExecuteInternal(context.Background(), "relation-analytics", map[string]any{})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeTemplateRejected, core.CodeOf(err))
	})
}
