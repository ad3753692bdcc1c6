package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
)

func decodeResource(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload
}

func TestHandleReadResourceInternal(t *testing.T) {
	newRegisteredServer := func(mockAdapter *MockServiceAdapter) *Server {
		mockAdapter.On("ListTemplates").Return([]*query.Template{})
		mockAdapter.On("TemplateStates").Return(map[string]query.TemplateState{})
		return NewServer(nil, mockAdapter)
	}

	t.Run("Should match a templated URI", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("CountNodesForLabel", mock.Anything, "Person").Return(int64(42), nil)
		server := newRegisteredServer(mockAdapter)

		data, err := server.HandleReadResourceInternal(context.Background(), "neo4j://nodes/Person/count")

		require.NoError(t, err)
		payload := decodeResource(t, data)
		assert.Equal(t, "Person", payload["label"])
		assert.Equal(t, float64(42), payload["count"])
	})

	t.Run("Should serve a static resource", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("CountNodesByLabel", mock.Anything).Return(map[string]int64{
			"Entity":  10,
			"Context": 2,
		}, nil)
		server := newRegisteredServer(mockAdapter)

		data, err := server.HandleReadResourceInternal(context.Background(), "neo4j://labels/count")

		require.NoError(t, err)
		payload := decodeResource(t, data)
		assert.Equal(t, float64(2), payload["label_count"])
	})

	t.Run("Should reject an unknown URI", func(t *testing.T) {
		server := newRegisteredServer(new(MockServiceAdapter))

		_, err := server.HandleReadResourceInternal(context.Background(), "neo4j://unknown/thing")

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeUnknownResource, core.CodeOf(err))
		assert.Contains(t, err.Error(), "Unknown resource: neo4j://unknown/thing")
	})
}

func TestHandleSchemaNodesResource(t *testing.T) {
	t.Run("Should serve the node side of the snapshot", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("FetchSchema", mock.Anything).Return(&schema.Snapshot{
			Nodes: []schema.LabelSchema{
				{Label: "Entity", Properties: []schema.PropertySchema{{Name: "name", Types: []string{"String"}}}},
				{Label: "Context"},
			},
			Relationships: []schema.RelTypeSchema{{Type: "RELATES"}},
		}, nil)
		server := newTestServer(mockAdapter)

		data, err := server.HandleSchemaNodesResource(context.Background(), nil)

		require.NoError(t, err)
		payload := decodeResource(t, data)
		nodes, ok := payload["nodes"].([]any)
		require.True(t, ok)
		assert.Len(t, nodes, 2)
		assert.NotContains(t, payload, "relationships")
	})
}

func TestHandleMemoryStatsResource(t *testing.T) {
	t.Run("Should map settings by name and skip blanks", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, mock.MatchedBy(func(cypher string) bool {
			return strings.Contains(cypher, "SHOW SETTINGS")
		}), mock.Anything).Return([]map[string]any{
			{"name": "server.memory.heap.max_size", "value": "1G"},
			{"name": "", "value": "ignored"},
		}, nil, nil)
		server := newTestServer(mockAdapter)

		data, err := server.HandleMemoryStatsResource(context.Background(), nil)

		require.NoError(t, err)
		payload := decodeResource(t, data)
		settings, ok := payload["settings"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "1G", settings["server.memory.heap.max_size"])
		assert.Equal(t, float64(1), payload["total"])
	})
}

func TestHandleSlowQueriesResource(t *testing.T) {
	t.Run("Should filter transactions by elapsed time", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("ExecuteCypher", mock.Anything, mock.MatchedBy(func(cypher string) bool {
			return strings.Contains(cypher, "SHOW TRANSACTIONS") && strings.Contains(cypher, "$threshold")
		}), mock.MatchedBy(func(params map[string]any) bool {
			return params["threshold"] == slowQueryThresholdMillis
		})).Return([]map[string]any{
			{"transactionId": "neo4j-transaction-7", "currentQuery": "MATCH (n) RETURN n"},
		}, nil, nil)
		server := newTestServer(mockAdapter)

		data, err := server.HandleSlowQueriesResource(context.Background(), nil)

		require.NoError(t, err)
		payload := decodeResource(t, data)
		assert.Equal(t, float64(slowQueryThresholdMillis), payload["threshold_ms"])
		assert.Equal(t, float64(1), payload["total_detected"])
	})
}

func TestHandleNodeCountResource(t *testing.T) {
	t.Run("Should require a label", func(t *testing.T) {
		server := newTestServer(new(MockServiceAdapter))

		_, err := server.HandleNodeCountResource(context.Background(), map[string]string{})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeInvalidInput, core.CodeOf(err))
	})
}

func TestHandleTemplateDetailResource(t *testing.T) {
	t.Run("Should include the query text and state", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("GetTemplate", "entity-search").Return(&query.Template{
			Name:        "entity-search",
			Description: "Search entities by property",
			Category:    "search",
			Query: query.Query{
				Match:  "(n:Entity)",
				Where:  []string{"n[$property] = $value"},
				Return: "n",
			},
			RequiredLabels: []string{"Entity"},
			Parameters:     map[string]string{"property": "Property to filter on"},
		}, nil)
		mockAdapter.On("TemplateStates").Return(map[string]query.TemplateState{
			"entity-search": query.StateLoaded,
		})
		mockAdapter.On("RejectionReason", "entity-search").Return("", false)
		server := newTestServer(mockAdapter)

		data, err := server.HandleTemplateDetailResource(context.Background(), map[string]string{
			"name": "entity-search",
		})

		require.NoError(t, err)
		payload := decodeResource(t, data)
		assert.Equal(t, "entity-search", payload["name"])
		assert.Equal(t, string(query.StateLoaded), payload["state"])
		assert.Contains(t, payload["query"], "MATCH (n:Entity)")
		assert.Equal(t, []any{"Entity"}, payload["required_labels"])
	})

	t.Run("Should pass through unknown template errors", func(t *testing.T) {
		mockAdapter := new(MockServiceAdapter)
		mockAdapter.On("GetTemplate", "ghost").Return(nil, core.NewError(
			assert.AnError, core.ErrorCodeUnknownTemplate, nil))
		server := newTestServer(mockAdapter)

		_, err := server.HandleTemplateDetailResource(context.Background(), map[string]string{
			"name": "ghost",
		})

		require.Error(t, err)
		assert.Equal(t, core.ErrorCodeUnknownTemplate, core.CodeOf(err))
	})
}
