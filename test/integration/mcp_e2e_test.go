package integration

import (
	"context"
	"testing"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/knowledge"
	"github.com/mnemograph/mnemo/engine/mcp"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
	mcpconfig "github.com/mnemograph/mnemo/pkg/mcp"
	"github.com/mnemograph/mnemo/pkg/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildAdapter wires the full service stack the way serve-mcp does
func buildAdapter(
	ctx context.Context,
	t *testing.T,
	repository infra.Repository,
) (mcp.ServiceAdapter, *query.Executor) {
	t.Helper()

	registry, err := query.NewRegistry()
	require.NoError(t, err)

	accessor := schema.NewAccessor(repository)
	validator := schema.NewValidator(accessor, repository)
	executor := query.NewExecutor(registry, validator, repository)
	require.NoError(t, executor.Initialize(ctx))

	knowledgeService := knowledge.NewService(repository, nil)
	adapter := mcp.NewServiceAdapter(repository, knowledgeService, accessor, validator, executor)
	return adapter, executor
}

// TestMCPServerIntegration exercises the MCP service adapter against real
// services and a live database
func TestMCPServerIntegration(t *testing.T) {
	// Skip if Neo4j is not available
	if !testhelpers.IsNeo4jAvailable() {
		t.Skip("Neo4j not available, skipping MCP integration test")
	}
	ctx := context.Background()

	container, err := testhelpers.StartNeo4jContainer(ctx)
	require.NoError(t, err)
	defer container.Stop(ctx)

	repository, err := container.CreateRepository(ctx)
	require.NoError(t, err)
	defer repository.Close()

	err = container.ClearDatabase(ctx)
	require.NoError(t, err)

	adapter, executor := buildAdapter(ctx, t, repository)

	t.Run("Should construct the server over the live adapter", func(t *testing.T) {
		server := mcp.NewServer(mcpconfig.DefaultConfig(), adapter)
		assert.NotNil(t, server)

		// Feature toggles must not break construction
		trimmed := mcpconfig.DefaultConfig()
		trimmed.Features.EnableResources = false
		trimmed.Features.EnablePrompts = false
		trimmed.Features.EnableValidation = false
		assert.NotNil(t, mcp.NewServer(trimmed, adapter))
	})

	t.Run("Should set up the schema through the adapter", func(t *testing.T) {
		err := adapter.SetupSchema(ctx)
		require.NoError(t, err)

		indexes, err := adapter.ListIndexes(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, indexes)
	})

	t.Run("Should store and query facts through the adapter", func(t *testing.T) {
		facts := []core.Fact{
			{Subject: "alice", Predicate: "works_at", Object: "acme"},
			{Subject: "bob", Predicate: "works_at", Object: "acme"},
			{Subject: "alice", Predicate: "knows", Object: "bob"},
		}
		stored, err := adapter.StoreFacts(ctx, facts, "mcp-e2e")
		require.NoError(t, err)
		assert.Equal(t, 3, stored.TotalStored)

		result, err := adapter.QueryKnowledge(ctx, "works_at", "mcp-e2e")
		require.NoError(t, err)
		assert.Equal(t, 2, result.TotalFound)

		connections, err := adapter.FindConnections(ctx, "bob", "alice", 2)
		require.NoError(t, err)
		assert.NotEmpty(t, connections)
	})

	t.Run("Should execute raw Cypher with statistics", func(t *testing.T) {
		rows, stats, err := adapter.ExecuteCypher(ctx,
			"MATCH (e:Entity) RETURN count(e) AS entities", nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0]["entities"])
		require.NotNil(t, stats)
		assert.False(t, stats.Counters.ContainsUpdates)
	})

	t.Run("Should snapshot the schema through the adapter", func(t *testing.T) {
		snapshot, err := adapter.FetchSchema(ctx)
		require.NoError(t, err)
		assert.Contains(t, snapshot.Labels(), "Entity")
		assert.Contains(t, snapshot.RelationshipTypes(), "RELATES")
	})

	t.Run("Should validate queries against the live schema", func(t *testing.T) {
		validation, err := adapter.ValidateQuery(ctx,
			"MATCH (e:Entity {name: $name}) RETURN e", map[string]any{"name": "alice"})
		require.NoError(t, err)
		require.NotNil(t, validation)

		// A label the database has never seen must surface as a warning
		validation, err = adapter.ValidateQuery(ctx, "MATCH (g:Ghost) RETURN g", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, validation.Warnings)
	})

	t.Run("Should flag schema change conflicts", func(t *testing.T) {
		warnings, err := adapter.ValidateChanges(ctx, &schema.Definition{
			Labels: []schema.LabelDefinition{{Name: "Entity"}},
		})
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "Entity")

		warnings, err = adapter.ValidateChanges(ctx, &schema.Definition{
			Labels: []schema.LabelDefinition{{Name: "Document"}},
		})
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("Should execute templates through the adapter", func(t *testing.T) {
		states := adapter.TemplateStates()
		assert.Equal(t, query.StateLoaded, states["entity_search"])

		templates := adapter.ListTemplates()
		assert.Len(t, templates, executor.Registry().Len())

		tmpl, err := adapter.GetTemplate("graph_analytics")
		require.NoError(t, err)
		assert.Equal(t, "graph_analytics", tmpl.Name)

		response, err := adapter.ExecuteTemplate(ctx, &query.Request{
			TemplateName: "graph_analytics",
			Parameters:   map[string]any{"limit": 10},
		})
		require.NoError(t, err)
		assert.Equal(t, "graph_analytics", response.TemplateUsed)
		assert.Len(t, response.Results, 3)
	})

	t.Run("Should count graph elements through the adapter", func(t *testing.T) {
		byLabel, err := adapter.CountNodesByLabel(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), byLabel["Entity"])

		entities, err := adapter.CountNodesForLabel(ctx, "Entity")
		require.NoError(t, err)
		assert.Equal(t, int64(3), entities)

		relations, err := adapter.CountRelationshipsForType(ctx, "RELATES")
		require.NoError(t, err)
		assert.Equal(t, int64(3), relations)
	})

	t.Run("Should handle concurrent adapter operations", func(t *testing.T) {
		const workers = 5
		results := make(chan error, workers)

		for i := 0; i < workers; i++ {
			go func() {
				_, err := adapter.QueryKnowledge(ctx, "works_at", "")
				results <- err
			}()
		}

		for i := 0; i < workers; i++ {
			assert.NoError(t, <-results)
		}
	})
}
