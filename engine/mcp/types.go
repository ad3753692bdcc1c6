package mcp

import (
	"context"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
)

// ServiceAdapter provides a unified interface for MCP operations
type ServiceAdapter interface {
	// Knowledge operations
	StoreFacts(ctx context.Context, facts []core.Fact, contextTag string) (*core.StoreFactsResult, error)
	QueryKnowledge(ctx context.Context, search, contextFilter string) (*core.KnowledgeResult, error)
	FindConnections(ctx context.Context, conceptA, conceptB string, maxDepth int) ([]core.Connection, error)

	// Query operations
	ExecuteCypher(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, *infra.QueryStats, error)
	ExecuteTemplate(ctx context.Context, req *query.Request) (*query.Response, error)
	ListTemplates() []*query.Template
	GetTemplate(name string) (*query.Template, error)
	TemplateStates() map[string]query.TemplateState
	RejectionReason(name string) (string, bool)

	// Schema operations
	FetchSchema(ctx context.Context) (*schema.Snapshot, error)
	ListIndexes(ctx context.Context) ([]map[string]any, error)
	ValidateQuery(ctx context.Context, cypher string, params map[string]any) (*schema.QueryValidation, error)
	ValidateChanges(ctx context.Context, proposed *schema.Definition) ([]string, error)
	SetupSchema(ctx context.Context) error

	// Graph statistics
	CountNodesByLabel(ctx context.Context) (map[string]int64, error)
	CountNodesForLabel(ctx context.Context, label string) (int64, error)
	CountRelationshipsForType(ctx context.Context, relType string) (int64, error)
}

// ToolResponse represents a response from a tool
type ToolResponse struct {
	Content []any `json:"content"`
}
