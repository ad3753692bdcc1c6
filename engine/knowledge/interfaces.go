package knowledge

import (
	"context"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
)

// Store is the subset of the storage layer the knowledge service uses
type Store interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
	ExecuteBatchWrite(ctx context.Context, statements []infra.BatchStatement) (*infra.QueryStats, error)
}

// Service provides the knowledge-graph operations exposed over MCP and the CLI
type Service interface {
	// StoreFacts persists subject-predicate-object triples under a knowledge
	// context. All facts commit in a single write transaction.
	StoreFacts(ctx context.Context, facts []core.Fact, contextTag string) (*core.StoreFactsResult, error)

	// QueryKnowledge returns stored facts as relation triples. An empty search
	// term lists everything; a non-empty term matches entity names and
	// relation types case-insensitively. contextFilter narrows the result to
	// one knowledge context.
	QueryKnowledge(ctx context.Context, search string, contextFilter string) (*core.KnowledgeResult, error)

	// FindConnections finds paths between two concepts within maxDepth hops.
	// A maxDepth of 0 selects the configured default.
	FindConnections(ctx context.Context, conceptA, conceptB string, maxDepth int) ([]core.Connection, error)

	// GetEntity fetches one entity together with its direct connections
	GetEntity(ctx context.Context, name string) (*EntityOverview, error)

	// SearchEntities finds entities whose name or type matches a pattern
	SearchEntities(ctx context.Context, pattern string) ([]core.Entity, error)

	// Statistics summarizes the stored knowledge graph
	Statistics(ctx context.Context) (*Statistics, error)
}

// ConnectedEntity is one direct connection of an entity
type ConnectedEntity struct {
	Relation string `json:"relation"`
	Entity   string `json:"entity"`
	Context  string `json:"context,omitempty"`
}

// EntityOverview is an entity together with its direct connections
type EntityOverview struct {
	Entity      core.Entity       `json:"entity"`
	Connections []ConnectedEntity `json:"connections"`
}

// TypeCount is one bucket in a grouped count
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// DegreeRank ranks one entity by its number of connections
type DegreeRank struct {
	Entity string `json:"entity"`
	Degree int64  `json:"degree"`
}

// Statistics summarizes the stored knowledge graph
type Statistics struct {
	TotalEntities  int64        `json:"total_entities"`
	TotalRelations int64        `json:"total_relations"`
	EntityTypes    []TypeCount  `json:"entity_types"`
	RelationTypes  []TypeCount  `json:"relation_types"`
	MostConnected  []DegreeRank `json:"most_connected"`
}
