package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/pkg/logger"
)

// ServiceConfig holds tunables for the knowledge service
type ServiceConfig struct {
	DefaultMaxDepth int // hop limit applied when FindConnections receives 0
	MaxPaths        int // cap on paths returned by FindConnections
	SearchLimit     int // cap on entities returned by SearchEntities
	TopEntities     int // size of the degree ranking in Statistics
}

// DefaultServiceConfig returns the default service configuration
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DefaultMaxDepth: 3,
		MaxPaths:        25,
		SearchLimit:     50,
		TopEntities:     10,
	}
}

type service struct {
	store   Store
	builder *query.KnowledgeBuilder
	config  *ServiceConfig
}

// NewService creates a knowledge service backed by the given store
func NewService(store Store, config *ServiceConfig) Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	return &service{
		store:   store,
		builder: query.NewKnowledgeBuilder(),
		config:  config,
	}
}

// StoreFacts persists all facts in a single write transaction so a batch
// either lands completely or not at all
func (s *service) StoreFacts(
	ctx context.Context,
	facts []core.Fact,
	contextTag string,
) (*core.StoreFactsResult, error) {
	if len(facts) == 0 {
		return nil, core.NewError(fmt.Errorf("no facts provided"), core.ErrorCodeInvalidInput, nil)
	}
	for i, fact := range facts {
		if fact.Subject == "" || fact.Predicate == "" || fact.Object == "" {
			return nil, core.NewError(
				fmt.Errorf("fact %d is incomplete: subject, predicate and object are required", i),
				core.ErrorCodeInvalidInput,
				map[string]any{"index": i},
			)
		}
	}

	statements := make([]infra.BatchStatement, 0, len(facts))
	for _, fact := range facts {
		cypher, params, err := s.builder.
			MergeFact(fact.Subject, fact.Predicate, fact.Object, contextTag).
			Build()
		if err != nil {
			return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
		}
		statements = append(statements, infra.BatchStatement{Query: cypher, Parameters: params})
	}

	stats, err := s.store.ExecuteBatchWrite(ctx, statements)
	if err != nil {
		return nil, err
	}

	nodesCreated := 0
	relationsCreated := 0
	if stats != nil {
		nodesCreated = stats.Counters.NodesCreated
		relationsCreated = stats.Counters.RelationshipsCreated
	}
	logger.Info("stored facts",
		"count", len(facts),
		"context", contextTag,
		"nodes_created", nodesCreated,
		"relationships_created", relationsCreated)

	return &core.StoreFactsResult{
		StoredFacts: facts,
		Context:     contextTag,
		TotalStored: len(facts),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// QueryKnowledge lists stored facts as relation triples, filtered by an
// optional search term and knowledge context
func (s *service) QueryKnowledge(
	ctx context.Context,
	search string,
	contextFilter string,
) (*core.KnowledgeResult, error) {
	term := strings.TrimSpace(search)

	var builder *query.Builder
	if term == "" {
		builder = s.builder.FactTriples(contextFilter)
	} else {
		builder = s.builder.FactsMatching(term, contextFilter)
	}

	cypher, params, err := builder.Build()
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
	}

	rows, err := s.store.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	relations := make([]core.Relation, 0, len(rows))
	for _, row := range rows {
		relations = append(relations, relationFromRow(row))
	}

	logger.Debug("queried knowledge", "matches", len(relations), "context", contextFilter)

	return &core.KnowledgeResult{
		Relations:  relations,
		Context:    contextFilter,
		TotalFound: len(relations),
	}, nil
}

// FindConnections finds paths between two concepts, shortest first
func (s *service) FindConnections(
	ctx context.Context,
	conceptA, conceptB string,
	maxDepth int,
) ([]core.Connection, error) {
	if conceptA == "" || conceptB == "" {
		return nil, core.NewError(
			fmt.Errorf("both concepts are required"),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}
	if maxDepth == 0 {
		maxDepth = s.config.DefaultMaxDepth
	}

	cypher, params, err := s.builder.
		PathsBetween(conceptA, conceptB, maxDepth).
		Limit(s.config.MaxPaths).
		Build()
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
	}

	rows, err := s.store.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	connections := make([]core.Connection, 0, len(rows))
	for _, row := range rows {
		connections = append(connections, connectionFromRow(row))
	}

	logger.Debug("found connections",
		"paths", len(connections),
		"max_depth", maxDepth)

	return connections, nil
}

// GetEntity fetches one entity and its direct connections
func (s *service) GetEntity(ctx context.Context, name string) (*EntityOverview, error) {
	if name == "" {
		return nil, core.NewError(
			fmt.Errorf("entity name is required"),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}

	cypher, params, err := s.builder.EntityOverview(name).Build()
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
	}

	rows, err := s.store.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.NewError(
			fmt.Errorf("entity '%s' not found", name),
			core.ErrorCodeEntityNotFound,
			map[string]any{"name": name},
		)
	}

	return overviewFromRow(rows[0]), nil
}

// SearchEntities finds entities whose name or type matches a pattern
func (s *service) SearchEntities(ctx context.Context, pattern string) ([]core.Entity, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, core.NewError(
			fmt.Errorf("search pattern is required"),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}

	cypher, params, err := s.builder.
		SearchEntities(pattern).
		Limit(s.config.SearchLimit).
		Build()
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
	}

	rows, err := s.store.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	entities := make([]core.Entity, 0, len(rows))
	for _, row := range rows {
		props, ok := row["e"].(map[string]any)
		if !ok {
			continue
		}
		entities = append(entities, entityFromProps(props))
	}

	return entities, nil
}

// Statistics summarizes the stored knowledge graph
func (s *service) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		EntityTypes:   make([]TypeCount, 0),
		RelationTypes: make([]TypeCount, 0),
		MostConnected: make([]DegreeRank, 0),
	}

	entityRows, err := s.runBuilder(ctx, s.builder.CountEntitiesByType())
	if err != nil {
		return nil, err
	}
	for _, row := range entityRows {
		bucket := TypeCount{Type: asString(row["entity_type"]), Count: asInt64(row["count"])}
		stats.EntityTypes = append(stats.EntityTypes, bucket)
		stats.TotalEntities += bucket.Count
	}

	relationRows, err := s.runBuilder(ctx, s.builder.CountRelationsByType())
	if err != nil {
		return nil, err
	}
	for _, row := range relationRows {
		bucket := TypeCount{Type: asString(row["relation_type"]), Count: asInt64(row["count"])}
		stats.RelationTypes = append(stats.RelationTypes, bucket)
		stats.TotalRelations += bucket.Count
	}

	topRows, err := s.runBuilder(ctx, s.builder.MostConnectedEntities(s.config.TopEntities))
	if err != nil {
		return nil, err
	}
	for _, row := range topRows {
		stats.MostConnected = append(stats.MostConnected, DegreeRank{
			Entity: asString(row["entity"]),
			Degree: asInt64(row["degree"]),
		})
	}

	return stats, nil
}

func (s *service) runBuilder(ctx context.Context, builder *query.Builder) ([]map[string]any, error) {
	cypher, params, err := builder.Build()
	if err != nil {
		return nil, core.NewError(err, core.ErrorCodeInvalidInput, nil)
	}
	return s.store.ExecuteQuery(ctx, cypher, params)
}

func relationFromRow(row map[string]any) core.Relation {
	relation := core.Relation{
		FromName: asString(row["from_entity"]),
		ToName:   asString(row["to_entity"]),
		Type:     asString(row["relation"]),
	}

	props := make(map[string]any)
	if c := asString(row["context"]); c != "" {
		props["context"] = c
	}
	if created, ok := row["created_at"]; ok && created != nil {
		props["created_at"] = created
	}
	if len(props) > 0 {
		relation.Properties = props
	}
	return relation
}

func connectionFromRow(row map[string]any) core.Connection {
	connection := core.Connection{
		Nodes:         make([]core.Entity, 0),
		RelationTypes: make([]string, 0),
	}

	if nodes, ok := row["nodes"].([]any); ok {
		for _, node := range nodes {
			if props, ok := node.(map[string]any); ok {
				connection.Nodes = append(connection.Nodes, core.Entity{
					Name: asString(props["name"]),
					Type: asString(props["type"]),
				})
			}
		}
	}
	if relations, ok := row["relation_types"].([]any); ok {
		for _, relation := range relations {
			connection.RelationTypes = append(connection.RelationTypes, asString(relation))
		}
	}
	connection.Length = int(asInt64(row["length"]))

	return connection
}

func overviewFromRow(row map[string]any) *EntityOverview {
	overview := &EntityOverview{Connections: make([]ConnectedEntity, 0)}

	if props, ok := row["entity"].(map[string]any); ok {
		overview.Entity = entityFromProps(props)
	}
	connections, ok := row["connections"].([]any)
	if !ok {
		return overview
	}
	for _, connection := range connections {
		props, ok := connection.(map[string]any)
		if !ok {
			continue
		}
		// OPTIONAL MATCH yields one all-null entry for isolated entities
		if props["entity"] == nil && props["relation"] == nil {
			continue
		}
		overview.Connections = append(overview.Connections, ConnectedEntity{
			Relation: asString(props["relation"]),
			Entity:   asString(props["entity"]),
			Context:  asString(props["context"]),
		})
	}
	return overview
}

func entityFromProps(props map[string]any) core.Entity {
	entity := core.Entity{
		Name: asString(props["name"]),
		Type: asString(props["type"]),
	}
	if created, ok := props["created_at"].(time.Time); ok {
		entity.CreatedAt = created
	}
	if observations, ok := props["observations"].([]any); ok {
		for _, observation := range observations {
			if text, ok := observation.(string); ok {
				entity.Observations = append(entity.Observations, text)
			}
		}
	}

	extra := make(map[string]any)
	for key, value := range props {
		switch key {
		case "name", "type", "created_at", "observations":
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		entity.Properties = extra
	}
	return entity
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
