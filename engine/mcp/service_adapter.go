package mcp

import (
	"context"
	"fmt"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/knowledge"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
)

// serviceAdapter implements ServiceAdapter interface
type serviceAdapter struct {
	repository       infra.Repository
	knowledgeService knowledge.Service
	accessor         *schema.Accessor
	validator        *schema.Validator
	executor         *query.Executor
}

// NewServiceAdapter creates a new service adapter
func NewServiceAdapter(
	repository infra.Repository,
	knowledgeService knowledge.Service,
	accessor *schema.Accessor,
	validator *schema.Validator,
	executor *query.Executor,
) ServiceAdapter {
	return &serviceAdapter{
		repository:       repository,
		knowledgeService: knowledgeService,
		accessor:         accessor,
		validator:        validator,
		executor:         executor,
	}
}

// StoreFacts persists a batch of subject-predicate-object triples
func (s *serviceAdapter) StoreFacts(
	ctx context.Context,
	facts []core.Fact,
	contextTag string,
) (*core.StoreFactsResult, error) {
	return s.knowledgeService.StoreFacts(ctx, facts, contextTag)
}

// QueryKnowledge searches stored relations by term and context
func (s *serviceAdapter) QueryKnowledge(
	ctx context.Context,
	search, contextFilter string,
) (*core.KnowledgeResult, error) {
	return s.knowledgeService.QueryKnowledge(ctx, search, contextFilter)
}

// FindConnections finds paths between two entities
func (s *serviceAdapter) FindConnections(
	ctx context.Context,
	conceptA, conceptB string,
	maxDepth int,
) ([]core.Connection, error) {
	return s.knowledgeService.FindConnections(ctx, conceptA, conceptB, maxDepth)
}

// ExecuteCypher runs a custom Cypher query in an auto-commit transaction,
// so reads, writes and SHOW commands all work through the same path
func (s *serviceAdapter) ExecuteCypher(
	ctx context.Context,
	cypher string,
	params map[string]any,
) ([]map[string]any, *infra.QueryStats, error) {
	return s.repository.ExecuteQueryWithStats(ctx, cypher, params)
}

// ExecuteTemplate runs one loaded template
func (s *serviceAdapter) ExecuteTemplate(ctx context.Context, req *query.Request) (*query.Response, error) {
	return s.executor.Execute(ctx, req)
}

// ListTemplates returns every registered template in name order
func (s *serviceAdapter) ListTemplates() []*query.Template {
	return s.executor.Registry().List()
}

// GetTemplate looks up a single template by name
func (s *serviceAdapter) GetTemplate(name string) (*query.Template, error) {
	return s.executor.Registry().Get(name)
}

// TemplateStates returns the validation state of every template
func (s *serviceAdapter) TemplateStates() map[string]query.TemplateState {
	return s.executor.States()
}

// RejectionReason returns why a template was rejected, if it was
func (s *serviceAdapter) RejectionReason(name string) (string, bool) {
	return s.executor.RejectionReason(name)
}

// FetchSchema returns a fresh snapshot of the live database schema
func (s *serviceAdapter) FetchSchema(ctx context.Context) (*schema.Snapshot, error) {
	return s.accessor.Fetch(ctx)
}

// ListIndexes returns the indexes and constraints currently in the database
func (s *serviceAdapter) ListIndexes(ctx context.Context) ([]map[string]any, error) {
	return s.repository.ShowIndexes(ctx)
}

// ValidateQuery checks a Cypher query against the live schema without
// executing it
func (s *serviceAdapter) ValidateQuery(
	ctx context.Context,
	cypher string,
	params map[string]any,
) (*schema.QueryValidation, error) {
	return s.validator.ValidateQuery(ctx, cypher, params)
}

// ValidateChanges compares a proposed schema definition against the live
// schema and returns the differences as warnings
func (s *serviceAdapter) ValidateChanges(ctx context.Context, proposed *schema.Definition) ([]string, error) {
	return s.validator.ValidateChanges(ctx, proposed)
}

// SetupSchema applies the knowledge graph constraints and indexes
func (s *serviceAdapter) SetupSchema(ctx context.Context) error {
	statements := schema.SetupStatements()
	if err := s.repository.ApplySchemaStatements(ctx, statements); err != nil {
		return core.NewError(
			fmt.Errorf("schema setup failed: %w", err),
			core.ErrorCodeSchemaSetupFailed,
			map[string]any{"statements": len(statements)},
		)
	}
	return nil
}

// CountNodesByLabel counts nodes grouped by label
func (s *serviceAdapter) CountNodesByLabel(ctx context.Context) (map[string]int64, error) {
	return s.repository.CountNodesByLabel(ctx)
}

// CountNodesForLabel counts the nodes carrying one label
func (s *serviceAdapter) CountNodesForLabel(ctx context.Context, label string) (int64, error) {
	return s.repository.CountNodesForLabel(ctx, label)
}

// CountRelationshipsForType counts the relationships of one type
func (s *serviceAdapter) CountRelationshipsForType(ctx context.Context, relType string) (int64, error) {
	return s.repository.CountRelationshipsForType(ctx, relType)
}
