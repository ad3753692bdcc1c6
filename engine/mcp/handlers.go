package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
	"github.com/mnemograph/mnemo/pkg/errors"
	"github.com/mnemograph/mnemo/pkg/logger"
)

// slowQueryThresholdMillis is the elapsed time past which a running
// query shows up under neo4j://queries/slow.
const slowQueryThresholdMillis = 1000

// HandleCallToolInternal routes one tool invocation by name. The stdio
// transport rejects unregistered tools on its own; this entry point gives
// direct callers the same structured taxonomy for unknown names. A panic
// in any handler comes back as an error instead of ending the session.
func (s *Server) HandleCallToolInternal(
	ctx context.Context,
	name string,
	input map[string]any,
) (*ToolResponse, error) {
	if timeout := s.config.Performance.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var response *ToolResponse
	err := errors.WithRecover("tool:"+name, func() error {
		var callErr error
		response, callErr = s.dispatchTool(ctx, name, input)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

// dispatchTool maps a tool name to its handler
func (s *Server) dispatchTool(ctx context.Context, name string, input map[string]any) (*ToolResponse, error) {
	if strings.HasPrefix(name, templateToolPrefix) {
		return s.HandleTemplateExecuteInternal(ctx, strings.TrimPrefix(name, templateToolPrefix), input)
	}

	switch name {
	case "store-facts":
		return s.HandleStoreFactsInternal(ctx, input)
	case "query-knowledge":
		return s.HandleQueryKnowledgeInternal(ctx, input)
	case "find-connections":
		return s.HandleFindConnectionsInternal(ctx, input)
	case "execute-cypher":
		return s.HandleExecuteCypherInternal(ctx, input)
	case "get-schema":
		return s.HandleGetSchemaInternal(ctx, input)
	case "validate-query":
		return s.HandleValidateQueryInternal(ctx, input)
	case "setup-schema":
		return s.HandleSetupSchemaInternal(ctx, input)
	case "list-templates":
		return s.HandleListTemplatesInternal(ctx, input)
	default:
		return nil, core.NewError(
			fmt.Errorf("Unknown tool: %s", name),
			core.ErrorCodeUnknownTool,
			nil,
		)
	}
}

// HandleStoreFactsInternal stores a batch of facts in one transaction
func (s *Server) HandleStoreFactsInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	facts, err := factsFromInput(input["facts"])
	if err != nil {
		return nil, err
	}
	contextTag, _ := input["context"].(string)

	result, err := s.serviceAdapter.StoreFacts(ctx, facts, contextTag)
	if err != nil {
		return nil, err
	}

	return &ToolResponse{
		Content: []any{
			textContent(fmt.Sprintf("Stored %d facts in the knowledge graph", result.TotalStored)),
			resourceContent("knowledge://facts/stored", result),
		},
	}, nil
}

// HandleQueryKnowledgeInternal searches stored relations
func (s *Server) HandleQueryKnowledgeInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	search, _ := input["query"].(string)
	contextFilter, _ := input["context"].(string)

	result, err := s.serviceAdapter.QueryKnowledge(ctx, search, contextFilter)
	if err != nil {
		return nil, err
	}

	return &ToolResponse{
		Content: []any{
			textContent(fmt.Sprintf("Found %d relations in the knowledge graph", result.TotalFound)),
			resourceContent("knowledge://relations", result),
		},
	}, nil
}

// HandleFindConnectionsInternal finds paths between two entities
func (s *Server) HandleFindConnectionsInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	conceptA, _ := input["concept_a"].(string)
	conceptB, _ := input["concept_b"].(string)
	maxDepth := intFromInput(input["max_depth"])

	connections, err := s.serviceAdapter.FindConnections(ctx, conceptA, conceptB, maxDepth)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"concept_a":   conceptA,
		"concept_b":   conceptB,
		"connections": connections,
		"total_found": len(connections),
	}

	return &ToolResponse{
		Content: []any{
			textContent(fmt.Sprintf("Found %d paths between '%s' and '%s'", len(connections), conceptA, conceptB)),
			resourceContent("knowledge://connections", result),
		},
	}, nil
}

// HandleExecuteCypherInternal executes a custom Cypher query
func (s *Server) HandleExecuteCypherInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	cypher, ok := input["query"].(string)
	if !ok || strings.TrimSpace(cypher) == "" {
		return nil, core.NewError(fmt.Errorf("query is required"), core.ErrorCodeInvalidInput, nil)
	}

	parameters := make(map[string]any)
	if params, ok := input["parameters"].(map[string]any); ok {
		parameters = params
	}

	logger.Info("executing cypher query", "query", cypher)

	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, stats, err := s.serviceAdapter.ExecuteCypher(queryCtx, cypher, parameters)
	if err != nil {
		return nil, err
	}

	truncated := false
	if maxResults := s.config.Performance.MaxResults; maxResults > 0 && len(rows) > maxResults {
		rows = rows[:maxResults]
		truncated = true
	}

	result := map[string]any{
		"query":        cypher,
		"results":      rows,
		"result_count": len(rows),
	}
	if truncated {
		result["truncated"] = true
	}
	if stats != nil && stats.Counters.ContainsUpdates {
		result["counters"] = stats.Counters
	}

	return &ToolResponse{
		Content: []any{
			textContent(fmt.Sprintf("Query executed successfully, returned %d results", len(rows))),
			resourceContent("neo4j://queries/results", result),
		},
	}, nil
}

// HandleGetSchemaInternal returns the current database schema
func (s *Server) HandleGetSchemaInternal(ctx context.Context, _ map[string]any) (*ToolResponse, error) {
	snapshot, err := s.fetchSchemaCached(ctx)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Schema has %d node labels and %d relationship types",
		len(snapshot.Nodes), len(snapshot.Relationships))

	return &ToolResponse{
		Content: []any{
			textContent(text),
			resourceContent("neo4j://schema", snapshot),
		},
	}, nil
}

// HandleValidateQueryInternal validates a query without executing it
func (s *Server) HandleValidateQueryInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	cypher, ok := input["query"].(string)
	if !ok || strings.TrimSpace(cypher) == "" {
		return nil, core.NewError(fmt.Errorf("query is required"), core.ErrorCodeInvalidInput, nil)
	}

	parameters := make(map[string]any)
	if params, ok := input["parameters"].(map[string]any); ok {
		parameters = params
	}

	validation, err := s.serviceAdapter.ValidateQuery(ctx, cypher, parameters)
	if err != nil {
		return nil, err
	}

	valid := len(validation.Warnings) == 0
	text := "Query is valid against the current schema"
	if !valid {
		text = fmt.Sprintf("Query validation produced %d warnings", len(validation.Warnings))
	}

	result := map[string]any{
		"query":    cypher,
		"valid":    valid,
		"warnings": validation.Warnings,
	}

	return &ToolResponse{
		Content: []any{
			textContent(text),
			resourceContent("neo4j://queries/validation", result),
		},
	}, nil
}

// HandleSetupSchemaInternal applies the built-in constraints and indexes.
// A proposed definition, when provided, is validated against the live
// schema first and its differences come back as warnings.
func (s *Server) HandleSetupSchemaInternal(ctx context.Context, input map[string]any) (*ToolResponse, error) {
	var warnings []string
	checked := false

	if raw, ok := input["definition"]; ok && raw != nil {
		def, err := definitionFromInput(raw)
		if err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		warnings, err = s.serviceAdapter.ValidateChanges(ctx, def)
		if err != nil {
			return nil, err
		}
		checked = true
	}

	if err := s.serviceAdapter.SetupSchema(ctx); err != nil {
		return nil, err
	}

	statements := schema.SetupStatements()
	logger.Info("schema setup applied", "statements", len(statements))

	result := map[string]any{
		"applied":    true,
		"statements": statements,
	}
	if checked {
		if warnings == nil {
			warnings = []string{}
		}
		result["warnings"] = warnings
	}

	text := "Schema constraints and indexes applied"
	if len(warnings) > 0 {
		text = fmt.Sprintf("Schema constraints and indexes applied with %d warnings", len(warnings))
	}

	return &ToolResponse{
		Content: []any{
			textContent(text),
			resourceContent("neo4j://schema/setup", result),
		},
	}, nil
}

// HandleListTemplatesInternal lists registered templates and their states
func (s *Server) HandleListTemplatesInternal(_ context.Context, input map[string]any) (*ToolResponse, error) {
	category, _ := input["category"].(string)

	listing := s.templateListing(category)

	text := fmt.Sprintf("%d templates registered, %d loaded", listing["total"], listing["loaded"])

	return &ToolResponse{
		Content: []any{
			textContent(text),
			resourceContent("templates://queries", listing),
		},
	}, nil
}

// HandleTemplateExecuteInternal executes one loaded template. Everything
// in the input except the customizations object is treated as a template
// parameter.
func (s *Server) HandleTemplateExecuteInternal(
	ctx context.Context,
	name string,
	input map[string]any,
) (*ToolResponse, error) {
	parameters := make(map[string]any, len(input))
	var customizations *query.Customizations
	for key, value := range input {
		if key == "customizations" {
			parsed, err := customizationsFromInput(value)
			if err != nil {
				return nil, err
			}
			customizations = parsed
			continue
		}
		parameters[key] = value
	}

	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()

	response, err := s.serviceAdapter.ExecuteTemplate(queryCtx, &query.Request{
		TemplateName:   name,
		Parameters:     parameters,
		Customizations: customizations,
	})
	if err != nil {
		return nil, err
	}

	return &ToolResponse{
		Content: []any{
			textContent(fmt.Sprintf("Template '%s' returned %d rows", name, len(response.Results))),
			resourceContent(fmt.Sprintf("templates://queries/%s/results", name), response),
		},
	}, nil
}

// Resource handler implementations

// HandleReadResourceInternal resolves a concrete resource URI outside the
// stdio transport. Template URIs are matched segment by segment.
func (s *Server) HandleReadResourceInternal(ctx context.Context, uri string) ([]byte, error) {
	for _, binding := range s.resources {
		if params, ok := matchURI(binding.uriTemplate, uri); ok {
			var payload []byte
			err := errors.WithRecover("resource:"+binding.name, func() error {
				var readErr error
				payload, readErr = binding.handler(ctx, params)
				return readErr
			})
			if err != nil {
				return nil, err
			}
			return payload, nil
		}
	}
	return nil, core.NewError(
		fmt.Errorf("Unknown resource: %s", uri),
		core.ErrorCodeUnknownResource,
		nil,
	)
}

// HandleSchemaNodesResource serves neo4j://schema/nodes
func (s *Server) HandleSchemaNodesResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	snapshot, err := s.fetchSchemaCached(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"nodes":      snapshot.Nodes,
		"fetched_at": snapshot.FetchedAt,
	})
}

// HandleSchemaRelationshipsResource serves neo4j://schema/relationships
func (s *Server) HandleSchemaRelationshipsResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	snapshot, err := s.fetchSchemaCached(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"relationships": snapshot.Relationships,
		"fetched_at":    snapshot.FetchedAt,
	})
}

// HandleSchemaIndexesResource serves neo4j://schema/indexes
func (s *Server) HandleSchemaIndexesResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	indexes, err := s.serviceAdapter.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"indexes": indexes,
		"total":   len(indexes),
	})
}

// HandleLabelCountResource serves neo4j://labels/count
func (s *Server) HandleLabelCountResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	counts, err := s.serviceAdapter.CountNodesByLabel(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"label_count":    len(counts),
		"nodes_by_label": counts,
	})
}

// HandleMemoryStatsResource serves neo4j://stats/memory
func (s *Server) HandleMemoryStatsResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	rows, _, err := s.serviceAdapter.ExecuteCypher(ctx,
		"SHOW SETTINGS YIELD name, value "+
			"WHERE name CONTAINS 'memory' OR name CONTAINS 'heap' "+
			"RETURN name, value", nil)
	if err != nil {
		return nil, err
	}

	settings := make(map[string]any, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		settings[name] = row["value"]
	}
	return json.Marshal(map[string]any{
		"settings": settings,
		"total":    len(settings),
	})
}

// HandleTransactionStatsResource serves neo4j://stats/transactions
func (s *Server) HandleTransactionStatsResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	rows, _, err := s.serviceAdapter.ExecuteCypher(ctx,
		"SHOW TRANSACTIONS YIELD transactionId, currentQuery, status, elapsedTime "+
			"RETURN transactionId, currentQuery, status, elapsedTime", nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"transactions": rows,
		"open":         len(rows),
	})
}

// HandleSlowQueriesResource serves neo4j://queries/slow
func (s *Server) HandleSlowQueriesResource(ctx context.Context, _ map[string]string) ([]byte, error) {
	rows, _, err := s.serviceAdapter.ExecuteCypher(ctx,
		"SHOW TRANSACTIONS YIELD transactionId, currentQuery, elapsedTime "+
			"WHERE elapsedTime.milliseconds > $threshold "+
			"RETURN transactionId, currentQuery, elapsedTime "+
			"ORDER BY elapsedTime.milliseconds DESC",
		map[string]any{"threshold": slowQueryThresholdMillis})
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"slow_queries":   rows,
		"threshold_ms":   slowQueryThresholdMillis,
		"total_detected": len(rows),
	})
}

// HandleQueryTemplatesResource serves templates://queries
func (s *Server) HandleQueryTemplatesResource(_ context.Context, _ map[string]string) ([]byte, error) {
	return json.Marshal(s.templateListing(""))
}

// HandleNodeCountResource serves neo4j://nodes/{label}/count
func (s *Server) HandleNodeCountResource(ctx context.Context, params map[string]string) ([]byte, error) {
	label := params["label"]
	if label == "" {
		return nil, core.NewError(fmt.Errorf("label is required"), core.ErrorCodeInvalidInput, nil)
	}

	count, err := s.serviceAdapter.CountNodesForLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"label": label,
		"count": count,
	})
}

// HandleRelationshipCountResource serves neo4j://relationships/{type}/count
func (s *Server) HandleRelationshipCountResource(ctx context.Context, params map[string]string) ([]byte, error) {
	relType := params["type"]
	if relType == "" {
		return nil, core.NewError(fmt.Errorf("type is required"), core.ErrorCodeInvalidInput, nil)
	}

	count, err := s.serviceAdapter.CountRelationshipsForType(ctx, relType)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"type":  relType,
		"count": count,
	})
}

// HandleTemplateDetailResource serves templates://queries/{name}
func (s *Server) HandleTemplateDetailResource(_ context.Context, params map[string]string) ([]byte, error) {
	name := params["name"]
	if name == "" {
		return nil, core.NewError(fmt.Errorf("template name is required"), core.ErrorCodeInvalidInput, nil)
	}

	tmpl, err := s.serviceAdapter.GetTemplate(name)
	if err != nil {
		return nil, err
	}

	detail := s.templateEntry(tmpl, s.serviceAdapter.TemplateStates()[tmpl.Name])
	detail["query"] = tmpl.Query.Render()
	if len(tmpl.RequiredLabels) > 0 {
		detail["required_labels"] = tmpl.RequiredLabels
	}
	if len(tmpl.RequiredRelationshipTypes) > 0 {
		detail["required_relationship_types"] = tmpl.RequiredRelationshipTypes
	}
	return json.Marshal(detail)
}

// Shared helpers

// fetchSchemaCached serves the schema snapshot through the TTL cache
func (s *Server) fetchSchemaCached(ctx context.Context) (*schema.Snapshot, error) {
	const key = "schema"
	if cached, ok := s.getFromCache(key); ok {
		if snapshot, ok := cached.(*schema.Snapshot); ok {
			return snapshot, nil
		}
	}

	snapshot, err := s.serviceAdapter.FetchSchema(ctx)
	if err != nil {
		return nil, err
	}
	s.setCache(key, snapshot)
	return snapshot, nil
}

// queryContext applies the configured per-query time limit
func (s *Server) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if limit := s.config.Security.MaxQueryTime; limit > 0 {
		return context.WithTimeout(ctx, time.Duration(limit)*time.Second)
	}
	return context.WithCancel(ctx)
}

// templateListing renders the template catalog, optionally filtered by
// category
func (s *Server) templateListing(category string) map[string]any {
	templates := s.serviceAdapter.ListTemplates()
	states := s.serviceAdapter.TemplateStates()

	entries := make([]map[string]any, 0, len(templates))
	loaded := 0
	for _, tmpl := range templates {
		if category != "" && tmpl.Category != category {
			continue
		}
		if states[tmpl.Name] == query.StateLoaded {
			loaded++
		}
		entries = append(entries, s.templateEntry(tmpl, states[tmpl.Name]))
	}

	return map[string]any{
		"templates": entries,
		"total":     len(entries),
		"loaded":    loaded,
	}
}

// templateEntry renders one template for listings and detail reads
func (s *Server) templateEntry(tmpl *query.Template, state query.TemplateState) map[string]any {
	entry := map[string]any{
		"name":        tmpl.Name,
		"description": tmpl.Description,
		"category":    tmpl.Category,
		"parameters":  tmpl.Parameters,
		"state":       state,
	}
	if rules := tmpl.RuleTexts(); len(rules) > 0 {
		entry["validation_rules"] = rules
	}
	if tmpl.Example != nil {
		entry["example"] = tmpl.Example
	}
	if reason, ok := s.serviceAdapter.RejectionReason(tmpl.Name); ok {
		entry["rejection_reason"] = reason
	}
	return entry
}

// factsFromInput parses the facts array of a store-facts call
func factsFromInput(value any) ([]core.Fact, error) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return nil, core.NewError(
			fmt.Errorf("facts must be a non-empty array"),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}

	facts := make([]core.Fact, 0, len(items))
	for i, item := range items {
		props, ok := item.(map[string]any)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("fact %d must be an object with subject, predicate and object", i),
				core.ErrorCodeInvalidInput,
				map[string]any{"index": i},
			)
		}
		facts = append(facts, core.Fact{
			Subject:   stringField(props, "subject"),
			Predicate: stringField(props, "predicate"),
			Object:    stringField(props, "object"),
		})
	}
	return facts, nil
}

// customizationsFromInput parses the customizations object of a template
// call
func customizationsFromInput(value any) (*query.Customizations, error) {
	if value == nil {
		return nil, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, core.NewError(
			fmt.Errorf("customizations are not valid JSON: %w", err),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}
	var customizations query.Customizations
	if err := json.Unmarshal(raw, &customizations); err != nil {
		return nil, core.NewError(
			fmt.Errorf("customizations must carry additional_where, order_by and limit: %w", err),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}
	return &customizations, nil
}

// definitionFromInput parses the proposed schema definition of a
// setup-schema call
func definitionFromInput(value any) (*schema.Definition, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, core.NewError(
			fmt.Errorf("definition is not valid JSON: %w", err),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}
	var def schema.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, core.NewError(
			fmt.Errorf("definition does not match the expected shape: %w", err),
			core.ErrorCodeInvalidInput,
			nil,
		)
	}
	return &def, nil
}

func stringField(props map[string]any, key string) string {
	value, _ := props[key].(string)
	return value
}

func intFromInput(value any) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
