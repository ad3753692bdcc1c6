package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mnemograph/mnemo/engine/core"
)

// registerPrompts registers the guidance prompts for query and schema work
func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"query-suggestion",
		mcp.WithPromptDescription("Get suggestions for query templates based on your intent"),
		mcp.WithArgument("intent",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Description of what you want to achieve")),
		mcp.WithArgument("data_description",
			mcp.ArgumentDescription("Description of your data model")),
		mcp.WithArgument("example_data",
			mcp.ArgumentDescription("Example of your data")),
	), s.handleQuerySuggestionPrompt)

	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"schema-design",
		mcp.WithPromptDescription("Get recommendations for graph schema design based on your use case"),
		mcp.WithArgument("use_case",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Description of your application")),
		mcp.WithArgument("requirements",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Specific requirements for your data model")),
		mcp.WithArgument("query_patterns",
			mcp.ArgumentDescription("Common queries you need to support")),
	), s.handleSchemaDesignPrompt)

	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"query-optimization",
		mcp.WithPromptDescription("Get suggestions for optimizing your Cypher queries"),
		mcp.WithArgument("query",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Cypher query to optimize")),
		mcp.WithArgument("context",
			mcp.ArgumentDescription("Additional context about your data and requirements")),
	), s.handleQueryOptimizationPrompt)

	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"relationship-analysis",
		mcp.WithPromptDescription("Get analysis of relationship patterns between nodes"),
		mcp.WithArgument("start_node",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Starting node label or identifier")),
		mcp.WithArgument("end_node",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Ending node label or identifier")),
		mcp.WithArgument("relationship_types",
			mcp.ArgumentDescription("Types of relationships to consider")),
		mcp.WithArgument("max_depth",
			mcp.ArgumentDescription("Maximum path depth to analyze (default 3)")),
	), s.handleRelationshipAnalysisPrompt)
}

// Prompt handler implementations

func (s *Server) handleQuerySuggestionPrompt(
	ctx context.Context,
	req mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return s.HandleGetPromptInternal(ctx, "query-suggestion", req.Params.Arguments)
}

func (s *Server) handleSchemaDesignPrompt(
	ctx context.Context,
	req mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return s.HandleGetPromptInternal(ctx, "schema-design", req.Params.Arguments)
}

func (s *Server) handleQueryOptimizationPrompt(
	ctx context.Context,
	req mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return s.HandleGetPromptInternal(ctx, "query-optimization", req.Params.Arguments)
}

func (s *Server) handleRelationshipAnalysisPrompt(
	ctx context.Context,
	req mcp.GetPromptRequest,
) (*mcp.GetPromptResult, error) {
	return s.HandleGetPromptInternal(ctx, "relationship-analysis", req.Params.Arguments)
}

// HandleGetPromptInternal renders one prompt by name so direct callers
// get the structured taxonomy for unknown names
func (s *Server) HandleGetPromptInternal(
	_ context.Context,
	name string,
	arguments map[string]string,
) (*mcp.GetPromptResult, error) {
	switch name {
	case "query-suggestion":
		return s.querySuggestionPrompt(arguments)
	case "schema-design":
		return s.schemaDesignPrompt(arguments)
	case "query-optimization":
		return s.queryOptimizationPrompt(arguments)
	case "relationship-analysis":
		return s.relationshipAnalysisPrompt(arguments)
	default:
		return nil, core.NewError(
			fmt.Errorf("Unknown prompt: %s", name),
			core.ErrorCodeUnknownPrompt,
			nil,
		)
	}
}

// querySuggestionPrompt lists the registered templates next to the
// caller's intent
func (s *Server) querySuggestionPrompt(arguments map[string]string) (*mcp.GetPromptResult, error) {
	intent := arguments["intent"]
	if intent == "" {
		return nil, missingPromptArgument("intent")
	}

	templates := s.serviceAdapter.ListTemplates()
	lines := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		lines = append(lines, fmt.Sprintf("- %s: %s", tmpl.Name, tmpl.Description))
	}

	content := fmt.Sprintf(`Based on your intent: %q

Available query templates:
%s

Let me suggest the most appropriate templates and how to use them.

Please also consider these aspects:
1. Data model constraints and assumptions
2. Performance implications
3. Alternative approaches if needed
`, intent, strings.Join(lines, "\n"))

	if description := arguments["data_description"]; description != "" {
		content += fmt.Sprintf("\nConsidering your data model:\n%s", description)
	}
	if example := arguments["example_data"]; example != "" {
		content += fmt.Sprintf("\nBased on your example data:\n%s", example)
	}

	return promptResult("Query template suggestions", content), nil
}

func (s *Server) schemaDesignPrompt(arguments map[string]string) (*mcp.GetPromptResult, error) {
	useCase := arguments["use_case"]
	if useCase == "" {
		return nil, missingPromptArgument("use_case")
	}
	requirements := arguments["requirements"]
	if requirements == "" {
		return nil, missingPromptArgument("requirements")
	}

	content := fmt.Sprintf(`Let me help you design a graph schema for your use case:
%q

Requirements to consider:
%s

I'll suggest:
1. Node labels and their properties
2. Relationship types and structures
3. Indexes and constraints
4. Data modeling best practices
`, useCase, requirements)

	if patterns := arguments["query_patterns"]; patterns != "" {
		content += fmt.Sprintf("\nConsidering these query patterns:\n%s", patterns)
	}

	return promptResult("Schema design recommendations", content), nil
}

func (s *Server) queryOptimizationPrompt(arguments map[string]string) (*mcp.GetPromptResult, error) {
	cypher := arguments["query"]
	if cypher == "" {
		return nil, missingPromptArgument("query")
	}

	content := fmt.Sprintf("Let me analyze this Cypher query for optimization opportunities:\n\n"+
		"```cypher\n%s\n```\n\n"+
		"I'll consider:\n"+
		"1. Index usage and label scans\n"+
		"2. Relationship traversal patterns\n"+
		"3. Parameter usage and literal values\n"+
		"4. Aggregation and collection handling\n"+
		"5. Query plan analysis\n", cypher)

	if extra := arguments["context"]; extra != "" {
		content += fmt.Sprintf("\nAdditional context to consider:\n%s", extra)
	}

	return promptResult("Query optimization analysis", content), nil
}

func (s *Server) relationshipAnalysisPrompt(arguments map[string]string) (*mcp.GetPromptResult, error) {
	startNode := arguments["start_node"]
	if startNode == "" {
		return nil, missingPromptArgument("start_node")
	}
	endNode := arguments["end_node"]
	if endNode == "" {
		return nil, missingPromptArgument("end_node")
	}

	relationshipTypes := arguments["relationship_types"]
	if relationshipTypes == "" {
		relationshipTypes = "any"
	}
	maxDepth := arguments["max_depth"]
	if maxDepth == "" {
		maxDepth = "3"
	}

	content := fmt.Sprintf(`Analyze relationships between:
Start node: %s
End node: %s
Considering relationship types: %s
Maximum path depth: %s

I'll analyze:
1. Direct relationships
2. Indirect paths and connecting nodes
3. Relationship patterns and frequencies
4. Potential new relationship types
`, startNode, endNode, relationshipTypes, maxDepth)

	return promptResult("Relationship pattern analysis", content), nil
}

func promptResult(description, content string) *mcp.GetPromptResult {
	return mcp.NewGetPromptResult(description, []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(content)),
	})
}

func missingPromptArgument(name string) error {
	return core.NewError(
		fmt.Errorf("argument '%s' is required", name),
		core.ErrorCodeInvalidInput,
		map[string]any{"argument": name},
	)
}
