package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/pkg/logger"
	mcpconfig "github.com/mnemograph/mnemo/pkg/mcp"
)

const (
	templateToolPrefix = "template."
	resourceMIMEType   = "application/json"
)

// Server represents the MCP server
type Server struct {
	config         *mcpconfig.Config
	serviceAdapter ServiceAdapter
	mcpServer      *server.MCPServer
	resources      []resourceBinding

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// cacheEntry represents a cached result
type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// resourceBinding ties one resource URI template to its handler. The
// bindings drive both mcp-go registration and internal routing.
type resourceBinding struct {
	uriTemplate string
	name        string
	description string
	handler     resourceHandlerFunc
}

// NewServer creates a new MCP server instance. Template tools are built
// from the adapter's loaded templates, so the executor must be
// initialized before the server is constructed.
func NewServer(config *mcpconfig.Config, serviceAdapter ServiceAdapter) *Server {
	if config == nil {
		config = mcpconfig.DefaultConfig()
	}

	s := &Server{
		config:         config,
		serviceAdapter: serviceAdapter,
		cache:          make(map[string]cacheEntry),
	}

	// Create MCP server instance
	s.mcpServer = server.NewMCPServer(
		config.Server.Name,
		config.Server.Version,
		server.WithToolCapabilities(false), // Static tool set
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	)

	s.registerTools()
	if config.Features.EnableResources {
		s.registerResources()
	}
	if config.Features.EnablePrompts {
		s.registerPrompts()
	}

	return s
}

// Start serves MCP over stdio until the client disconnects
func (s *Server) Start(_ context.Context) error {
	logger.Info("Starting MCP server on stdio",
		"name", s.config.Server.Name,
		"version", s.config.Server.Version)

	return server.ServeStdio(s.mcpServer)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.registerKnowledgeTools()
	s.registerQueryTools()
	s.registerSchemaTools()
	if s.config.Features.EnableTemplates {
		s.registerTemplateTools()
	}
}

// registerKnowledgeTools registers the fact storage and retrieval tools
func (s *Server) registerKnowledgeTools() {
	if !s.config.Security.ReadOnly {
		storeFactsTool := mcp.NewTool(
			"store-facts",
			mcp.WithDescription(
				"Store new facts in the knowledge graph. Facts are represented as "+
					"subject-predicate-object triples, optionally grouped under a context.",
			),
			mcp.WithArray("facts", mcp.Required(),
				mcp.Description("Facts to store, each an object with subject, predicate and object")),
			mcp.WithString("context", mcp.Description("Context tag the facts are grouped under")),
		)
		s.mcpServer.AddTool(storeFactsTool, s.handleStoreFacts)
	}

	queryKnowledgeTool := mcp.NewTool(
		"query-knowledge",
		mcp.WithDescription("Query relationships in the knowledge graph by context"),
		mcp.WithString("query",
			mcp.Description("Search term matched against entity names and relation types (empty lists everything)")),
		mcp.WithString("context", mcp.Description("Restrict results to one context")),
	)
	s.mcpServer.AddTool(queryKnowledgeTool, s.handleQueryKnowledge)

	findConnectionsTool := mcp.NewTool(
		"find-connections",
		mcp.WithDescription("Find paths between two entities in the knowledge graph"),
		mcp.WithString("concept_a", mcp.Required(), mcp.Description("Name of the first entity")),
		mcp.WithString("concept_b", mcp.Required(), mcp.Description("Name of the second entity")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum path length to search (default 3)")),
	)
	s.mcpServer.AddTool(findConnectionsTool, s.handleFindConnections)
}

// registerQueryTools registers the ad-hoc query tools
func (s *Server) registerQueryTools() {
	if !s.config.Security.ReadOnly {
		executeCypherTool := mcp.NewTool(
			"execute-cypher",
			mcp.WithDescription("Execute a custom Cypher query with parameter binding"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Cypher query to execute")),
			mcp.WithObject("parameters", mcp.Description("Query parameters bound by name")),
		)
		s.mcpServer.AddTool(executeCypherTool, s.handleExecuteCypher)
	}

	listTemplatesTool := mcp.NewTool(
		"list-templates",
		mcp.WithDescription("List the registered query templates and their validation state"),
		mcp.WithString("category", mcp.Description("Restrict the listing to one category")),
	)
	s.mcpServer.AddTool(listTemplatesTool, s.handleListTemplates)
}

// registerSchemaTools registers schema introspection and setup tools
func (s *Server) registerSchemaTools() {
	getSchemaTool := mcp.NewTool(
		"get-schema",
		mcp.WithDescription("Retrieve the node labels, relationship types and properties currently in the database"),
	)
	s.mcpServer.AddTool(getSchemaTool, s.handleGetSchema)

	if s.config.Features.EnableValidation {
		validateQueryTool := mcp.NewTool(
			"validate-query",
			mcp.WithDescription("Validate a Cypher query against the current schema without executing it"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Cypher query to validate")),
			mcp.WithObject("parameters", mcp.Description("Query parameters bound by name")),
		)
		s.mcpServer.AddTool(validateQueryTool, s.handleValidateQuery)
	}

	if !s.config.Security.ReadOnly {
		setupSchemaTool := mcp.NewTool(
			"setup-schema",
			mcp.WithDescription(
				"Apply the knowledge graph constraints and indexes, optionally checking a "+
					"proposed schema definition against the live schema first",
			),
			mcp.WithObject("definition",
				mcp.Description("Proposed labels, relationship_types and indexes to check before applying")),
		)
		s.mcpServer.AddTool(setupSchemaTool, s.handleSetupSchema)
	}
}

// registerTemplateTools exposes every loaded template as a tool named
// template.<name>. Rejected and unvalidated templates stay visible
// through list-templates but get no tool.
func (s *Server) registerTemplateTools() {
	states := s.serviceAdapter.TemplateStates()
	for _, tmpl := range s.serviceAdapter.ListTemplates() {
		if states[tmpl.Name] != query.StateLoaded {
			continue
		}
		s.mcpServer.AddTool(s.templateTool(tmpl), s.templateToolHandler(tmpl.Name))
	}
}

// templateTool synthesizes the tool schema for one template from its
// declared parameters and rules
func (s *Server) templateTool(tmpl *query.Template) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(tmpl.Description)}

	rules := tmpl.RuleTexts()
	for _, name := range sortedParameterNames(tmpl.Parameters) {
		description := tmpl.Parameters[name]
		if rule, ok := rules[name]; ok {
			description = fmt.Sprintf("%s (%s)", description, rule)
		}
		switch query.ParameterKind(name, tmpl.Parameters[name], tmpl.Rules[name]) {
		case "number":
			opts = append(opts, mcp.WithNumber(name, mcp.Description(description)))
		case "object":
			opts = append(opts, mcp.WithObject(name, mcp.Description(description)))
		case "array":
			opts = append(opts, mcp.WithArray(name, mcp.Description(description)))
		default:
			opts = append(opts, mcp.WithString(name, mcp.Description(description)))
		}
	}

	opts = append(opts, mcp.WithObject("customizations",
		mcp.Description("Optional additional_where, order_by and limit applied on top of the template")))

	return mcp.NewTool(templateToolPrefix+tmpl.Name, opts...)
}

// templateToolHandler routes one template tool invocation through the
// shared internal dispatch
func (s *Server) templateToolHandler(
	name string,
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		response, err := s.HandleCallToolInternal(ctx, templateToolPrefix+name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return newToolResultFromResponse(response)
	}
}

func sortedParameterNames(parameters map[string]string) []string {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// registerResources registers all MCP resources
func (s *Server) registerResources() {
	static := []resourceBinding{
		{
			uriTemplate: "neo4j://schema/nodes",
			name:        "node_schema",
			description: "Node labels and the properties observed on them",
			handler:     s.HandleSchemaNodesResource,
		},
		{
			uriTemplate: "neo4j://schema/relationships",
			name:        "relationship_schema",
			description: "Relationship types and the properties observed on them",
			handler:     s.HandleSchemaRelationshipsResource,
		},
		{
			uriTemplate: "neo4j://schema/indexes",
			name:        "index_overview",
			description: "Indexes and constraints currently in the database",
			handler:     s.HandleSchemaIndexesResource,
		},
		{
			uriTemplate: "neo4j://labels/count",
			name:        "label_count",
			description: "Count of distinct node labels and nodes per label",
			handler:     s.HandleLabelCountResource,
		},
		{
			uriTemplate: "neo4j://stats/memory",
			name:        "memory_settings",
			description: "Memory and heap settings of the database",
			handler:     s.HandleMemoryStatsResource,
		},
		{
			uriTemplate: "neo4j://stats/transactions",
			name:        "transaction_stats",
			description: "Currently open transactions",
			handler:     s.HandleTransactionStatsResource,
		},
		{
			uriTemplate: "neo4j://queries/slow",
			name:        "slow_queries",
			description: "Running queries older than the slow query threshold",
			handler:     s.HandleSlowQueriesResource,
		},
		{
			uriTemplate: "templates://queries",
			name:        "query_templates",
			description: "Registered query templates with their validation state",
			handler:     s.HandleQueryTemplatesResource,
		},
	}

	templated := []resourceBinding{
		{
			uriTemplate: "neo4j://nodes/{label}/count",
			name:        "node_count",
			description: "Count of nodes carrying one label",
			handler:     s.HandleNodeCountResource,
		},
		{
			uriTemplate: "neo4j://relationships/{type}/count",
			name:        "relationship_count",
			description: "Count of relationships of one type",
			handler:     s.HandleRelationshipCountResource,
		},
		{
			uriTemplate: "templates://queries/{name}",
			name:        "query_template_detail",
			description: "Full definition of one query template",
			handler:     s.HandleTemplateDetailResource,
		},
	}

	for _, binding := range static {
		s.mcpServer.AddResource(mcp.NewResource(
			binding.uriTemplate,
			binding.name,
			mcp.WithResourceDescription(binding.description),
			mcp.WithMIMEType(resourceMIMEType),
		), wrapResourceHandler(binding.uriTemplate, binding.handler))
	}
	for _, binding := range templated {
		s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(
			binding.uriTemplate,
			binding.name,
			mcp.WithTemplateDescription(binding.description),
			mcp.WithTemplateMIMEType(resourceMIMEType),
		), wrapResourceHandler(binding.uriTemplate, binding.handler))
	}

	s.resources = append(static, templated...)
}

// Tool handler implementations

func (s *Server) handleStoreFacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := s.HandleCallToolInternal(ctx, "store-facts", map[string]any{
		"facts":   req.GetArguments()["facts"],
		"context": getString(req, "context"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleQueryKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := s.HandleCallToolInternal(ctx, "query-knowledge", map[string]any{
		"query":   getString(req, "query"),
		"context": getString(req, "context"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleFindConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conceptA, err := req.RequireString("concept_a")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conceptB, err := req.RequireString("concept_b")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	response, err := s.HandleCallToolInternal(ctx, "find-connections", map[string]any{
		"concept_a": conceptA,
		"concept_b": conceptB,
		"max_depth": getInt(req, "max_depth", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleExecuteCypher(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cypher, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	response, err := s.HandleCallToolInternal(ctx, "execute-cypher", map[string]any{
		"query":      cypher,
		"parameters": req.GetArguments()["parameters"],
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleGetSchema(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := s.HandleCallToolInternal(ctx, "get-schema", map[string]any{})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleValidateQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cypher, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	response, err := s.HandleCallToolInternal(ctx, "validate-query", map[string]any{
		"query":      cypher,
		"parameters": req.GetArguments()["parameters"],
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleSetupSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := s.HandleCallToolInternal(ctx, "setup-schema", map[string]any{
		"definition": req.GetArguments()["definition"],
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

func (s *Server) handleListTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := s.HandleCallToolInternal(ctx, "list-templates", map[string]any{
		"category": getString(req, "category"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return newToolResultFromResponse(response)
}

// Cache helpers, used for the schema snapshot so repeated reads do not
// hit the database inside the TTL

func (s *Server) getFromCache(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (s *Server) setCache(key string, value any) {
	ttl := s.config.Performance.SchemaCacheTTL
	if ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
}
