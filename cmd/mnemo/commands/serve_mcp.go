package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/knowledge"
	"github.com/mnemograph/mnemo/engine/mcp"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
	"github.com/mnemograph/mnemo/pkg/config"
	"github.com/mnemograph/mnemo/pkg/logger"
	mcpconfig "github.com/mnemograph/mnemo/pkg/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	mcpConfigFile string
	mcpReadOnly   bool
	mcpNoSetup    bool
)

// serveMCPCmd represents the serve-mcp command
var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start the MCP server to expose the knowledge graph to LLM applications",
	Long: `Start the Model Context Protocol (MCP) server so AI assistants can read and
extend the knowledge graph through standardized MCP tools, resources and
prompts. The server speaks MCP over stdio, which is what Claude Desktop and
most MCP clients expect.

The MCP server provides:
  • Fact storage and retrieval tools for persistent memory
  • Curated query templates validated against the live schema
  • Ad-hoc Cypher execution with parameter binding
  • Schema introspection resources (labels, relationships, indexes)
  • Database monitoring resources (memory settings, transactions, slow queries)
  • Guided prompts for query building and schema design

Examples:
  # Start the MCP server with default settings
  mnemo serve-mcp

  # Expose only the read tools
  mnemo serve-mcp --read-only

  # Use a standalone MCP configuration file
  mnemo serve-mcp --mcp-config mcp-config.yaml`,
	RunE: runServeMCP,
}

// RegisterMCPCommand registers the MCP command with the root command
func RegisterMCPCommand() {
	// Setup flags
	serveMCPCmd.Flags().StringVar(&mcpConfigFile, "mcp-config", "", "Path to a standalone MCP configuration file")
	serveMCPCmd.Flags().BoolVar(&mcpReadOnly, "read-only", false, "Expose only read tools over MCP")
	serveMCPCmd.Flags().BoolVar(&mcpNoSetup, "no-schema-setup", false, "Skip applying constraints and indexes at startup")

	// Add to root command
	rootCmd.AddCommand(serveMCPCmd)
}

func runServeMCP(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mcpConfig, err := prepareMCPConfiguration(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevelFromString(cfg.Server.LogLevel)

	repo, err := infra.NewNeo4jRepository(ctx, neo4jConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	defer repo.Close()

	server, err := createMCPServer(ctx, cfg, mcpConfig, repo)
	if err != nil {
		return err
	}

	runMCPServerWithGracefulShutdown(ctx, cancel, server)
	return nil
}

func prepareMCPConfiguration(cmd *cobra.Command) (*mcpconfig.Config, error) {
	mcpConfig, err := loadMCPConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load MCP configuration: %w", err)
	}

	applyCommandLineFlagOverrides(cmd, mcpConfig)

	if err := mcpConfig.Validate(); err != nil {
		return nil, err
	}
	return mcpConfig, nil
}

func applyCommandLineFlagOverrides(cmd *cobra.Command, mcpConfig *mcpconfig.Config) {
	if cmd.Flags().Changed("read-only") {
		mcpConfig.Security.ReadOnly = mcpReadOnly
	}
}

// createMCPServer wires the full service stack behind the MCP facade. The
// executor validates every template before NewServer builds the tool list,
// so only loaded templates become tools.
func createMCPServer(
	ctx context.Context,
	cfg *config.Config,
	mcpConfig *mcpconfig.Config,
	repo infra.Repository,
) (*mcp.Server, error) {
	if cfg.Templates.SetupSchema && !mcpNoSetup && !mcpConfig.Security.ReadOnly {
		if err := repo.ApplySchemaStatements(ctx, schema.SetupStatements()); err != nil {
			return nil, fmt.Errorf("failed to set up graph schema: %w", err)
		}
		logger.Info("Graph schema constraints and indexes applied")
	}

	executor, err := buildExecutor(ctx, cfg, repo)
	if err != nil {
		return nil, err
	}

	accessor := schema.NewAccessor(repo)
	validator := schema.NewValidator(accessor, repo)
	knowledgeService := knowledge.NewService(repo, nil)

	adapter := mcp.NewServiceAdapter(repo, knowledgeService, accessor, validator, executor)
	return mcp.NewServer(mcpConfig, adapter), nil
}

// buildRegistry assembles the template catalog. User template directories
// merge over the built-ins.
func buildRegistry(cfg *config.Config) (*query.Registry, error) {
	registry, err := query.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build template registry: %w", err)
	}
	if cfg.Templates.Dir != "" {
		if err := registry.LoadDirectory(cfg.Templates.Dir); err != nil {
			return nil, fmt.Errorf("failed to load template directory: %w", err)
		}
	}
	return registry, nil
}

// buildExecutor assembles the template registry and validates it against
// the live schema
func buildExecutor(ctx context.Context, cfg *config.Config, repo infra.Repository) (*query.Executor, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	accessor := schema.NewAccessor(repo)
	validator := schema.NewValidator(accessor, repo)
	executor := query.NewExecutor(registry, validator, repo)
	if err := executor.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate templates: %w", err)
	}
	return executor, nil
}

func runMCPServerWithGracefulShutdown(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go startMCPServer(ctx, cancel, server)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context canceled")
	}

	logger.Info("Shutting down MCP server...")
}

func startMCPServer(ctx context.Context, cancel context.CancelFunc, server *mcp.Server) {
	// Stdio serving ends when the client closes the stream
	if err := server.Start(ctx); err != nil {
		logger.Error("MCP server error", "error", err)
	}
	cancel()
}

// loadMCPConfig resolves the MCP configuration: a standalone file when
// given, otherwise the mcp section of the main config with defaults for
// everything unset.
func loadMCPConfig() (*mcpconfig.Config, error) {
	mcpConfig := mcpconfig.DefaultConfig()

	if mcpConfigFile != "" {
		v := viper.New()
		v.SetConfigFile(mcpConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read MCP config file: %w", err)
		}
		if err := v.UnmarshalKey("mcp", mcpConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal MCP config: %w", err)
		}
		return mcpConfig, nil
	}

	// Check for MCP settings in the main config
	if viper.IsSet("mcp.server.name") {
		mcpConfig.Server.Name = viper.GetString("mcp.server.name")
	}
	if viper.IsSet("mcp.performance.request_timeout") {
		mcpConfig.Performance.RequestTimeout = viper.GetDuration("mcp.performance.request_timeout")
	}
	if viper.IsSet("mcp.performance.max_results") {
		mcpConfig.Performance.MaxResults = viper.GetInt("mcp.performance.max_results")
	}
	if viper.IsSet("mcp.performance.schema_cache_ttl") {
		mcpConfig.Performance.SchemaCacheTTL = viper.GetDuration("mcp.performance.schema_cache_ttl")
	}
	if viper.IsSet("mcp.security.read_only") {
		mcpConfig.Security.ReadOnly = viper.GetBool("mcp.security.read_only")
	}
	if viper.IsSet("mcp.features.enable_templates") {
		mcpConfig.Features.EnableTemplates = viper.GetBool("mcp.features.enable_templates")
	}
	if viper.IsSet("mcp.features.enable_validation") {
		mcpConfig.Features.EnableValidation = viper.GetBool("mcp.features.enable_validation")
	}
	if viper.IsSet("mcp.features.enable_resources") {
		mcpConfig.Features.EnableResources = viper.GetBool("mcp.features.enable_resources")
	}
	if viper.IsSet("mcp.features.enable_prompts") {
		mcpConfig.Features.EnablePrompts = viper.GetBool("mcp.features.enable_prompts")
	}

	return mcpConfig, nil
}
