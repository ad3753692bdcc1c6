package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default Neo4j connection settings used when neither the config file
// nor the environment provides a value
const (
	DefaultNeo4jURI      = "neo4j://localhost:7687"
	DefaultNeo4jUsername = "neo4j"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "A Neo4j-backed knowledge graph with an MCP interface for LLM applications",
	Long: `Mnemo gives LLM applications a persistent memory backed by Neo4j. Facts are
stored as subject-predicate-object triples that grow into a knowledge graph,
and the whole graph is exposed to AI assistants over the Model Context
Protocol (MCP).

Key Features:
  • Store facts as entities connected by typed relationships
  • Query the graph through curated, schema-validated query templates
  • Validate Cypher against the live database schema before running it
  • Expose tools, resources and prompts over MCP stdio
  • Progress indicators for long-running operations

Example workflow:
  1. Initialize configuration:  mnemo init
  2. Set up the graph schema:   mnemo schema setup
  3. Store your first facts:    mnemo knowledge store --fact "alice|works_at|acme"
  4. Explore with Cypher:       mnemo query "MATCH (e:Entity) RETURN e.name LIMIT 10"
  5. Serve it to an assistant:  mnemo serve-mcp

For more information, visit: https://github.com/mnemograph/mnemo`,
}

var (
	initRootOnce sync.Once
	cfgFile      string
	databaseName string
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Initialize configuration
	InitConfig()

	// Initialize all commands
	InitClearCommand()
	InitHelpCommands()
	InitInitCommand()
	InitKnowledgeCommand()
	InitQueryCommand()
	InitSchemaCommand()
	InitVersionCommand()
	RegisterTemplatesCommand()
	RegisterMCPCommand()

	// Set help template for better formatting
	rootCmd.SetHelpTemplate(`{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}{{if or .Runnable .HasAvailableSubCommands}}{{.UsageString}}{{end}}`)

	// Configure help command
	rootCmd.SetUsageTemplate(`Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	cobra.CheckErr(rootCmd.Execute())
}

// InitConfig initializes the configuration
func InitConfig() {
	initRootOnce.Do(func() {
		// Add global config flags
		rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mnemo.yaml)")
		rootCmd.PersistentFlags().StringVar(&databaseName, "database", "", "Neo4j database to use (overrides config)")
		cobra.OnInitialize(initConfigFile)
	})
}

func initConfigFile() {
	// Load a .env file before viper resolves the environment
	config.InitEnv()

	// Set environment variable prefix and enable automatic environment variable reading
	viper.SetEnvPrefix("MNEMO")
	viper.AutomaticEnv()
	// Replace dots with underscores for environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// The unprefixed NEO4J_* variables win over config file values as well
	_ = viper.BindEnv("neo4j.uri", "NEO4J_URI", "MNEMO_NEO4J_URI")
	_ = viper.BindEnv("neo4j.username", "NEO4J_USERNAME", "MNEMO_NEO4J_USERNAME")
	_ = viper.BindEnv("neo4j.password", "NEO4J_PASSWORD", "MNEMO_NEO4J_PASSWORD")
	_ = viper.BindEnv("neo4j.database", "NEO4J_DATABASE", "MNEMO_NEO4J_DATABASE")

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.SetConfigName("mnemo")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// Note: Neo4j defaults are NOT set here to allow environment variables to take precedence

	if err := viper.ReadInConfig(); err != nil {
		// Only report errors that are not "file not found" errors
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// For explicit config files that don't exist, only warn (don't exit)
			if cfgFile != "" {
				fmt.Fprintf(os.Stderr, "Warning: Could not read config file %s: %s\n", cfgFile, err)
			} else {
				fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
				os.Exit(1)
			}
		}
	}
}

// neo4jConfigFrom maps the loaded application config onto the repository's
// connection settings
func neo4jConfigFrom(cfg *config.Config) *infra.Neo4jConfig {
	return &infra.Neo4jConfig{
		URI:        cfg.Neo4j.URI,
		Username:   cfg.Neo4j.Username,
		Password:   cfg.Neo4j.Password,
		Database:   config.EnsureDatabase(databaseName, &cfg.Neo4j),
		MaxRetries: 3,
	}
}

// connectRepository opens a repository for commands that need nothing from
// the configuration beyond the connection settings. A missing password is
// reported before any connection attempt is made.
func connectRepository(ctx context.Context) (infra.Repository, error) {
	neo4jCfg, err := config.LoadNeo4j(cfgFile)
	if err != nil {
		return nil, err
	}

	repo, err := infra.NewNeo4jRepository(ctx, &infra.Neo4jConfig{
		URI:        neo4jCfg.URI,
		Username:   neo4jCfg.Username,
		Password:   neo4jCfg.Password,
		Database:   config.EnsureDatabase(databaseName, neo4jCfg),
		MaxRetries: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	return repo, nil
}
