package commands

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new mnemo configuration file",
	Long: `Initialize creates a new mnemo.yaml configuration file in the current
directory with default settings. This file holds the Neo4j connection
details, template catalog options and the MCP server configuration.

The configuration file includes:
  • Neo4j connection details
  • Server name and logging preferences
  • Query template catalog options
  • MCP feature toggles and limits

Example:
  mnemo init

This will create a mnemo.yaml file with sensible defaults that you can
then customize according to your needs.`,
	Example: `  # Create a default configuration file
  mnemo init

  # After creation, edit mnemo.yaml to customize:
  # - Neo4j connection details
  # - Template directory for your own query templates
  # - MCP feature toggles`,
	RunE: func(_ *cobra.Command, _ []string) error {
		configFile := "mnemo.yaml"
		if cfgFile != "" {
			configFile = cfgFile
		}

		// Check if file exists and force flag is not set
		if _, err := os.Stat(configFile); err == nil && !forceOverwrite {
			return fmt.Errorf("config file %s already exists. Use --force to overwrite", configFile)
		}

		// Set default configuration values
		v := viper.New()
		v.Set("server.name", "mnemo")
		v.Set("server.log_level", "info")
		v.Set("neo4j.uri", DefaultNeo4jURI)
		v.Set("neo4j.username", DefaultNeo4jUsername)
		v.Set("neo4j.password", "")
		v.Set("neo4j.database", "neo4j")
		v.Set("templates.dir", "")
		v.Set("templates.setup_schema", true)
		v.Set("mcp.security.read_only", false)
		v.Set("mcp.performance.max_results", 1000)
		v.Set("mcp.features.enable_templates", true)
		v.Set("mcp.features.enable_validation", true)
		v.Set("mcp.features.enable_resources", true)
		v.Set("mcp.features.enable_prompts", true)

		// Write config file
		if err := v.WriteConfigAs(configFile); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Printf("✓ Configuration file '%s' created successfully\n", configFile)
		fmt.Println("\nNext steps:")
		fmt.Println("1. Edit the config file to configure the Neo4j connection")
		fmt.Println("2. Run 'mnemo schema setup' to apply constraints and indexes")
		fmt.Println("3. Run 'mnemo serve-mcp' to expose the graph over MCP")
		return nil
	},
}

var (
	initInitOnce   sync.Once
	forceOverwrite bool
)

// InitInitCommand registers the init command
func InitInitCommand() {
	initInitOnce.Do(func() {
		initCmd.Flags().BoolVar(&forceOverwrite, "force", false, "Force overwrite existing config file")
		rootCmd.AddCommand(initCmd)
	})
}
