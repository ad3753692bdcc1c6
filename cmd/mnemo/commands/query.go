package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/pkg/config"
	"github.com/mnemograph/mnemo/pkg/logger"
	"github.com/mnemograph/mnemo/pkg/progress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

var initQueryOnce sync.Once

// InitQueryCommand registers the query command
func InitQueryCommand() {
	initQueryOnce.Do(func() {
		rootCmd.AddCommand(queryCmd)
		queryCmd.Flags().String("format", formatTable, "Output format: table, json")
		queryCmd.Flags().StringSlice("param", []string{}, "Query parameters in key=value format")
		queryCmd.Flags().BoolP("count", "c", false, "Show result count and timing")
		queryCmd.Flags().Bool("no-progress", false, "Disable progress indicators")
	})
}

var queryCmd = &cobra.Command{
	Use:   "query [cypher query]",
	Short: "Execute Cypher queries against the knowledge graph",
	Long: `Execute Cypher queries to explore the knowledge graph stored in Neo4j. This
command runs any valid Cypher query and shows results in either table or
JSON format.

The knowledge graph uses a deliberately small vocabulary:
  • Entity: A named concept (person, place, project, anything)
  • RELATES: A typed relationship between two entities; the predicate
    lives in the relationship's "type" property and the knowledge
    context in its "context" property

Common queries:
  • List all entities:
    MATCH (e:Entity) RETURN e.name

  • Show every stored fact:
    MATCH (a:Entity)-[r:RELATES]->(b:Entity)
    RETURN a.name, r.type, b.name

  • Find the most connected entities:
    MATCH (e:Entity)
    RETURN e.name, count { (e)-[:RELATES]-() } AS degree
    ORDER BY degree DESC LIMIT 10

  • Facts in one context:
    MATCH (a:Entity)-[r:RELATES {context: "work"}]->(b:Entity)
    RETURN a.name, r.type, b.name`,
	Example: `  # List all entities
  mnemo query "MATCH (e:Entity) RETURN e.name"

  # Show facts as JSON
  mnemo query "MATCH (a:Entity)-[r:RELATES]->(b:Entity) RETURN a.name, r.type, b.name" --format json

  # Bind parameters by name
  mnemo query "MATCH (e:Entity {name: \$name}) RETURN e" --param name=alice

  # Show query result count and timing
  mnemo query "MATCH (n) RETURN n" -c`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cypher := args[0]
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}
		showCount, err := cmd.Flags().GetBool("count")
		if err != nil {
			return fmt.Errorf("failed to get count flag: %w", err)
		}
		noProgress, err := cmd.Flags().GetBool("no-progress")
		if err != nil {
			return fmt.Errorf("failed to get no-progress flag: %w", err)
		}
		paramFlags, err := cmd.Flags().GetStringSlice("param")
		if err != nil {
			return fmt.Errorf("failed to get param flag: %w", err)
		}

		// Validate format
		if format != formatTable && format != formatJSON {
			return fmt.Errorf("invalid format: %s (must be 'table' or 'json')", format)
		}

		params, err := parseParamFlags(paramFlags)
		if err != nil {
			return err
		}

		// Get Neo4j configuration with fallback to defaults
		neo4jCfg := &config.Neo4jConfig{
			URI:      viper.GetString("neo4j.uri"),
			Username: viper.GetString("neo4j.username"),
			Password: viper.GetString("neo4j.password"),
			Database: viper.GetString("neo4j.database"),
		}
		if neo4jCfg.URI == "" {
			neo4jCfg.URI = DefaultNeo4jURI // Default only if not set via env vars
		}
		if neo4jCfg.Username == "" {
			neo4jCfg.Username = DefaultNeo4jUsername // Default only if not set via env vars
		}

		neo4jConfig := &infra.Neo4jConfig{
			URI:        neo4jCfg.URI,
			Username:   neo4jCfg.Username,
			Password:   neo4jCfg.Password,
			Database:   config.EnsureDatabase(databaseName, neo4jCfg),
			MaxRetries: 3,
		}

		if noProgress {
			return runQueryWithoutProgress(cypher, format, showCount, params, neo4jConfig)
		}
		return runQueryWithProgress(cypher, format, showCount, params, neo4jConfig)
	},
}

// parseParamFlags turns repeated key=value flags into query parameters
func parseParamFlags(flags []string) (map[string]any, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(flags))
	for _, flag := range flags {
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid parameter format: %s (expected key=value)", flag)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

func outputJSON(results []map[string]any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func outputTable(results []map[string]any) error {
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	// Get column names from first result
	var columns []string
	for key := range results[0] {
		columns = append(columns, key)
	}

	// Create tabwriter for aligned output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Print header
	fmt.Fprintf(w, "%s\n", strings.Join(columns, "\t"))
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", len(strings.Join(columns, "\t"))))

	// Print rows
	for _, row := range results {
		var values []string
		for _, col := range columns {
			values = append(values, formatValue(row[col]))
		}
		fmt.Fprintf(w, "%s\n", strings.Join(values, "\t"))
	}

	return w.Flush()
}

func formatValue(val any) string {
	if val == nil {
		return "<nil>"
	}

	switch v := val.(type) {
	case string:
		// Truncate long strings
		if len(v) > 50 {
			return v[:47] + "..."
		}
		return v
	case map[string]any:
		// For node/relationship objects, try to display a meaningful summary
		if name, ok := v["name"].(string); ok {
			return fmt.Sprintf("{name: %s}", name)
		}
		if relType, ok := v["type"].(string); ok {
			return fmt.Sprintf("{type: %s}", relType)
		}
		return fmt.Sprintf("{%d props}", len(v))
	case []any:
		return fmt.Sprintf("[%d items]", len(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

func runQueryWithoutProgress(
	cypher, format string,
	showCount bool,
	params map[string]any,
	neo4jConfig *infra.Neo4jConfig,
) error {
	ctx := context.Background()

	// Initialize Neo4j repository
	logger.Debug("connecting to Neo4j", "uri", neo4jConfig.URI)
	repo, err := infra.NewNeo4jRepository(ctx, neo4jConfig)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	defer repo.Close()

	// Execute query
	logger.Debug("executing query", "query", cypher)
	start := time.Now()
	results, err := repo.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	duration := time.Since(start)

	return displayQueryResults(results, format, showCount, duration)
}

func runQueryWithProgress(
	cypher, format string,
	showCount bool,
	params map[string]any,
	neo4jConfig *infra.Neo4jConfig,
) error {
	ctx := context.Background()
	var results []map[string]any
	var duration time.Duration

	// Connect to Neo4j with progress
	var repo infra.Repository
	err := progress.WithProgress("Connecting to Neo4j", func() error {
		var err error
		repo, err = infra.NewNeo4jRepository(ctx, neo4jConfig)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	defer repo.Close()

	// Execute query with progress
	err = progress.WithProgress("Executing query", func() error {
		start := time.Now()
		var err error
		results, err = repo.ExecuteQuery(ctx, cypher, params)
		duration = time.Since(start)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	return displayQueryResults(results, format, showCount, duration)
}

func displayQueryResults(results []map[string]any, format string, showCount bool, duration time.Duration) error {
	if showCount {
		fmt.Printf("Query returned %d results in %v\n\n", len(results), duration)
	}

	switch format {
	case formatJSON:
		return outputJSON(results)
	default:
		return outputTable(results)
	}
}
