package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/schema"
	"github.com/mnemograph/mnemo/pkg/progress"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// schemaCmd represents the schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and manage the graph schema",
	Long: `Inspect the live database schema and manage the constraints and indexes
the knowledge graph relies on.

Available subcommands:
  setup    - Apply the knowledge graph constraints and indexes
  show     - Show the node labels, relationship types and properties
  indexes  - List the indexes and constraints in the database
  check    - Compare a proposed schema definition against the live schema`,
}

// schemaSetupCmd applies the constraints and indexes
var schemaSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Apply the knowledge graph constraints and indexes",
	Long: `Apply the uniqueness constraint on entity names and the supporting
indexes. All statements use IF NOT EXISTS, so running setup repeatedly
is safe.`,
	Args: cobra.NoArgs,
	RunE: runSchemaSetup,
	Example: `  # Apply constraints and indexes
  mnemo schema setup`,
}

// schemaShowCmd displays the live schema
var schemaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the live database schema",
	Long: `Show the node labels and relationship types currently in the database,
together with the properties observed on each and whether a property is
present on every node or relationship that carries the label or type.`,
	Args: cobra.NoArgs,
	RunE: runSchemaShow,
	Example: `  # Show the schema as a readable listing
  mnemo schema show

  # Show the schema as JSON
  mnemo schema show --format json`,
}

// schemaIndexesCmd lists indexes and constraints
var schemaIndexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List the indexes and constraints in the database",
	Args:  cobra.NoArgs,
	RunE:  runSchemaIndexes,
	Example: `  # List indexes and constraints
  mnemo schema indexes`,
}

// schemaCheckCmd compares a proposed definition against the live schema
var schemaCheckCmd = &cobra.Command{
	Use:   "check <definition-file>",
	Short: "Compare a proposed schema definition against the live schema",
	Long: `Compare a proposed schema definition against what is actually in the
database. The definition file is YAML (or JSON) describing labels,
relationship types and indexes:

  labels:
    - name: Entity
      properties:
        - name: name
          type: String
          mandatory: true
  relationship_types:
    - name: RELATES
  indexes:
    - labels: [Entity]
      properties: [name]

Differences are reported as warnings; the check never modifies the
database.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchemaCheck,
	Example: `  # Check a definition file
  mnemo schema check schema.yaml`,
}

var initSchemaOnce sync.Once

// InitSchemaCommand registers the schema command
func InitSchemaCommand() {
	initSchemaOnce.Do(func() {
		rootCmd.AddCommand(schemaCmd)
		schemaCmd.AddCommand(schemaSetupCmd)
		schemaCmd.AddCommand(schemaShowCmd)
		schemaCmd.AddCommand(schemaIndexesCmd)
		schemaCmd.AddCommand(schemaCheckCmd)

		schemaShowCmd.Flags().String("format", formatTable, "Output format: table, json")
	})
}

func runSchemaSetup(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	var repo infra.Repository
	err := progress.WithProgress("Connecting to Neo4j", func() error {
		var err error
		repo, err = connectRepository(ctx)
		return err
	})
	if err != nil {
		return err
	}
	defer repo.Close()

	statements := schema.SetupStatements()
	err = progress.WithProgress("Applying constraints and indexes", func() error {
		return repo.ApplySchemaStatements(ctx, statements)
	})
	if err != nil {
		return fmt.Errorf("failed to apply schema statements: %w", err)
	}

	fmt.Printf("✓ Applied %d schema statements\n", len(statements))
	return nil
}

func runSchemaShow(cmd *cobra.Command, _ []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}

	ctx := context.Background()
	repo, err := connectRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	snapshot, err := schema.NewAccessor(repo).Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch schema: %w", err)
	}

	if format == formatJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snapshot)
	}

	fmt.Printf("Node labels (%d):\n", len(snapshot.Nodes))
	for i := range snapshot.Nodes {
		node := &snapshot.Nodes[i]
		fmt.Printf("  • %s\n", node.Label)
		displayProperties(node.Properties)
	}

	fmt.Printf("\nRelationship types (%d):\n", len(snapshot.Relationships))
	for i := range snapshot.Relationships {
		rel := &snapshot.Relationships[i]
		fmt.Printf("  • %s\n", rel.Type)
		displayProperties(rel.Properties)
	}

	return nil
}

func displayProperties(properties []schema.PropertySchema) {
	for i := range properties {
		prop := &properties[i]
		line := fmt.Sprintf("      %s: %s", prop.Name, strings.Join(prop.Types, " | "))
		if prop.Mandatory {
			line += " (required)"
		}
		fmt.Println(line)
	}
}

func runSchemaIndexes(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	repo, err := connectRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	indexes, err := repo.ShowIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}

	return outputTable(indexes)
}

func runSchemaCheck(_ *cobra.Command, args []string) error {
	definitionFile := args[0]

	data, err := os.ReadFile(definitionFile)
	if err != nil {
		return fmt.Errorf("failed to read definition file: %w", err)
	}

	// YAML is a superset of JSON, so one parser covers both formats
	var proposed schema.Definition
	if err := yaml.Unmarshal(data, &proposed); err != nil {
		return fmt.Errorf("failed to parse definition file: %w", err)
	}
	if err := proposed.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	repo, err := connectRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	accessor := schema.NewAccessor(repo)
	warnings, err := schema.NewValidator(accessor, repo).ValidateChanges(ctx, &proposed)
	if err != nil {
		return fmt.Errorf("failed to check schema definition: %w", err)
	}

	if len(warnings) == 0 {
		fmt.Println("✓ Definition matches the live schema")
		return nil
	}

	fmt.Printf("Found %d differences:\n", len(warnings))
	for _, warning := range warnings {
		fmt.Printf("  ⚠️  %s\n", warning)
	}
	return nil
}
