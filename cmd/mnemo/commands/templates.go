package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/query"
	"github.com/mnemograph/mnemo/engine/schema"
	"github.com/mnemograph/mnemo/pkg/config"
	"github.com/mnemograph/mnemo/pkg/logger"
	"github.com/mnemograph/mnemo/pkg/progress"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// templatesCmd represents the templates command
var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage and execute query templates",
	Long: `Query templates are curated Cypher queries for common knowledge graph
operations. Each template declares the labels and relationship types it
needs; at startup every template is checked against the live schema and
only templates whose requirements exist become executable.

Available subcommands:
  list      - List all registered templates
  show      - Show details of a specific template
  execute   - Execute a template with parameters
  export    - Execute a template and export results
  validate  - Validate all templates against the live schema

Templates are organized by category:
  - search: Entity lookups and constrained path searches
  - analytics: Degree rankings, temporal patterns and graph metrics
  - creation: Node and relationship creation
  - recommendation: Suggestions through shared connections`,
}

// listTemplatesCmd lists all registered templates
var listTemplatesCmd = &cobra.Command{
	Use:   "list [category]",
	Short: "List registered query templates",
	Long: `List all registered query templates, optionally filtered by category.
The listing covers the built-in catalog plus any templates loaded from
the configured template directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runListTemplates,
	Example: `  # List all templates
  mnemo templates list

  # List templates in a specific category
  mnemo templates list analytics

  # List with parameter details
  mnemo templates list --detailed`,
}

// showTemplateCmd shows details of a specific template
var showTemplateCmd = &cobra.Command{
	Use:   "show <template-name>",
	Short: "Show details of a specific template",
	Long: `Show detailed information about a query template including:
  - Description and category
  - Accepted parameters and their validation rules
  - Schema requirements (labels and relationship types)
  - The Cypher query it runs`,
	Args: cobra.ExactArgs(1),
	RunE: runShowTemplate,
	Example: `  # Show template details
  mnemo templates show entity_search

  # Show template with an example invocation
  mnemo templates show entity_search --example`,
}

// executeTemplateCmd executes a template
var executeTemplateCmd = &cobra.Command{
	Use:   "execute <template-name>",
	Short: "Execute a query template",
	Long: `Execute a query template with the specified parameters.

Parameters can be provided as command-line flags or via a JSON file.
Values given with --param are parsed as JSON first, so numbers and
booleans keep their type; anything that does not parse stays a string.

The template is validated against the live schema before execution;
templates whose required labels or relationship types are missing
from the database are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecuteTemplate,
	Example: `  # Execute with inline parameters
  mnemo templates execute entity_search --param property=name --param operator="=" --param value=alice

  # Execute with a JSON parameters file
  mnemo templates execute complex_path_search --params-file params.json

  # Narrow and cap the results
  mnemo templates execute entity_search --param property=type --param operator="=" --param value=person \
    --where "n.name STARTS WITH 'a'" --order-by "n.name ASC" --limit 20`,
}

// exportTemplateCmd executes and exports template results
var exportTemplateCmd = &cobra.Command{
	Use:   "export <template-name>",
	Short: "Execute a template and export results",
	Long: `Execute a query template and export the results in various formats.

Supported formats:
  - json: JSON format (default)
  - csv: Comma-separated values
  - tsv: Tab-separated values`,
	Args: cobra.ExactArgs(1),
	RunE: runExportTemplate,
	Example: `  # Export to JSON
  mnemo templates export graph_analytics --param limit=25 --output analytics.json

  # Export to CSV with headers
  mnemo templates export graph_metrics --param min_connections=2 --param limit=10 \
    --format csv --output degrees.csv

  # Export to stdout
  mnemo templates export entity_search --param property=type --param operator="=" \
    --param value=person --format json`,
}

// validateTemplatesCmd validates the catalog against the live schema
var validateTemplatesCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate all templates against the live schema",
	Long: `Validate every registered template against the live database schema.

Each template's required labels and relationship types are compared with
what actually exists in the database. Templates whose requirements are
met load; the rest are rejected with a reason. This is the same check
the MCP server runs at startup, so a clean validation here means every
template will be exposed as a tool.`,
	Args: cobra.NoArgs,
	RunE: runValidateTemplates,
	Example: `  # Validate the built-in catalog plus the configured template directory
  mnemo templates validate`,
}

// RegisterTemplatesCommand registers the templates command with the root command
func RegisterTemplatesCommand() {
	rootCmd.AddCommand(templatesCmd)

	// Add subcommands
	templatesCmd.AddCommand(listTemplatesCmd)
	templatesCmd.AddCommand(showTemplateCmd)
	templatesCmd.AddCommand(executeTemplateCmd)
	templatesCmd.AddCommand(exportTemplateCmd)
	templatesCmd.AddCommand(validateTemplatesCmd)

	// List command flags
	listTemplatesCmd.Flags().Bool("detailed", false, "Show detailed template information")

	// Show command flags
	showTemplateCmd.Flags().Bool("example", false, "Show an example invocation")

	// Execute command flags
	addTemplateExecutionFlags(executeTemplateCmd)

	// Export command flags
	addTemplateExecutionFlags(exportTemplateCmd)
	exportTemplateCmd.Flags().String("format", "json", "Export format: json, csv, tsv")
	exportTemplateCmd.Flags().String("output", "", "Output file (defaults to stdout)")
	exportTemplateCmd.Flags().Bool("pretty", true, "Pretty print JSON output")
	exportTemplateCmd.Flags().Bool("headers", true, "Include headers in CSV/TSV output")
	exportTemplateCmd.Flags().String("delimiter", "", "Custom delimiter for CSV/TSV")
}

func addTemplateExecutionFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("param", []string{}, "Template parameters in key=value format")
	cmd.Flags().String("params-file", "", "JSON file containing template parameters")
	cmd.Flags().String("where", "", "Additional WHERE predicate composed onto the template")
	cmd.Flags().String("order-by", "", "ORDER BY expression replacing the template's sort")
	cmd.Flags().Int("limit", 0, "Row limit replacing the template's LIMIT")
}

func runListTemplates(cmd *cobra.Command, args []string) error {
	var category string
	if len(args) > 0 {
		category = args[0]
	}

	detailed, err := cmd.Flags().GetBool("detailed")
	if err != nil {
		return fmt.Errorf("failed to get detailed flag: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	if category != "" {
		templates := registry.Category(category)
		if len(templates) == 0 {
			return fmt.Errorf("no templates found for category: %s", category)
		}
		displayTemplates(templates, detailed)
		return nil
	}

	caser := cases.Title(language.English)
	byCategory := registry.ListByCategory()
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		fmt.Printf("\n📁 %s:\n", caser.String(cat))
		displayTemplates(byCategory[cat], detailed)
	}
	return nil
}

func runShowTemplate(cmd *cobra.Command, args []string) error {
	templateName := args[0]
	showExample, err := cmd.Flags().GetBool("example")
	if err != nil {
		return fmt.Errorf("failed to get example flag: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	template, err := registry.Get(templateName)
	if err != nil {
		return err
	}

	fmt.Printf("📋 Template: %s\n", template.Name)
	fmt.Printf("📂 Category: %s\n", template.Category)
	fmt.Printf("📝 Description: %s\n\n", template.Description)

	fmt.Println("🔧 Parameters:")
	if len(template.Parameters) == 0 {
		fmt.Println("  No parameters required")
	} else {
		rules := template.RuleTexts()
		for _, name := range sortedKeys(template.Parameters) {
			if rule, ok := rules[name]; ok {
				fmt.Printf("  %s: %s (%s)\n", name, template.Parameters[name], rule)
			} else {
				fmt.Printf("  %s: %s\n", name, template.Parameters[name])
			}
		}
	}

	if len(template.RequiredLabels) > 0 || len(template.RequiredRelationshipTypes) > 0 {
		fmt.Println("\n🏷️  Schema requirements:")
		if len(template.RequiredLabels) > 0 {
			fmt.Printf("  Labels: %s\n", strings.Join(template.RequiredLabels, ", "))
		}
		if len(template.RequiredRelationshipTypes) > 0 {
			fmt.Printf("  Relationship types: %s\n", strings.Join(template.RequiredRelationshipTypes, ", "))
		}
	}

	fmt.Printf("\n🔍 Query:\n%s\n", template.Query.Render())

	if showExample {
		fmt.Println("\n💡 Example usage:")
		if template.Example != nil {
			fmt.Printf("mnemo templates execute %s", templateName)
			for _, name := range sortedKeys(template.Example.Parameters) {
				fmt.Printf(" --param %s=%v", name, template.Example.Parameters[name])
			}
			fmt.Println()
		} else {
			fmt.Printf("mnemo templates execute %s", templateName)
			for _, name := range sortedKeys(template.Parameters) {
				fmt.Printf(" --param %s=<value>", name)
			}
			fmt.Println()
		}
	}

	return nil
}

func runExecuteTemplate(cmd *cobra.Command, args []string) error {
	templateName := args[0]

	req, err := templateRequestFromFlags(cmd, templateName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevelFromString(cfg.Server.LogLevel)
	ctx := context.Background()

	repo, err := infra.NewNeo4jRepository(ctx, neo4jConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	defer repo.Close()

	executor, err := buildExecutor(ctx, cfg, repo)
	if err != nil {
		return err
	}

	response, err := executor.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	for _, warning := range response.Warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", warning)
	}

	// Display results
	if len(response.Results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	output, err := json.MarshalIndent(response.Results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	fmt.Printf("Results (%d rows):\n%s\n", len(response.Results), string(output))
	return nil
}

func runExportTemplate(cmd *cobra.Command, args []string) error {
	templateName := args[0]

	req, err := templateRequestFromFlags(cmd, templateName)
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevelFromString(cfg.Server.LogLevel)
	ctx := context.Background()

	repo, err := infra.NewNeo4jRepository(ctx, neo4jConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	defer repo.Close()

	executor, err := buildExecutor(ctx, cfg, repo)
	if err != nil {
		return err
	}

	response, err := executor.Execute(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	// Setup export options
	formatFlag, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	options := query.DefaultExportOptions(query.ExportFormat(formatFlag))
	if pretty, err := cmd.Flags().GetBool("pretty"); err == nil {
		options.Pretty = pretty
	}
	if headers, err := cmd.Flags().GetBool("headers"); err == nil {
		options.Headers = headers
	}
	if delimiter, _ := cmd.Flags().GetString("delimiter"); delimiter != "" {
		options.Delimiter = delimiter
	}

	exporter := query.NewExporter(options)

	// Determine output destination
	outputFile, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	var writer *os.File
	if outputFile != "" {
		writer, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer writer.Close()
	} else {
		writer = os.Stdout
	}

	// Export results
	metadata, err := exporter.ExportWithMetadata(writer, response.Results)
	if err != nil {
		return fmt.Errorf("failed to export results: %w", err)
	}

	// Print metadata to stderr (so it doesn't interfere with stdout output)
	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "✅ Exported %d rows, %d columns to %s (%d bytes)\n",
			metadata.RowCount, metadata.ColumnCount, outputFile, metadata.Size)
	}

	return nil
}

func runValidateTemplates(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx := context.Background()

	prog := progress.NewAdaptiveProgress(os.Stdout)
	prog.SetPhases([]progress.PhaseInfo{
		{Name: "connect", Description: "Connecting to Neo4j", Weight: 0.2},
		{Name: "schema", Description: "Fetching schema snapshot", Weight: 0.3},
		{Name: "validate", Description: "Validating templates", Weight: 0.5},
	})
	prog.Start("Validating query templates")

	repo, err := infra.NewNeo4jRepository(ctx, neo4jConfigFrom(cfg))
	if err != nil {
		prog.Error(err)
		return fmt.Errorf("failed to create Neo4j repository: %w", err)
	}
	defer repo.Close()

	prog.UpdatePhase("schema")
	accessor := schema.NewAccessor(repo)
	snapshot, err := accessor.Fetch(ctx)
	if err != nil {
		prog.Error(err)
		return fmt.Errorf("failed to fetch schema: %w", err)
	}

	prog.UpdatePhase("validate")
	registry, err := buildRegistry(cfg)
	if err != nil {
		prog.Error(err)
		return err
	}
	validator := schema.NewValidator(accessor, repo)
	executor := query.NewExecutor(registry, validator, repo)
	if err := executor.Initialize(ctx); err != nil {
		prog.Error(err)
		return fmt.Errorf("failed to validate templates: %w", err)
	}

	states := executor.States()
	stats := progress.ValidationStats{
		Templates:         registry.Len(),
		Loaded:            countTemplateState(states, query.StateLoaded),
		Rejected:          countTemplateState(states, query.StateRejected),
		Labels:            len(snapshot.Nodes),
		RelationshipTypes: len(snapshot.Relationships),
	}
	prog.SuccessWithStats("Template validation complete", stats)

	// List the rejected templates with their reasons after the summary
	if stats.Rejected > 0 {
		fmt.Println("Rejected templates:")
		for _, name := range sortedTemplateNames(states) {
			if states[name] != query.StateRejected {
				continue
			}
			if reason, ok := executor.RejectionReason(name); ok {
				fmt.Printf("  ❌ %s: %s\n", name, reason)
			}
		}
	}

	return nil
}

// templateRequestFromFlags assembles the execution request: parameters
// from flags and file, customizations from the where/order-by/limit flags
func templateRequestFromFlags(cmd *cobra.Command, templateName string) (*query.Request, error) {
	params, err := getTemplateParameters(cmd)
	if err != nil {
		return nil, err
	}

	req := &query.Request{
		TemplateName: templateName,
		Parameters:   params,
	}

	where, err := cmd.Flags().GetString("where")
	if err != nil {
		return nil, fmt.Errorf("failed to get where flag: %w", err)
	}
	orderBy, err := cmd.Flags().GetString("order-by")
	if err != nil {
		return nil, fmt.Errorf("failed to get order-by flag: %w", err)
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return nil, fmt.Errorf("failed to get limit flag: %w", err)
	}

	if where != "" || orderBy != "" || limit > 0 {
		req.Customizations = &query.Customizations{
			AdditionalWhere: where,
			OrderBy:         orderBy,
			Limit:           limit,
		}
	}

	return req, nil
}

func getTemplateParameters(cmd *cobra.Command) (map[string]any, error) {
	params := make(map[string]any)

	// Load from parameters file if specified
	paramsFile, err := cmd.Flags().GetString("params-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get params-file flag: %w", err)
	}
	if paramsFile != "" {
		data, err := os.ReadFile(paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters file: %w", err)
		}

		var fileParams map[string]any
		if err := json.Unmarshal(data, &fileParams); err != nil {
			return nil, fmt.Errorf("failed to parse parameters file: %w", err)
		}

		for key, value := range fileParams {
			params[key] = value
		}
	}

	// Add command-line parameters
	paramFlags, err := cmd.Flags().GetStringSlice("param")
	if err != nil {
		return nil, fmt.Errorf("failed to get param flag: %w", err)
	}
	for _, param := range paramFlags {
		parts := strings.SplitN(param, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid parameter format: %s (expected key=value)", param)
		}
		params[parts[0]] = coerceParamValue(parts[1])
	}

	return params, nil
}

// coerceParamValue parses a flag value as JSON so numbers and booleans
// keep their type. Values that are not valid JSON stay strings.
func coerceParamValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func displayTemplates(templates []*query.Template, detailed bool) {
	// Sort templates by name
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	for _, template := range templates {
		if detailed {
			fmt.Printf("  📋 %s\n", template.Name)
			fmt.Printf("     %s\n", template.Description)
			if len(template.Parameters) > 0 {
				fmt.Printf("     Parameters: %s\n", strings.Join(sortedKeys(template.Parameters), ", "))
			}
			if template.Source != query.SourceBuiltin {
				fmt.Printf("     Source: %s\n", template.Source)
			}
			fmt.Println()
		} else {
			fmt.Printf("  📋 %-25s %s\n", template.Name, template.Description)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func countTemplateState(states map[string]query.TemplateState, want query.TemplateState) int {
	count := 0
	for _, state := range states {
		if state == want {
			count++
		}
	}
	return count
}

func sortedTemplateNames(states map[string]query.TemplateState) []string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
