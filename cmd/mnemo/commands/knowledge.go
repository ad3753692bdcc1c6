package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mnemograph/mnemo/engine/core"
	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/engine/knowledge"
	"github.com/spf13/cobra"
)

// knowledgeCmd represents the knowledge command
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Store and explore facts in the knowledge graph",
	Long: `Work with the knowledge graph directly from the command line. Facts are
subject-predicate-object triples; storing one merges both entities and
connects them with a typed relationship.

Available subcommands:
  store        - Store facts in the knowledge graph
  facts        - List stored facts
  search       - Find entities by name or type
  entity       - Show one entity and its direct connections
  connections  - Find paths between two entities
  stats        - Summarize the stored knowledge graph`,
}

// storeFactsCmd stores facts
var storeFactsCmd = &cobra.Command{
	Use:   "store",
	Short: "Store facts in the knowledge graph",
	Long: `Store one or more facts. Each fact is a subject-predicate-object triple
given either inline as "subject|predicate|object" or in a JSON file
containing an array of {subject, predicate, object} objects.

All facts in one invocation commit in a single transaction and share the
same optional context tag.`,
	RunE: runStoreFacts,
	Example: `  # Store a single fact
  mnemo knowledge store --fact "alice|works_at|acme"

  # Store several facts under a context
  mnemo knowledge store --fact "alice|knows|bob" --fact "bob|works_at|initech" --context work

  # Store facts from a JSON file
  mnemo knowledge store --facts-file facts.json`,
}

// listFactsCmd lists stored facts
var listFactsCmd = &cobra.Command{
	Use:   "facts",
	Short: "List stored facts",
	Long: `List stored facts as subject-predicate-object triples. An optional search
term matches entity names and predicates case-insensitively, and the
listing can be narrowed to one knowledge context.`,
	Args: cobra.NoArgs,
	RunE: runListFacts,
	Example: `  # List everything
  mnemo knowledge facts

  # Facts mentioning alice
  mnemo knowledge facts --search alice

  # Facts stored under the "work" context
  mnemo knowledge facts --context work`,
}

// searchEntitiesCmd finds entities by pattern
var searchEntitiesCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Find entities by name or type",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchEntities,
	Example: `  # Find entities whose name or type contains "ali"
  mnemo knowledge search ali`,
}

// showEntityCmd shows one entity
var showEntityCmd = &cobra.Command{
	Use:   "entity <name>",
	Short: "Show one entity and its direct connections",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowEntity,
	Example: `  # Show the entity "alice" with everything directly connected to it
  mnemo knowledge entity alice`,
}

// findConnectionsCmd finds paths between two entities
var findConnectionsCmd = &cobra.Command{
	Use:   "connections <entity-a> <entity-b>",
	Short: "Find paths between two entities",
	Long: `Find how two entities are connected, following RELATES relationships in
either direction up to the maximum depth.`,
	Args: cobra.ExactArgs(2),
	RunE: runFindConnections,
	Example: `  # Find paths between alice and carol
  mnemo knowledge connections alice carol

  # Search deeper
  mnemo knowledge connections alice carol --max-depth 5`,
}

// knowledgeStatsCmd summarizes the graph
var knowledgeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the stored knowledge graph",
	Args:  cobra.NoArgs,
	RunE:  runKnowledgeStats,
	Example: `  # Show entity and relation counts, type breakdowns and hubs
  mnemo knowledge stats`,
}

var initKnowledgeOnce sync.Once

// InitKnowledgeCommand registers the knowledge command
func InitKnowledgeCommand() {
	initKnowledgeOnce.Do(func() {
		rootCmd.AddCommand(knowledgeCmd)
		knowledgeCmd.AddCommand(storeFactsCmd)
		knowledgeCmd.AddCommand(listFactsCmd)
		knowledgeCmd.AddCommand(searchEntitiesCmd)
		knowledgeCmd.AddCommand(showEntityCmd)
		knowledgeCmd.AddCommand(findConnectionsCmd)
		knowledgeCmd.AddCommand(knowledgeStatsCmd)

		storeFactsCmd.Flags().StringSlice("fact", []string{}, `Fact in "subject|predicate|object" form`)
		storeFactsCmd.Flags().String("facts-file", "", "JSON file containing an array of facts")
		storeFactsCmd.Flags().String("context", "", "Context tag the facts are grouped under")

		listFactsCmd.Flags().String("search", "", "Term matched against entity names and predicates")
		listFactsCmd.Flags().String("context", "", "Only facts stored under this context")

		findConnectionsCmd.Flags().Int("max-depth", 0, "Maximum path length to search (default 3)")
	})
}

// newKnowledgeService connects to Neo4j and returns the knowledge service
// together with the repository handle the caller must close
func newKnowledgeService(ctx context.Context) (knowledge.Service, infra.Repository, error) {
	repo, err := connectRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	return knowledge.NewService(repo, nil), repo, nil
}

func runStoreFacts(cmd *cobra.Command, _ []string) error {
	factFlags, err := cmd.Flags().GetStringSlice("fact")
	if err != nil {
		return fmt.Errorf("failed to get fact flag: %w", err)
	}
	factsFile, err := cmd.Flags().GetString("facts-file")
	if err != nil {
		return fmt.Errorf("failed to get facts-file flag: %w", err)
	}
	contextTag, err := cmd.Flags().GetString("context")
	if err != nil {
		return fmt.Errorf("failed to get context flag: %w", err)
	}

	facts, err := collectFacts(factFlags, factsFile)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return fmt.Errorf("no facts provided: use --fact or --facts-file")
	}

	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	result, err := service.StoreFacts(ctx, facts, contextTag)
	if err != nil {
		return fmt.Errorf("failed to store facts: %w", err)
	}

	fmt.Printf("✓ Stored %d facts\n", result.TotalStored)
	for i := range result.StoredFacts {
		fact := &result.StoredFacts[i]
		fmt.Printf("  %s -[%s]-> %s\n", fact.Subject, fact.Predicate, fact.Object)
	}
	if result.Context != "" {
		fmt.Printf("Context: %s\n", result.Context)
	}
	return nil
}

// collectFacts merges the facts file with inline fact flags
func collectFacts(factFlags []string, factsFile string) ([]core.Fact, error) {
	var facts []core.Fact

	if factsFile != "" {
		data, err := os.ReadFile(factsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read facts file: %w", err)
		}
		if err := json.Unmarshal(data, &facts); err != nil {
			return nil, fmt.Errorf("failed to parse facts file: %w", err)
		}
	}

	for _, flag := range factFlags {
		parts := strings.Split(flag, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid fact format: %s (expected subject|predicate|object)", flag)
		}
		facts = append(facts, core.Fact{
			Subject:   strings.TrimSpace(parts[0]),
			Predicate: strings.TrimSpace(parts[1]),
			Object:    strings.TrimSpace(parts[2]),
		})
	}

	return facts, nil
}

func runListFacts(cmd *cobra.Command, _ []string) error {
	search, err := cmd.Flags().GetString("search")
	if err != nil {
		return fmt.Errorf("failed to get search flag: %w", err)
	}
	contextFilter, err := cmd.Flags().GetString("context")
	if err != nil {
		return fmt.Errorf("failed to get context flag: %w", err)
	}

	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	result, err := service.QueryKnowledge(ctx, search, contextFilter)
	if err != nil {
		return fmt.Errorf("failed to query knowledge: %w", err)
	}

	if result.TotalFound == 0 {
		fmt.Println("No facts found")
		return nil
	}

	fmt.Printf("Found %d facts:\n", result.TotalFound)
	for i := range result.Relations {
		rel := &result.Relations[i]
		line := fmt.Sprintf("  %s -[%s]-> %s", rel.FromName, rel.Type, rel.ToName)
		if tag, ok := rel.Properties["context"].(string); ok && tag != "" {
			line += fmt.Sprintf(" (context: %s)", tag)
		}
		fmt.Println(line)
	}
	return nil
}

func runSearchEntities(_ *cobra.Command, args []string) error {
	pattern := args[0]

	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	entities, err := service.SearchEntities(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to search entities: %w", err)
	}

	if len(entities) == 0 {
		fmt.Println("No entities found")
		return nil
	}

	fmt.Printf("Found %d entities:\n", len(entities))
	for i := range entities {
		entity := &entities[i]
		if entity.Type != "" {
			fmt.Printf("  • %s (%s)\n", entity.Name, entity.Type)
		} else {
			fmt.Printf("  • %s\n", entity.Name)
		}
	}
	return nil
}

func runShowEntity(_ *cobra.Command, args []string) error {
	name := args[0]

	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	overview, err := service.GetEntity(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get entity: %w", err)
	}

	fmt.Printf("Entity: %s\n", overview.Entity.Name)
	if overview.Entity.Type != "" {
		fmt.Printf("Type: %s\n", overview.Entity.Type)
	}
	for _, observation := range overview.Entity.Observations {
		fmt.Printf("  note: %s\n", observation)
	}

	if len(overview.Connections) == 0 {
		fmt.Println("\nNo connections")
		return nil
	}

	fmt.Printf("\nConnections (%d):\n", len(overview.Connections))
	for _, conn := range overview.Connections {
		line := fmt.Sprintf("  -[%s]- %s", conn.Relation, conn.Entity)
		if conn.Context != "" {
			line += fmt.Sprintf(" (context: %s)", conn.Context)
		}
		fmt.Println(line)
	}
	return nil
}

func runFindConnections(cmd *cobra.Command, args []string) error {
	conceptA, conceptB := args[0], args[1]
	maxDepth, err := cmd.Flags().GetInt("max-depth")
	if err != nil {
		return fmt.Errorf("failed to get max-depth flag: %w", err)
	}

	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	connections, err := service.FindConnections(ctx, conceptA, conceptB, maxDepth)
	if err != nil {
		return fmt.Errorf("failed to find connections: %w", err)
	}

	if len(connections) == 0 {
		fmt.Printf("No paths found between '%s' and '%s'\n", conceptA, conceptB)
		return nil
	}

	fmt.Printf("Found %d paths:\n", len(connections))
	for i := range connections {
		fmt.Printf("  %s\n", formatConnection(&connections[i]))
	}
	return nil
}

// formatConnection renders one path as "a -[knows]-> b -[works_at]-> c"
func formatConnection(conn *core.Connection) string {
	if len(conn.Nodes) == 0 {
		return "(empty path)"
	}

	var sb strings.Builder
	sb.WriteString(conn.Nodes[0].Name)
	for i, relType := range conn.RelationTypes {
		if i+1 >= len(conn.Nodes) {
			break
		}
		fmt.Fprintf(&sb, " -[%s]-> %s", relType, conn.Nodes[i+1].Name)
	}
	return sb.String()
}

func runKnowledgeStats(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	service, repo, err := newKnowledgeService(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	stats, err := service.Statistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	fmt.Println("Knowledge graph statistics")
	fmt.Printf("  Entities:  %d\n", stats.TotalEntities)
	fmt.Printf("  Relations: %d\n", stats.TotalRelations)

	if len(stats.EntityTypes) > 0 {
		fmt.Println("\nEntity types:")
		for _, bucket := range stats.EntityTypes {
			fmt.Printf("  %-20s %d\n", bucket.Type, bucket.Count)
		}
	}

	if len(stats.RelationTypes) > 0 {
		fmt.Println("\nRelation types:")
		for _, bucket := range stats.RelationTypes {
			fmt.Printf("  %-20s %d\n", bucket.Type, bucket.Count)
		}
	}

	if len(stats.MostConnected) > 0 {
		fmt.Println("\nMost connected entities:")
		for _, rank := range stats.MostConnected {
			fmt.Printf("  %-20s %d connections\n", rank.Entity, rank.Degree)
		}
	}

	return nil
}
