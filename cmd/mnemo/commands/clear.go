package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mnemograph/mnemo/engine/infra"
	"github.com/mnemograph/mnemo/pkg/logger"
	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [context]",
	Short: "Clear stored knowledge from Neo4j",
	Long: `Clear removes stored facts from the knowledge graph. You can either clear
the facts of a single knowledge context by providing its tag, or clear
the entire graph.

Clearing a context deletes the relationships tagged with it and then
removes any entities left without connections. Clearing everything
detaches and deletes all entities.

Safety features:
  • Confirmation prompt before deletion (bypass with --force)
  • Dry-run mode to preview what would be deleted

WARNING: This operation cannot be undone! Make sure you have backups
if the data is important.`,
	Example: `  # Clear one knowledge context (with confirmation)
  mnemo clear work

  # Clear all stored knowledge (with confirmation)
  mnemo clear

  # Clear without confirmation prompt
  mnemo clear --force

  # See what would be cleared without actually clearing
  mnemo clear work --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return fmt.Errorf("failed to get force flag: %w", err)
		}
		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return fmt.Errorf("failed to get dry-run flag: %w", err)
		}

		var contextTag string
		if len(args) > 0 {
			contextTag = args[0]
			if contextTag == "" {
				return fmt.Errorf("context tag cannot be empty")
			}
		}

		ctx := context.Background()
		repo, err := connectRepository(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		var targetDescription string
		if contextTag != "" {
			targetDescription = fmt.Sprintf("facts in context '%s'", contextTag)
		} else {
			targetDescription = "ALL stored knowledge in the Neo4j database"
		}

		if dryRun {
			count, err := countClearTarget(ctx, repo, contextTag)
			if err != nil {
				return err
			}
			logger.Info("DRY RUN: would clear", "target", targetDescription, "facts", count)
			return nil
		}

		// Confirm the operation if not forced
		if !force {
			fmt.Printf("\n⚠️  WARNING: This will permanently delete %s!\n", targetDescription)
			fmt.Print("Are you sure you want to continue? [y/N]: ")

			reader := bufio.NewReader(os.Stdin)
			response, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read response: %w", err)
			}

			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				logger.Info("operation canceled")
				return nil
			}
		}

		if contextTag != "" {
			return clearContext(ctx, repo, contextTag)
		}
		return clearAll(ctx, repo)
	},
}

// countClearTarget counts the facts a clear operation would remove
func countClearTarget(ctx context.Context, repo infra.Repository, contextTag string) (int64, error) {
	cypher := "MATCH (:Entity)-[r:RELATES]->(:Entity) RETURN count(r) AS facts"
	var params map[string]any
	if contextTag != "" {
		cypher = "MATCH (:Entity)-[r:RELATES {context: $context}]->(:Entity) RETURN count(r) AS facts"
		params = map[string]any{"context": contextTag}
	}

	rows, err := repo.ExecuteQuery(ctx, cypher, params)
	if err != nil {
		return 0, fmt.Errorf("failed to count facts: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	count, _ := rows[0]["facts"].(int64)
	return count, nil
}

// clearContext removes the relationships of one context, then the
// entities left without any connections. Both statements run in a single
// transaction so a failure leaves the graph untouched.
func clearContext(ctx context.Context, repo infra.Repository, contextTag string) error {
	logger.Info("clearing knowledge context", "context", contextTag)

	stats, err := repo.ExecuteBatchWrite(ctx, []infra.BatchStatement{
		{
			Query:      "MATCH (:Entity)-[r:RELATES {context: $context}]->(:Entity) DELETE r",
			Parameters: map[string]any{"context": contextTag},
		},
		{
			Query: "MATCH (e:Entity) WHERE NOT (e)-[:RELATES]-() DELETE e",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to clear context: %w", err)
	}

	logger.Info("✓ context cleared successfully",
		"context", contextTag,
		"relations_deleted", stats.Counters.RelationshipsDeleted,
		"entities_deleted", stats.Counters.NodesDeleted)
	return nil
}

// clearAll removes every entity and relationship in the knowledge graph
func clearAll(ctx context.Context, repo infra.Repository) error {
	logger.Warn("clearing ALL stored knowledge from Neo4j")

	_, stats, err := repo.ExecuteWrite(ctx, "MATCH (e:Entity) DETACH DELETE e", nil)
	if err != nil {
		return fmt.Errorf("failed to clear database: %w", err)
	}

	logger.Info("✓ all stored knowledge cleared",
		"entities_deleted", stats.Counters.NodesDeleted,
		"relations_deleted", stats.Counters.RelationshipsDeleted)
	return nil
}

var initClearOnce sync.Once

// InitClearCommand registers the clear command
func InitClearCommand() {
	initClearOnce.Do(func() {
		rootCmd.AddCommand(clearCmd)

		// Add flags for safety
		clearCmd.Flags().BoolP("force", "f", false, "Force clear without confirmation")
		clearCmd.Flags().BoolP("dry-run", "d", false, "Show what would be cleared without actually clearing")
	})
}
