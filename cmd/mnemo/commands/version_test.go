package commands_test

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	t.Run("Should display version information", func(t *testing.T) {
		// Create root command
		rootCmd := &cobra.Command{Use: "mnemo"}

		// Create a test version command
		versionCmd := &cobra.Command{
			Use:   "version",
			Short: "Show mnemo version information",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Println("mnemo version development")
			},
		}
		rootCmd.AddCommand(versionCmd)

		output, err := executeCommand(rootCmd, "version")

		require.NoError(t, err)
		assert.Contains(t, output, "mnemo version")
	})

	t.Run("Should not accept arguments", func(t *testing.T) {
		rootCmd := &cobra.Command{Use: "mnemo"}

		versionCmd := &cobra.Command{
			Use:   "version",
			Short: "Show mnemo version information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cmd.Println("mnemo version development")
				return nil
			},
		}
		rootCmd.AddCommand(versionCmd)

		// Version command with unexpected argument should error
		_, err := executeCommand(rootCmd, "version", "unexpected-arg")
		assert.Error(t, err)
	})
}
