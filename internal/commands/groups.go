// internal/commands/groups.go
package tokentrace

import (
	"github.com/spf13/cobra"
)

// configCmd represents the 'config' command group.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Group commands for inspecting the configuration",
	Long:  `The 'config' command groups subcommands that display or check the merged tokentrace configuration.`,
}

// listCmd represents the 'list' command group for enumerating resources.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Group commands for listing resources",
	Long:  `The 'list' command groups subcommands that list commands, prompt presets, and recorded runs.`,
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(listCmd)
}
