// internal/commands/list.go
package tokentrace

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/benchmark"
)

// CommandInfo holds the path and description of a command for display.
type CommandInfo struct {
	Path        string
	Description string
}

// ListCommands prints the command tree in a two-column layout.
func ListCommands(out io.Writer, commands []CommandInfo) {
	maxPathLength := 0
	for _, data := range commands {
		if len(data.Path) > maxPathLength {
			maxPathLength = len(data.Path)
		}
	}

	fmt.Fprintln(out, "Commands and Subcommands:")
	for _, data := range commands {
		fmt.Fprintf(out, "  %s%s%s\n", data.Path, strings.Repeat(" ", maxPathLength-len(data.Path)+2), data.Description)
	}
}

// commandsCmd implements 'list commands'.
var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List all commands and subcommands in two columns",
	Run: func(cmd *cobra.Command, args []string) {
		var filtered []CommandInfo
		for _, data := range collectCommandData(rootCmd, "", "") {
			if strings.Contains(data.Path, "completion") || strings.Contains(data.Path, " help") {
				continue
			}
			filtered = append(filtered, data)
		}
		ListCommands(cmd.OutOrStdout(), filtered)
	},
}

// presetsCmd implements 'list presets'.
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in benchmark prompts",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		current := GetConfig().PromptName()
		for _, name := range benchmark.PresetNames() {
			p := benchmark.Presets[name]
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-14s %5d instruction chars, %5d prompt chars\n", marker, name,
				utf8.RuneCountInString(p.Instructions), utf8.RuneCountInString(p.UserPrompt))
		}
	},
}

func init() {
	listCmd.AddCommand(commandsCmd)
	listCmd.AddCommand(presetsCmd)
}

// collectCommandData walks the command tree and flattens it into
// indented path/description pairs.
func collectCommandData(cmd *cobra.Command, currentPath string, indent string) []CommandInfo {
	fullPath := cmd.Name()
	if currentPath != "" {
		fullPath = currentPath + " " + cmd.Name()
	}

	allData := []CommandInfo{{Path: indent + fullPath, Description: cmd.Short}}
	for _, subCmd := range cmd.Commands() {
		allData = append(allData, collectCommandData(subCmd, fullPath, indent+"  ")...)
	}
	return allData
}
