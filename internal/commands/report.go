// internal/commands/report.go
package tokentrace

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/report"
)

var reportWidth int

// reportCmd implements 'report', which prints a saved benchmark report as
// the markdown summary.
var reportCmd = &cobra.Command{
	Use:   "report [file]",
	Short: "Show a saved benchmark report as markdown",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := GetConfig().ExportFile()
		if len(args) == 1 {
			path = args[0]
		}
		result, err := report.Load(path)
		if err != nil {
			return err
		}
		md := report.Markdown(result)
		if !stdoutIsTerminal() {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		rendered, err := report.RenderMarkdown(md, reportWidth)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().IntVar(&reportWidth, "width", 100, "word wrap width for terminal rendering")
}
