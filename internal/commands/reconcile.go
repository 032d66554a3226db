// internal/commands/reconcile.go
package tokentrace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/reconcile"
	"github.com/mwiater/tokentrace/internal/report"
)

var reconcileReportPath string

// reconcileCmd implements 'reconcile', which compares a report's estimates
// with ground-truth counts from a trace export.
var reconcileCmd = &cobra.Command{
	Use:     "reconcile <export>",
	Aliases: []string{"parse-xml"},
	Short:   "Compare estimates with token counts from a trace export",
	Long: `The 'reconcile' command reads the first token-count row from a trace
recorder's XML table export (or an equivalent JSON document) and compares it with the estimates in
a benchmark report. Without a report only the actual counts are printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().StringVar(&reconcileReportPath, "report", "", "benchmark report to compare (default: the configured export path)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg := *GetConfig()
	out := cmd.OutOrStdout()
	exportPath := args[0]

	actual, err := reconcile.ParseExport(exportPath)
	if err != nil {
		return err
	}
	reconcile.RenderActual(out, filepath.Base(exportPath), actual)

	reportPath := reconcileReportPath
	if reportPath == "" {
		reportPath = cfg.ExportFile()
	}
	result, err := report.Load(reportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "\nNo benchmark report at %s; run 'tokentrace run' first to compare estimates.\n", reportPath)
			return nil
		}
		return err
	}

	comparison := reconcile.Compare(result.Metrics, actual)
	fmt.Fprintln(out)
	reconcile.RenderComparison(out, comparison)

	ctx, cancel := commandContext(cmd, cfg)
	defer cancel()
	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	if err := sinks.recordComparison(result.ID, result.Model, exportPath, actual, comparison); err != nil {
		logging.Error("failed to record reconciliation", "id", result.ID, "err", err)
	}
	return sinks.Close()
}
