// internal/commands/history.go
package tokentrace

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/history"
	"github.com/mwiater/tokentrace/internal/metrics"
)

var historyLimit int

// historyCmd implements 'history', which lists recorded runs with their
// latest reconciliation accuracy.
var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"runs"},
	Short:   "List recorded benchmark runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if strings.TrimSpace(cfg.HistoryDB) == "" {
			return errors.New("no history database configured (set historyDB or --historyDB)")
		}
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := commandContext(cmd, cfg)
		defer cancel()
		runs, err := store.ListRuns(ctx, historyLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		printRuns(out, runs)

		agg, err := metrics.NewAggregator(modelMetricsPath(cfg))
		if err != nil {
			return err
		}
		printModelLabels(out, agg.Models())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 = all)")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

func printRuns(out io.Writer, runs []history.RunSummary) {
	header := fmt.Sprintf("%-20s  %-24s  %-16s  %9s  %7s  %8s  %8s", "WHEN", "MODEL", "HOST", "DURATION", "TOKENS", "TOK/S", "ACCURACY")
	fmt.Fprintln(out, headerStyle.Render(header))
	for _, r := range runs {
		tps, acc := "n/a", "-"
		if r.TokensPerSecond != nil {
			tps = fmt.Sprintf("%.2f", *r.TokensPerSecond)
		}
		if r.Accuracy != nil {
			acc = fmt.Sprintf("%.1f%%", *r.Accuracy)
		}
		fmt.Fprintf(out, "%-20s  %s  %-16s  %8.2fs  %7d  %8s  %8s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			modelStyle.Render(fmt.Sprintf("%-24s", truncate(valueOr(r.Model, "default"), 24))),
			truncate(r.Host, 16), r.Duration, r.TotalEstimate, tps, acc)
	}
}

func printModelLabels(out io.Writer, models []metrics.ModelMetrics) {
	if len(models) == 0 {
		return
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ModelName < models[j].ModelName })
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Model aggregates:"))
	for _, m := range models {
		labels := metrics.Label(m.OverallStats)
		fmt.Fprintf(out, "  %s  runs=%d failures=%d  tok/s %.2f ± %.2f  stability=%s  interactive=%s\n",
			modelStyle.Render(m.ModelName), m.OverallStats.TotalRuns, m.OverallStats.Failures,
			m.OverallStats.TokensPerSecond.Mean, m.OverallStats.TokensPerSecond.StdDev(),
			labels.Stability, labels.Interactive)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
