// internal/commands/calibrate.go
package tokentrace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/estimator"
	"github.com/mwiater/tokentrace/internal/history"
)

var (
	calibrateOutput string
	calibrateDryRun bool
)

// calibrateCmd implements 'calibrate', which fits new character ratios from
// reconciled runs in the history database.
var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Fit estimator ratios from reconciled runs",
	Long: `The 'calibrate' command sums the actual token counts and character counts of
every reconciled run in the history database and writes the resulting
tokens-per-character ratios as a TOML calibration profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		out := cmd.OutOrStdout()
		if strings.TrimSpace(cfg.HistoryDB) == "" {
			return errors.New("calibrate needs a history database (set historyDB or --historyDB)")
		}

		base, err := currentCalibration(cfg)
		if err != nil {
			return err
		}

		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := commandContext(cmd, cfg)
		defer cancel()
		fitted, summary, err := store.Fit(ctx, base)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Fitted from %d reconciled run(s)\n", summary.Samples)
		printRatio(cmd, "Input", base.Input, fitted.Input, summary.PromptTokens, summary.PromptChars)
		printRatio(cmd, "Output", base.Output, fitted.Output, summary.ResponseTokens, summary.ResponseChars)

		if calibrateDryRun {
			fmt.Fprintln(out, "Dry run; profile not written.")
			return nil
		}
		path := calibrateOutput
		if path == "" {
			path = cfg.CalibrationFile
		}
		if strings.TrimSpace(path) == "" {
			path = defaultCalibrationPath
		}
		if err := estimator.SaveCalibration(path, fitted); err != nil {
			return err
		}
		fmt.Fprintf(out, "Calibration written to %s\n", path)
		return nil
	},
}

const defaultCalibrationPath = "calibration.toml"

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().StringVarP(&calibrateOutput, "output", "o", "", "profile path (default: calibrationFile, else "+defaultCalibrationPath+")")
	calibrateCmd.Flags().BoolVar(&calibrateDryRun, "dry-run", false, "print the fitted ratios without writing them")
}

func printRatio(cmd *cobra.Command, label string, before, after estimator.Ratio, tokens, chars int) {
	out := cmd.OutOrStdout()
	if tokens == 0 || chars == 0 {
		fmt.Fprintf(out, "  %-7s no samples, kept %.4f tokens/char\n", label+":", before.PerChar())
		return
	}
	fmt.Fprintf(out, "  %-7s %.4f -> %.4f tokens/char (%d tokens / %d chars)\n", label+":", before.PerChar(), after.PerChar(), tokens, chars)
}
