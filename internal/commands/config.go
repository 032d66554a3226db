// internal/commands/config.go
package tokentrace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/transcript"
)

var configShowDump bool

// configShowCmd implements 'config show', which displays the merged settings.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show config settings",
	Long:  `Show config settings ensuring that the JSON config is loaded properly and overridden by flags accordingly.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := *GetConfig()
		out := cmd.OutOrStdout()
		appconfig.ShowConfig(out, cfg.ConfigPath, cfg)
		if configShowDump {
			pp.ColoringEnabled = stdoutIsTerminal()
			fmt.Fprintln(out)
			pp.Fprintln(out, cfg)
		}
	},
}

// configValidateCmd implements 'config validate'.
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration, prompt, calibration profile and tool policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if err := validateSettings(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%d host(s))\n", len(cfg.Hosts))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configShowCmd.Flags().BoolVar(&configShowDump, "dump", false, "also dump the full config structure")
}

// validateSettings checks everything a run needs before contacting a host.
func validateSettings(cfg appconfig.Config) error {
	var errs []error
	if strings.EqualFold(filepath.Ext(cfg.ConfigPath), ".json") {
		if _, err := appconfig.Load(cfg.ConfigPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := benchmark.ResolvePrompt(cfg.PromptName(), cfg.Instructions, cfg.UserPrompt); err != nil {
		errs = append(errs, err)
	}
	if cal, err := currentCalibration(cfg); err != nil {
		errs = append(errs, err)
	} else if err := cal.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("calibration %s: %w", strings.TrimSpace(cfg.CalibrationFile), err))
	}
	if _, err := transcript.ParseToolPolicy(cfg.ToolPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := generationOptions(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
