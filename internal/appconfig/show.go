package appconfig

import (
	"fmt"
	"io"
	"strings"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Prompt:          %s\n", cfg.PromptName())
	if strings.TrimSpace(cfg.Instructions) != "" || strings.TrimSpace(cfg.UserPrompt) != "" {
		fmt.Fprintln(out, "  Prompt Override: yes")
	}
	fmt.Fprintf(out, "  Sampling:        %s\n", valueOr(cfg.Sampling, "greedy"))
	fmt.Fprintf(out, "  Temperature:     %.2f\n", cfg.Temperature)
	if cfg.MaxTokens > 0 {
		fmt.Fprintf(out, "  Max Tokens:      %d\n", cfg.MaxTokens)
	}
	fmt.Fprintf(out, "  Calibration:     %s\n", valueOr(cfg.CalibrationFile, "built-in"))
	fmt.Fprintf(out, "  Tool Policy:     %s\n", valueOr(cfg.ToolPolicy, "exclude"))
	fmt.Fprintf(out, "  Iterations:      %d\n", cfg.IterationCount())
	fmt.Fprintf(out, "  Timeout:         %s\n", cfg.RequestTimeout())
	fmt.Fprintf(out, "  Export:          %s\n", cfg.ExportFile())
	fmt.Fprintf(out, "  Export Markdown: %s\n", valueOr(cfg.ExportMarkdownPath, "disabled"))
	fmt.Fprintf(out, "  History DB:      %s\n", valueOr(cfg.HistoryDB, "disabled"))
	fmt.Fprintf(out, "  Metrics File:    %s\n", valueOr(cfg.MetricsFile, "disabled"))
	fmt.Fprintf(out, "  Log File:        %s\n", valueOr(cfg.LogFile, "stderr only"))
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)

	fmt.Fprintln(out, "\nHosts:")
	if len(cfg.Hosts) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, h := range cfg.Hosts {
		hostType, err := NormalizeHostType(h.Type)
		if err != nil {
			hostType = h.Type + " (unsupported)"
		}
		fmt.Fprintf(out, "  - %s [%s] %s model=%s\n", h.Identifier(), hostType, h.URL, valueOr(h.Model(), "(none)"))
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
