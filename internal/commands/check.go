// internal/commands/check.go
package tokentrace

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/providers"
)

// checkCmd implements 'check', which asks every configured host whether its
// model can serve a benchmark.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that each configured host and model is available",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ctx, cancel := commandContext(cmd, cfg)
		defer cancel()

		results := make(map[string]providers.Availability)
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, host := range cfg.Hosts {
			wg.Add(1)
			go func(h appconfig.Host) {
				defer wg.Done()
				var availability providers.Availability
				gen, err := newGenerator(h, cfg)
				if err != nil {
					availability = providers.Unavailable(err.Error())
				} else {
					availability = gen.Availability(ctx)
					gen.Close()
				}
				mu.Lock()
				results[h.Identifier()] = availability
				mu.Unlock()
			}(host)
		}
		wg.Wait()

		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)

		okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
		failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		out := cmd.OutOrStdout()
		unavailable := 0
		for _, name := range names {
			a := results[name]
			if a.Available {
				fmt.Fprintf(out, "%s %s\n", okStyle.Render("✓"), name)
				continue
			}
			unavailable++
			fmt.Fprintf(out, "%s %s: %s\n", failStyle.Render("✗"), name, a.Reason)
		}
		if unavailable > 0 {
			return fmt.Errorf("%d of %d host(s) unavailable", unavailable, len(names))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
