package reconcile

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle = lipgloss.NewStyle().Width(24)
	numStyle   = lipgloss.NewStyle().Width(12).Align(lipgloss.Right)

	excellent = color.New(color.FgGreen, color.Bold).SprintFunc()
	good      = color.New(color.FgGreen).SprintFunc()
	warning   = color.New(color.FgYellow).SprintFunc()
	poor      = color.New(color.FgRed, color.Bold).SprintFunc()
)

func rule() string {
	return strings.Repeat("=", 80)
}

// RenderActual writes the ground-truth counts block.
func RenderActual(w io.Writer, source string, actual ActualTokenCounts) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("ACTUAL Token Counts (from %s):", source)))
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "  Prompt Tokens:      %d\n", actual.Prompt)
	fmt.Fprintf(w, "  Response Tokens:    %d\n", actual.Response)
	fmt.Fprintf(w, "  Total Tokens:       %d\n", actual.Total)
	fmt.Fprintln(w)
}

// RenderComparison writes the estimated-versus-actual table, throughput and
// the accuracy verdict.
func RenderComparison(w io.Writer, c Comparison) {
	fmt.Fprintln(w, titleStyle.Render("COMPARISON (Estimated vs Actual):"))
	fmt.Fprintln(w, rule())
	fmt.Fprintln(w, labelStyle.Render("")+numStyle.Render("Estimated")+numStyle.Render("Actual")+numStyle.Render("Diff")+numStyle.Render("Percent"))
	for _, row := range []struct {
		name  string
		field FieldComparison
	}{
		{"Prompt Tokens", c.Prompt},
		{"Response Tokens", c.Response},
		{"Total Tokens", c.Total},
	} {
		fmt.Fprintln(w, labelStyle.Render(row.name)+
			numStyle.Render(fmt.Sprint(row.field.Estimated))+
			numStyle.Render(fmt.Sprint(row.field.Actual))+
			numStyle.Render(signedInt(row.field.Diff))+
			numStyle.Render(fmt.Sprintf("%.1f%%", row.field.Percent)))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Performance:")
	fmt.Fprintf(w, "  Duration:              %.2fs\n", c.Duration)
	fmt.Fprintf(w, "  Tokens/sec (est.):     %.2f\n", c.EstimatedTPS)
	fmt.Fprintf(w, "  Tokens/sec (actual):   %.2f\n", c.ActualTPS)
	if c.ActualTPS > 0 {
		fmt.Fprintf(w, "  TPS Difference:        %s (%.1f%%)\n", signedFloat(c.TPSDiff), c.TPSPercent)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "Accuracy: %.1f%% (%s)\n", c.Accuracy, c.Tier)
	fmt.Fprintln(w, colorize(c.Tier)(c.Tier.Verdict()))
}

func colorize(t Tier) func(a ...interface{}) string {
	switch t {
	case TierExcellent:
		return excellent
	case TierGood:
		return good
	case TierNeedsImprovement:
		return warning
	default:
		return poor
	}
}

func signedInt(n int) string {
	if n >= 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprint(n)
}

func signedFloat(f float64) string {
	if f >= 0 {
		return fmt.Sprintf("+%.2f", f)
	}
	return fmt.Sprintf("%.2f", f)
}
