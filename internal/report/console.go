package report

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/environment"
)

// PreviewLength is the number of characters shown in a response preview.
const PreviewLength = 200

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	ruleStyle    = lipgloss.NewStyle().Faint(true)
)

// Rule returns a horizontal rule of width characters.
func Rule(char string, width int) string {
	return ruleStyle.Render(strings.Repeat(char, width))
}

// Banner is printed ahead of a normal run.
func Banner() string {
	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 4).
		Align(lipgloss.Center).
		Width(76)
	title := headingStyle.Render("T O K E N T R A C E")
	return box.Render(title+"\n\nLocal Model Benchmarking Tool") + "\n" + Rule("=", 80) + "\n"
}

// EnvironmentHeader renders an environment snapshot as a labeled block.
func EnvironmentHeader(env environment.Snapshot) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Environment") + "\n")
	b.WriteString(Rule("-", 40) + "\n")
	for _, line := range env.Lines() {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(line[0]+":"), valueStyle.Render(line[1]))
	}
	return b.String()
}

// MetricsSummary renders the estimated metrics block printed after a run.
func MetricsSummary(result benchmark.Result) string {
	m := result.Metrics
	rows := [][2]string{
		{"Duration", FormatSeconds(&m.Duration)},
	}
	if m.TimeToFirstToken != nil {
		rows = append(rows, [2]string{"Time to First Token", FormatSeconds(m.TimeToFirstToken)})
	}
	rows = append(rows,
		[2]string{"Prompt Tokens (est.)", fmt.Sprint(m.PromptTokenEstimate)},
		[2]string{"Response Tokens (est.)", fmt.Sprint(m.ResponseTokenEstimate)},
		[2]string{"Total Tokens (est.)", fmt.Sprint(m.TotalTokenEstimate)},
		[2]string{"Tokens/sec (est.)", FormatRate(m.TokensPerSecond)},
	)
	if u := result.ProviderUsage; u != nil {
		rows = append(rows, [2]string{"Provider Tokens", fmt.Sprintf("%d prompt / %d response", u.PromptTokens, u.ResponseTokens)})
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("Estimated Metrics:") + "\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(row[0]+":"), valueStyle.Render(row[1]))
	}
	return b.String()
}

// Preview returns the first n characters of text followed by an ellipsis.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text + "..."
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

// SeriesSummary renders min/avg/max across iterations.
func SeriesSummary(series benchmark.Series) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d ok, %d failed\n", headingStyle.Render("Iterations:"), len(series.Iterations), series.Failures)
	row := func(label string, s benchmark.IterationStats) {
		fmt.Fprintf(&b, "  %-4s %s %.2fs  %s %.2fs  %s %.2f  %s %d\n",
			label,
			labelStyle.Render("duration"), s.Duration,
			labelStyle.Render("ttft"), s.TimeToFirstToken,
			labelStyle.Render("tok/s"), s.TokensPerSecond,
			labelStyle.Render("tokens"), s.TotalTokenEstimate)
	}
	row("min", series.MinStats)
	row("avg", series.AverageStats)
	row("max", series.MaxStats)
	return b.String()
}

// TraceInstructions explains how to capture ground-truth token counts for a
// run and feed them back through reconcile. traceMode is true when the run
// was already made under a recorder.
func TraceInstructions(binary, exportPath string, traceMode bool) string {
	var lines []string
	lines = append(lines, Rule("=", 80))
	if traceMode {
		lines = append(lines,
			"To extract actual token data, export the recorder's token table:",
			"   save the first row (promptTokens, responseTokens, totalTokens)",
			"   as XML or JSON in token-export.xml",
		)
	} else {
		lines = append(lines,
			"To get ACTUAL token counts, run under a trace recorder:",
			fmt.Sprintf("   %s token-test", binary),
			"   and export its token table to token-export.xml.",
			"",
			"   Or compare with the counts the backend reports:",
			fmt.Sprintf("   %s run --reconcile-provider", binary),
		)
	}
	lines = append(lines,
		"",
		"   Then compare against this run:",
		fmt.Sprintf("   %s reconcile token-export.xml --report %s", binary, exportPath),
	)
	return strings.Join(lines, "\n") + "\n"
}
