package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/mwiater/tokentrace/internal/benchmark"
)

// Markdown renders the human-readable summary of a result.
func Markdown(result benchmark.Result) string {
	env := result.Environment
	m := result.Metrics

	var b strings.Builder
	b.WriteString("# Local Model Benchmark\n\n")
	fmt.Fprintf(&b, "**Timestamp:** %s\n", formatTimestamp(env.Timestamp, m.End))
	fmt.Fprintf(&b, "**Device:** %s\n", env.Device())
	fmt.Fprintf(&b, "**Locale:** %s\n", env.LocaleIdentifier)
	if result.Model != "" {
		fmt.Fprintf(&b, "**Model:** %s", result.Model)
		if result.Host != "" {
			fmt.Fprintf(&b, " @ %s", result.Host)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n## Metrics\n")
	fmt.Fprintf(&b, "- Duration: %s\n", FormatSeconds(&m.Duration))
	fmt.Fprintf(&b, "- Time to First Token: %s\n", FormatSeconds(m.TimeToFirstToken))
	fmt.Fprintf(&b, "- Prompt Tokens (est.): %d\n", m.PromptTokenEstimate)
	fmt.Fprintf(&b, "- Response Tokens (est.): %d\n", m.ResponseTokenEstimate)
	fmt.Fprintf(&b, "- Total Tokens (est.): %d\n", m.TotalTokenEstimate)
	fmt.Fprintf(&b, "- Tokens / sec: %s\n", FormatRate(m.TokensPerSecond))
	if u := result.ProviderUsage; u != nil {
		fmt.Fprintf(&b, "- Provider-reported Tokens: %d prompt / %d response\n", u.PromptTokens, u.ResponseTokens)
	}
	b.WriteString("\n## Response\n")
	b.WriteString(result.ResponseText)
	b.WriteString("\n")
	return b.String()
}

func formatTimestamp(primary, fallback time.Time) string {
	if primary.IsZero() {
		primary = fallback
	}
	return primary.UTC().Format(time.RFC3339)
}

// FormatSeconds formats an optional interval as "1.23s", or "n/a".
func FormatSeconds(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2fs", *v)
}

// FormatRate formats an optional rate as "1.23", or "n/a".
func FormatRate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

// RenderMarkdown styles markdown for a terminal.
func RenderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	return renderer.Render(md)
}
