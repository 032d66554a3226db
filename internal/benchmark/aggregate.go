package benchmark

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mwiater/tokentrace/internal/logging"
)

// IterationStats holds the per-iteration values that are aggregated.
type IterationStats struct {
	Duration           float64 `json:"duration"`
	TimeToFirstToken   float64 `json:"timeToFirstToken"`
	TokensPerSecond    float64 `json:"tokensPerSecond"`
	TotalTokenEstimate int     `json:"totalTokenEstimate"`
}

func statsOf(m Metrics) IterationStats {
	s := IterationStats{Duration: m.Duration, TotalTokenEstimate: m.TotalTokenEstimate}
	if m.TimeToFirstToken != nil {
		s.TimeToFirstToken = *m.TimeToFirstToken
	}
	if m.TokensPerSecond != nil {
		s.TokensPerSecond = *m.TokensPerSecond
	}
	return s
}

// Series is the outcome of RunIterations.
type Series struct {
	Model        string         `json:"model"`
	Host         string         `json:"host"`
	Iterations   []Result       `json:"iterations"`
	Failures     int            `json:"failures"`
	MinStats     IterationStats `json:"minStats"`
	AverageStats IterationStats `json:"averageStats"`
	MaxStats     IterationStats `json:"maxStats"`
}

// RunIterations runs the prompt n times in sequence. A failed iteration is
// logged and counted; an unavailable model stops the series. It returns an
// error only when no iteration succeeded.
func (r *Runner) RunIterations(ctx context.Context, n int, onPartial func(string)) (Series, error) {
	if n < 1 {
		n = 1
	}
	series := Series{Model: r.cfg.Model, Host: r.cfg.Host, Iterations: make([]Result, 0, n)}
	var lastErr error
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		logging.Info("running iteration", "iteration", i+1, "of", n, "model", r.cfg.Model, "host", r.cfg.Host)
		result, err := r.Run(ctx, onPartial)
		if err != nil {
			series.Failures++
			lastErr = err
			var unavailable *ModelUnavailableError
			if errors.As(err, &unavailable) {
				break
			}
			continue
		}
		series.Iterations = append(series.Iterations, result)
	}
	calculateAggregates(&series)
	if len(series.Iterations) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no iterations completed")
		}
		return series, lastErr
	}
	return series, nil
}

// calculateAggregates calculates the average, min, and max statistics for a series.
func calculateAggregates(series *Series) {
	if len(series.Iterations) == 0 {
		return
	}

	first := statsOf(series.Iterations[0].Metrics)
	series.MinStats = first
	series.MaxStats = first

	var sum IterationStats
	for _, iter := range series.Iterations {
		s := statsOf(iter.Metrics)
		sum.Duration += s.Duration
		sum.TimeToFirstToken += s.TimeToFirstToken
		sum.TokensPerSecond += s.TokensPerSecond
		sum.TotalTokenEstimate += s.TotalTokenEstimate

		series.MinStats.Duration = min(series.MinStats.Duration, s.Duration)
		series.MaxStats.Duration = max(series.MaxStats.Duration, s.Duration)
		series.MinStats.TimeToFirstToken = min(series.MinStats.TimeToFirstToken, s.TimeToFirstToken)
		series.MaxStats.TimeToFirstToken = max(series.MaxStats.TimeToFirstToken, s.TimeToFirstToken)
		series.MinStats.TokensPerSecond = min(series.MinStats.TokensPerSecond, s.TokensPerSecond)
		series.MaxStats.TokensPerSecond = max(series.MaxStats.TokensPerSecond, s.TokensPerSecond)
		series.MinStats.TotalTokenEstimate = min(series.MinStats.TotalTokenEstimate, s.TotalTokenEstimate)
		series.MaxStats.TotalTokenEstimate = max(series.MaxStats.TotalTokenEstimate, s.TotalTokenEstimate)
	}

	count := float64(len(series.Iterations))
	series.AverageStats = IterationStats{
		Duration:           sum.Duration / count,
		TimeToFirstToken:   sum.TimeToFirstToken / count,
		TokensPerSecond:    sum.TokensPerSecond / count,
		TotalTokenEstimate: int(float64(sum.TotalTokenEstimate)/count + 0.5),
	}
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify converts a string into a "slug" format,
// including replacing colons (:) with underscores (_).
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", "_")
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}
