// Package reconcile compares a run's estimated token counts with
// ground-truth counts taken from an external trace export.
package reconcile

import (
	"math"

	"github.com/mwiater/tokentrace/internal/benchmark"
)

// ActualTokenCounts are ground-truth counts. Fields missing from the source
// export are zero.
type ActualTokenCounts struct {
	Prompt   int `json:"prompt"`
	Response int `json:"response"`
	Total    int `json:"total"`
}

// FieldComparison is the estimated/actual pair for one count.
type FieldComparison struct {
	Estimated int     `json:"estimated"`
	Actual    int     `json:"actual"`
	Diff      int     `json:"diff"`
	Percent   float64 `json:"percent"`
}

func compareField(estimated, actual int) FieldComparison {
	diff := actual - estimated
	var percent float64
	if estimated > 0 {
		percent = float64(diff) / float64(estimated) * 100
	}
	return FieldComparison{Estimated: estimated, Actual: actual, Diff: diff, Percent: percent}
}

// Comparison is the full estimated-versus-actual report.
type Comparison struct {
	Prompt   FieldComparison `json:"prompt"`
	Response FieldComparison `json:"response"`
	Total    FieldComparison `json:"total"`

	// Duration is the estimated run's duration in seconds; the export has
	// no timing of its own.
	Duration     float64 `json:"duration"`
	EstimatedTPS float64 `json:"estimatedTps"`
	ActualTPS    float64 `json:"actualTps"`
	TPSDiff      float64 `json:"tpsDiff"`
	TPSPercent   float64 `json:"tpsPercent"`

	Accuracy float64 `json:"accuracy"`
	Tier     Tier    `json:"tier"`
}

// Compare reconciles estimated metrics against actual counts.
func Compare(estimated benchmark.Metrics, actual ActualTokenCounts) Comparison {
	c := Comparison{
		Prompt:   compareField(estimated.PromptTokenEstimate, actual.Prompt),
		Response: compareField(estimated.ResponseTokenEstimate, actual.Response),
		Total:    compareField(estimated.TotalTokenEstimate, actual.Total),
		Duration: estimated.Duration,
	}
	if estimated.TokensPerSecond != nil {
		c.EstimatedTPS = *estimated.TokensPerSecond
	}
	if c.Duration > 0 {
		c.ActualTPS = float64(actual.Total) / c.Duration
	}
	if c.ActualTPS > 0 {
		c.TPSDiff = c.ActualTPS - c.EstimatedTPS
		if c.EstimatedTPS > 0 {
			c.TPSPercent = c.TPSDiff / c.EstimatedTPS * 100
		}
	}
	c.Accuracy = 100 - math.Abs(c.Total.Percent)
	c.Tier = TierFor(c.Accuracy)
	return c
}

// Tier is a qualitative accuracy bucket.
type Tier string

const (
	TierExcellent        Tier = "excellent"
	TierGood             Tier = "good"
	TierNeedsImprovement Tier = "needs improvement"
	TierPoor             Tier = "poor"
)

// TierFor buckets an accuracy score.
func TierFor(accuracy float64) Tier {
	switch {
	case accuracy >= 95:
		return TierExcellent
	case accuracy >= 90:
		return TierGood
	case accuracy >= 80:
		return TierNeedsImprovement
	default:
		return TierPoor
	}
}

// Verdict is the sentence printed for the tier.
func (t Tier) Verdict() string {
	switch t {
	case TierExcellent:
		return "Excellent! Estimation is within 5% of actual token count."
	case TierGood:
		return "Good! Estimation is within 10% of actual token count."
	case TierNeedsImprovement:
		return "Estimation is off by more than 10%. Consider improving token estimation."
	default:
		return "Significant difference! Actual tokenization differs greatly from estimation."
	}
}
