// internal/metrics/types.go
package metrics

import (
	"math"
	"time"
)

// ModelMetrics is the top-level document for a single model's aggregated data.
type ModelMetrics struct {
	ModelName          string                 `json:"model_name"`
	LastUpdatedUTC     time.Time              `json:"last_updated_utc"`
	OverallStats       RunningAggregatedStats `json:"overall_stats"`
	PerformanceBuckets []PerformanceBucket    `json:"performance_buckets"`
}

// PerformanceBucket holds aggregated stats for one range of prompt sizes.
type PerformanceBucket struct {
	Dimension string                 `json:"dimension"`
	Bucket    string                 `json:"bucket"`
	Stats     RunningAggregatedStats `json:"stats"`
}

// RunningAggregatedStats stores the running statistical values for a set of metrics.
// It uses Welford's online algorithm for calculating mean and standard deviation.
type RunningAggregatedStats struct {
	TotalRuns int64 `json:"total_runs"`
	Failures  int64 `json:"failures"`

	TTFTSeconds     RunningStat `json:"ttft_seconds"`
	TokensPerSecond RunningStat `json:"tokens_per_second"`
	PromptTokens    RunningStat `json:"prompt_tokens_est"`
	ResponseTokens  RunningStat `json:"response_tokens_est"`
	DurationSeconds RunningStat `json:"duration_seconds"`
}

// RunningStat holds the values for online calculation of mean, variance, and stddev.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // Sum of squares of differences from the current mean
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// StdDev returns the population standard deviation.
func (rs RunningStat) StdDev() float64 {
	if rs.Count == 0 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count))
}

// Labels are qualitative readings of a model's aggregated stats.
type Labels struct {
	Stability   string `json:"stability"`
	Interactive string `json:"interactive"`
}
