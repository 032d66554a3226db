// internal/metrics/aggregator.go
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/logging"
)

// Aggregator keeps running per-model statistics across invocations. It
// satisfies benchmark.Recorder.
type Aggregator struct {
	mutex    sync.Mutex
	metrics  map[string]*ModelMetrics
	filePath string
	now      func() time.Time
}

// NewAggregator creates an Aggregator persisted at filePath, loading any
// existing document. An empty path keeps statistics in memory only.
func NewAggregator(filePath string) (*Aggregator, error) {
	agg := &Aggregator{
		metrics:  make(map[string]*ModelMetrics),
		filePath: filePath,
		now:      time.Now,
	}
	if err := agg.load(); err != nil {
		return nil, err
	}
	return agg, nil
}

// load reads metrics from the JSON file into memory.
func (a *Aggregator) load() error {
	if a.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(a.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read model metrics: %w", err)
	}

	var metricsSlice []*ModelMetrics
	if err := json.Unmarshal(data, &metricsSlice); err != nil {
		return fmt.Errorf("decode model metrics %s: %w", a.filePath, err)
	}
	for _, m := range metricsSlice {
		a.metrics[m.ModelName] = m
	}
	return nil
}

// Save writes the current metrics to the JSON file.
func (a *Aggregator) Save() error {
	if a.filePath == "" {
		return nil
	}
	logging.LogEvent("[METRICS] Saving model metrics to %s", a.filePath)
	data, err := json.MarshalIndent(a.Models(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.filePath), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	return os.WriteFile(a.filePath, data, 0o644)
}

// Models returns a copy of every model's metrics, sorted by name.
func (a *Aggregator) Models() []ModelMetrics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]ModelMetrics, 0, len(a.metrics))
	for _, m := range a.metrics {
		cp := *m
		cp.PerformanceBuckets = append([]PerformanceBucket(nil), m.PerformanceBuckets...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out
}

func (a *Aggregator) model(name string) *ModelMetrics {
	if name == "" {
		name = "unknown"
	}
	m, ok := a.metrics[name]
	if !ok {
		m = &ModelMetrics{ModelName: name}
		a.metrics[name] = m
	}
	m.LastUpdatedUTC = a.now().UTC()
	return m
}

// RecordRun folds a successful run into its model's statistics.
func (a *Aggregator) RecordRun(result benchmark.Result) {
	logging.LogEvent("[METRICS] RecordRun called for model %s", result.Model)
	a.mutex.Lock()
	defer a.mutex.Unlock()

	modelMetrics := a.model(result.Model)
	updateStats(&modelMetrics.OverallStats, result.Metrics)

	bucket := getBucket(result.Metrics.PromptTokenEstimate)
	for i := range modelMetrics.PerformanceBuckets {
		if modelMetrics.PerformanceBuckets[i].Dimension == "prompt_tokens" && modelMetrics.PerformanceBuckets[i].Bucket == bucket {
			updateStats(&modelMetrics.PerformanceBuckets[i].Stats, result.Metrics)
			return
		}
	}
	newBucket := PerformanceBucket{Dimension: "prompt_tokens", Bucket: bucket}
	updateStats(&newBucket.Stats, result.Metrics)
	modelMetrics.PerformanceBuckets = append(modelMetrics.PerformanceBuckets, newBucket)
}

// RecordFailure counts a failed run against its model.
func (a *Aggregator) RecordFailure(model string, err error) {
	logging.LogEvent("[METRICS] RecordFailure called for model %s: %v", model, err)
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.model(model).OverallStats.Failures++
}

// updateStats updates the running statistics with a run's metrics.
func updateStats(stats *RunningAggregatedStats, m benchmark.Metrics) {
	stats.TotalRuns++
	if m.TimeToFirstToken != nil {
		updateRunningStat(&stats.TTFTSeconds, *m.TimeToFirstToken)
	}
	if m.TokensPerSecond != nil {
		updateRunningStat(&stats.TokensPerSecond, *m.TokensPerSecond)
	}
	updateRunningStat(&stats.PromptTokens, float64(m.PromptTokenEstimate))
	updateRunningStat(&stats.ResponseTokens, float64(m.ResponseTokenEstimate))
	updateRunningStat(&stats.DurationSeconds, m.Duration)
}

// updateRunningStat updates a single running statistic using Welford's online algorithm.
func updateRunningStat(rs *RunningStat, value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		rs.Min = min(rs.Min, value)
		rs.Max = max(rs.Max, value)
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

// getBucket determines the performance bucket for an estimated prompt size.
func getBucket(promptTokens int) string {
	switch {
	case promptTokens <= 256:
		return "0-256"
	case promptTokens <= 1024:
		return "257-1024"
	case promptTokens <= 4096:
		return "1025-4096"
	case promptTokens <= 8192:
		return "4097-8192"
	default:
		return "8192+"
	}
}

// Label classifies a model's aggregated stats.
func Label(stats RunningAggregatedStats) Labels {
	return Labels{
		Stability:   classifyStability(stats.TokensPerSecond.StdDev(), stats.TokensPerSecond.Mean),
		Interactive: classifyInteractiveSuitability(stats.TTFTSeconds.Mean, stats.TokensPerSecond.Mean),
	}
}

// classifyStability categorizes performance stability by coefficient of variation.
func classifyStability(stddev, avg float64) string {
	if avg <= 0 {
		if stddev == 0 {
			return "stable"
		}
		return "unstable"
	}
	cv := stddev / avg
	switch {
	case cv < 0.1:
		return "stable"
	case cv < 0.25:
		return "moderate"
	default:
		return "unstable"
	}
}

// classifyInteractiveSuitability determines a model's suitability for interactive use.
func classifyInteractiveSuitability(ttftSeconds, tokensPerSecond float64) string {
	switch {
	case ttftSeconds > 120:
		return "unusable"
	case ttftSeconds > 60:
		return "borderline"
	case tokensPerSecond < 2.0:
		return "borderline"
	default:
		return "good"
	}
}
