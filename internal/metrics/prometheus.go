// internal/metrics/prometheus.go
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/reconcile"
)

// Recorder exposes runs and reconciliations as Prometheus collectors on its
// own registry. It satisfies benchmark.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	ttft            *prometheus.HistogramVec
	estimatedTokens *prometheus.CounterVec
	tokensPerSecond *prometheus.GaugeVec
	accuracy        *prometheus.GaugeVec
	estimateError   *prometheus.GaugeVec
}

// NewRecorder registers the tokentrace collectors on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrace_runs_total",
			Help: "Benchmark runs by model and outcome",
		}, []string{"model", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokentrace_run_duration_seconds",
			Help:    "Wall-clock duration of benchmark runs",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"model"}),
		ttft: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokentrace_time_to_first_token_seconds",
			Help:    "Time from request to first response snapshot",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"model"}),
		estimatedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrace_estimated_tokens_total",
			Help: "Estimated tokens by model and side",
		}, []string{"model", "side"}),
		tokensPerSecond: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokentrace_tokens_per_second",
			Help: "Estimated throughput of the latest run",
		}, []string{"model"}),
		accuracy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokentrace_estimate_accuracy_percent",
			Help: "Accuracy of the latest reconciled estimate",
		}, []string{"model"}),
		estimateError: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokentrace_estimate_error_percent",
			Help: "Signed percent difference of actual over estimated tokens",
		}, []string{"model", "side"}),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRun observes a successful run.
func (r *Recorder) RecordRun(result benchmark.Result) {
	model := labelValue(result.Model)
	m := result.Metrics
	r.runs.WithLabelValues(model, "success").Inc()
	r.duration.WithLabelValues(model).Observe(m.Duration)
	if m.TimeToFirstToken != nil {
		r.ttft.WithLabelValues(model).Observe(*m.TimeToFirstToken)
	}
	r.estimatedTokens.WithLabelValues(model, "prompt").Add(float64(m.PromptTokenEstimate))
	r.estimatedTokens.WithLabelValues(model, "response").Add(float64(m.ResponseTokenEstimate))
	if m.TokensPerSecond != nil {
		r.tokensPerSecond.WithLabelValues(model).Set(*m.TokensPerSecond)
	}
}

// RecordFailure counts a failed run.
func (r *Recorder) RecordFailure(model string, _ error) {
	r.runs.WithLabelValues(labelValue(model), "failure").Inc()
}

// RecordComparison observes a reconciliation result.
func (r *Recorder) RecordComparison(model string, c reconcile.Comparison) {
	model = labelValue(model)
	r.accuracy.WithLabelValues(model).Set(c.Accuracy)
	r.estimateError.WithLabelValues(model, "prompt").Set(c.Prompt.Percent)
	r.estimateError.WithLabelValues(model, "response").Set(c.Response.Percent)
	r.estimateError.WithLabelValues(model, "total").Set(c.Total.Percent)
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func labelValue(model string) string {
	if model == "" {
		return "unknown"
	}
	return model
}

// Tee fans a run out to several recorders. Nil entries are skipped.
type Tee []benchmark.Recorder

// RecordRun forwards to every recorder.
func (t Tee) RecordRun(result benchmark.Result) {
	for _, rec := range t {
		if rec != nil {
			rec.RecordRun(result)
		}
	}
}

// RecordFailure forwards to every recorder.
func (t Tee) RecordFailure(model string, err error) {
	for _, rec := range t {
		if rec != nil {
			rec.RecordFailure(model, err)
		}
	}
}
