// internal/commands/sinks.go
package tokentrace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/history"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/metrics"
	"github.com/mwiater/tokentrace/internal/reconcile"
)

// sinks are the optional destinations a run or reconciliation is recorded
// to: the sqlite history, the per-model aggregate next to it, and the
// Prometheus textfile.
type sinks struct {
	ctx         context.Context
	store       *history.Store
	aggregator  *metrics.Aggregator
	prom        *metrics.Recorder
	metricsFile string
}

// modelMetricsPath is the aggregate document kept beside the history database.
func modelMetricsPath(cfg appconfig.Config) string {
	if strings.TrimSpace(cfg.HistoryDB) == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(cfg.HistoryDB), "model_metrics.json")
}

func openSinks(ctx context.Context, cfg appconfig.Config) (*sinks, error) {
	s := &sinks{ctx: ctx, metricsFile: strings.TrimSpace(cfg.MetricsFile)}
	if db := strings.TrimSpace(cfg.HistoryDB); db != "" {
		store, err := history.Open(db)
		if err != nil {
			return nil, err
		}
		s.store = store
		agg, err := metrics.NewAggregator(modelMetricsPath(cfg))
		if err != nil {
			store.Close()
			return nil, err
		}
		s.aggregator = agg
	}
	if s.metricsFile != "" {
		s.prom = metrics.NewRecorder()
	}
	return s, nil
}

// recorder returns the run recorder fanning out to every open sink.
func (s *sinks) recorder() benchmark.Recorder {
	var tee metrics.Tee
	if s.store != nil {
		tee = append(tee, historyRecorder{ctx: s.ctx, store: s.store})
	}
	if s.aggregator != nil {
		tee = append(tee, s.aggregator)
	}
	if s.prom != nil {
		tee = append(tee, s.prom)
	}
	return tee
}

// recordComparison stores a reconciliation of runID.
func (s *sinks) recordComparison(runID, model, source string, actual reconcile.ActualTokenCounts, c reconcile.Comparison) error {
	if s.prom != nil {
		s.prom.RecordComparison(model, c)
	}
	if s.store == nil {
		return nil
	}
	return s.store.RecordReconciliation(s.ctx, history.Reconciliation{
		RunID:      runID,
		Source:     source,
		Actual:     actual,
		Comparison: c,
	})
}

// Close flushes the file-backed sinks and closes the database.
func (s *sinks) Close() error {
	var errs []error
	if s.prom != nil {
		if err := s.prom.WriteTextfile(s.metricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	if s.aggregator != nil {
		if err := s.aggregator.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save model metrics: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// historyRecorder adapts the history store to benchmark.Recorder.
type historyRecorder struct {
	ctx   context.Context
	store *history.Store
}

func (h historyRecorder) RecordRun(result benchmark.Result) {
	// The run deadline may have passed by the time a slow run finishes.
	if err := h.store.RecordRun(context.WithoutCancel(h.ctx), result); err != nil {
		logging.Error("failed to record run history", "id", result.ID, "err", err)
	}
}

func (h historyRecorder) RecordFailure(string, error) {}
