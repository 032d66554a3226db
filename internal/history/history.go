// Package history stores runs and reconciliations in a local SQLite
// database and fits new calibration ratios from them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/estimator"
	"github.com/mwiater/tokentrace/internal/reconcile"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoSamples is returned by Fit when no reconciled run has usable counts.
var ErrNoSamples = errors.New("no reconciled runs to fit")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	created_at        TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	host              TEXT NOT NULL DEFAULT '',
	prompt_chars      INTEGER NOT NULL,
	response_chars    INTEGER NOT NULL,
	prompt_estimate   INTEGER NOT NULL,
	response_estimate INTEGER NOT NULL,
	total_estimate    INTEGER NOT NULL,
	duration          REAL NOT NULL,
	ttft              REAL,
	tps               REAL
);

CREATE TABLE IF NOT EXISTS reconciliations (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	source          TEXT NOT NULL,
	actual_prompt   INTEGER NOT NULL,
	actual_response INTEGER NOT NULL,
	actual_total    INTEGER NOT NULL,
	accuracy        REAL NOT NULL,
	tier            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reconciliations_run ON reconciliations(run_id);
`

// Store is a handle on the history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a successful run. Recording the same ID twice replaces
// the earlier row.
func (s *Store) RecordRun(ctx context.Context, result benchmark.Result) error {
	m := result.Metrics
	promptChars := utf8.RuneCountInString(result.Prompt.Instructions) + utf8.RuneCountInString(result.Prompt.UserPrompt)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			id, created_at, model, host, prompt_chars, response_chars,
			prompt_estimate, response_estimate, total_estimate, duration, ttft, tps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, formatTime(m.End), result.Model, result.Host,
		promptChars, utf8.RuneCountInString(result.ResponseText),
		m.PromptTokenEstimate, m.ResponseTokenEstimate, m.TotalTokenEstimate,
		m.Duration, nullFloat(m.TimeToFirstToken), nullFloat(m.TokensPerSecond),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", result.ID, err)
	}
	return nil
}

// Reconciliation is one comparison of a run against ground truth.
type Reconciliation struct {
	RunID      string
	Source     string
	Actual     reconcile.ActualTokenCounts
	Comparison reconcile.Comparison
}

// RecordReconciliation stores a comparison.
func (s *Store) RecordReconciliation(ctx context.Context, rec Reconciliation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliations (
			run_id, created_at, source, actual_prompt, actual_response, actual_total, accuracy, tier
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, formatTime(s.now()), rec.Source,
		rec.Actual.Prompt, rec.Actual.Response, rec.Actual.Total,
		rec.Comparison.Accuracy, string(rec.Comparison.Tier),
	)
	if err != nil {
		return fmt.Errorf("record reconciliation for %s: %w", rec.RunID, err)
	}
	return nil
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID              string
	CreatedAt       time.Time
	Model           string
	Host            string
	Duration        float64
	TotalEstimate   int
	TokensPerSecond *float64
	// Accuracy is the latest reconciliation's score, if any.
	Accuracy *float64
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, model, host, duration, total_estimate, tps,
			(SELECT accuracy FROM reconciliations r WHERE r.run_id = runs.id ORDER BY r.id DESC LIMIT 1)
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			summary   RunSummary
			createdAt string
			tps       sql.NullFloat64
			accuracy  sql.NullFloat64
		)
		if err := rows.Scan(&summary.ID, &createdAt, &summary.Model, &summary.Host,
			&summary.Duration, &summary.TotalEstimate, &tps, &accuracy); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		summary.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		summary.TokensPerSecond = floatPtr(tps)
		summary.Accuracy = floatPtr(accuracy)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// FitSummary describes the data behind a fitted calibration.
type FitSummary struct {
	Samples        int
	PromptChars    int
	PromptTokens   int
	ResponseChars  int
	ResponseTokens int
}

// Fit derives input and output ratios from every reconciled run: the sum of
// actual tokens over the sum of characters for each side. The generic ratio
// is carried over from base. Sides without data keep base's ratio.
func (s *Store) Fit(ctx context.Context, base estimator.Calibration) (estimator.Calibration, FitSummary, error) {
	var (
		summary      FitSummary
		promptChars  sql.NullInt64
		promptTokens sql.NullInt64
		respChars    sql.NullInt64
		respTokens   sql.NullInt64
	)
	// Only the latest reconciliation of each run counts.
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN r.actual_prompt > 0 THEN runs.prompt_chars END),
			SUM(CASE WHEN r.actual_prompt > 0 THEN r.actual_prompt END),
			SUM(CASE WHEN r.actual_response > 0 THEN runs.response_chars END),
			SUM(CASE WHEN r.actual_response > 0 THEN r.actual_response END)
		FROM runs
		JOIN reconciliations r ON r.id = (
			SELECT id FROM reconciliations WHERE run_id = runs.id ORDER BY id DESC LIMIT 1
		)`).Scan(&summary.Samples, &promptChars, &promptTokens, &respChars, &respTokens)
	if err != nil {
		return base, summary, fmt.Errorf("fit calibration: %w", err)
	}
	summary.PromptChars = int(promptChars.Int64)
	summary.PromptTokens = int(promptTokens.Int64)
	summary.ResponseChars = int(respChars.Int64)
	summary.ResponseTokens = int(respTokens.Int64)

	fitted := base
	fitted.Name = "fitted"
	ok := false
	if summary.PromptChars > 0 && summary.PromptTokens > 0 {
		fitted.Input = estimator.Ratio{Tokens: float64(summary.PromptTokens), Characters: float64(summary.PromptChars)}
		ok = true
	}
	if summary.ResponseChars > 0 && summary.ResponseTokens > 0 {
		fitted.Output = estimator.Ratio{Tokens: float64(summary.ResponseTokens), Characters: float64(summary.ResponseChars)}
		ok = true
	}
	if !ok {
		return base, summary, ErrNoSamples
	}
	return fitted, summary, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
