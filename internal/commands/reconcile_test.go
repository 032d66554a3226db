// internal/commands/reconcile_test.go
package tokentrace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/estimator"
	"github.com/mwiater/tokentrace/internal/history"
	"github.com/mwiater/tokentrace/internal/report"
)

const tokenExport = `<?xml version="1.0"?>
<trace-query-result>
  <node>
    <row>
      <promptTokens>30</promptTokens>
      <responseTokens>20</responseTokens>
      <totalTokens>50</totalTokens>
    </row>
  </node>
</trace-query-result>`

func writeExport(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "token-export.xml")
	if err := os.WriteFile(path, []byte(tokenExport), 0o644); err != nil {
		t.Fatalf("write export: %v", err)
	}
	return path
}

func TestReconcileAgainstRunReport(t *testing.T) {
	dir := t.TempDir()
	stubCommandSeams(t, okGenerator(fakeResponse), nil)
	cfgPath := writeConfig(t, dir, runConfig(dir, appconfig.Host{Name: "local", Type: "ollama", URL: "http://x", Models: []string{"llama3"}}))
	_, err := executeCommand(t, "run", "--config", cfgPath)
	require.NoError(t, err)

	out, err := executeCommand(t, "reconcile", writeExport(t, dir), "--report", filepath.Join(dir, "out.json"), "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "ACTUAL Token Counts (from token-export.xml):")
	assert.Contains(t, out, "Total Tokens:       50")
	assert.Contains(t, out, "COMPARISON (Estimated vs Actual):")
	assert.Contains(t, out, "Accuracy:")

	store, err := history.Open(filepath.Join(dir, "data", "history.db"))
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].Accuracy)
}

func TestReconcileWithoutReportPrintsActualOnly(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, runConfig(dir))

	out, err := executeCommand(t, "parse-xml", writeExport(t, dir), "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Prompt Tokens:      30")
	assert.Contains(t, out, "No benchmark report at "+filepath.Join(dir, "out.json"))
	assert.NotContains(t, out, "COMPARISON")
}

func TestReconcileRejectsBadExport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, runConfig(dir))
	bad := filepath.Join(dir, "bad.xml")
	require.NoError(t, os.WriteFile(bad, []byte("<table><row><promptTokens>1</row>"), 0o644))

	_, err := executeCommand(t, "reconcile", bad, "--config", cfgPath)
	assert.Error(t, err)

	_, err = executeCommand(t, "reconcile", "--config", cfgPath)
	assert.Error(t, err, "export argument is required")
}

func TestCalibrateFitsReconciledRuns(t *testing.T) {
	dir := t.TempDir()
	stubCommandSeams(t, okGenerator(fakeResponse), nil)
	cfgPath := writeConfig(t, dir, runConfig(dir, appconfig.Host{Name: "local", Type: "ollama", URL: "http://x"}))

	out, err := executeCommand(t, "calibrate", "--dry-run", "--config", cfgPath)
	require.Error(t, err, out)
	assert.ErrorIs(t, err, history.ErrNoSamples)

	_, err = executeCommand(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	_, err = executeCommand(t, "reconcile", writeExport(t, dir), "--report", filepath.Join(dir, "out.json"), "--config", cfgPath)
	require.NoError(t, err)

	result, err := report.Load(filepath.Join(dir, "out.json"))
	require.NoError(t, err)
	responseChars := len([]rune(result.ResponseText))

	calPath := filepath.Join(dir, "fitted.toml")
	out, err = executeCommand(t, "calibrate", "--output", calPath, "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Fitted from 1 reconciled run(s)")
	assert.Contains(t, out, "Calibration written to "+calPath)

	cal, err := estimator.LoadCalibration(calPath)
	require.NoError(t, err)
	assert.Equal(t, "fitted", cal.Name)
	assert.InDelta(t, 20.0/float64(responseChars), cal.Output.PerChar(), 1e-9)
	assert.Equal(t, estimator.DefaultCalibration().Generic, cal.Generic)
}

func TestCalibrateNeedsHistory(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, runConfig(dir))
	_, err := executeCommand(t, "calibrate", "--historyDB", "", "--config", cfgPath)
	assert.Error(t, err)
}
