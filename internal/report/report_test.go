package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/environment"
)

func sampleResult() benchmark.Result {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttft := 250 * time.Millisecond
	return benchmark.Result{
		ID:      "run-1",
		Model:   "llama3.2:3b",
		Host:    "local",
		Prompt:  benchmark.NewPrompt("Be brief.", "Say hi"),
		Metrics: benchmark.NewMetrics(start, start.Add(2*time.Second), &ttft, 30, 70),
		Environment: environment.Snapshot{
			DeviceName:       "bench-box",
			SystemName:       "Linux",
			SystemVersion:    "6.8.0",
			LocaleIdentifier: "en_US",
			Timestamp:        start,
		},
		ResponseText: "<b>hello</b> & goodbye",
	}
}

func TestJSONSortsKeysAndKeepsHTML(t *testing.T) {
	data, err := JSON(sampleResult())
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `"responseText": "<b>hello</b> & goodbye"`)
	assert.Less(t, strings.Index(text, `"environment"`), strings.Index(text, `"metrics"`))
	assert.Less(t, strings.Index(text, `"duration"`), strings.Index(text, `"end"`))
	assert.Contains(t, text, "\n  \"id\": \"run-1\"")
	assert.True(t, strings.HasSuffix(text, "\n"))
}

func TestJSONNullableMetrics(t *testing.T) {
	result := sampleResult()
	now := time.Now()
	result.Metrics = benchmark.NewMetrics(now, now, nil, 1, 1)

	data, err := JSON(result)
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	metrics := doc["metrics"]
	assert.Contains(t, metrics, "timeToFirstToken")
	assert.Nil(t, metrics["timeToFirstToken"])
	assert.Nil(t, metrics["tokensPerSecond"])
	assert.Equal(t, float64(0), metrics["duration"])
}

func TestWriteJSONAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	want := sampleResult()
	require.NoError(t, WriteJSON(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ResponseText, got.ResponseText)
	assert.Equal(t, want.Metrics.TotalTokenEstimate, got.Metrics.TotalTokenEstimate)
	require.NotNil(t, got.Metrics.TimeToFirstToken)
	assert.InDelta(t, 0.25, *got.Metrics.TimeToFirstToken, 1e-9)
	assert.True(t, want.Metrics.Start.Equal(got.Metrics.Start))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestWriteJSONReportsExportWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := WriteJSON(filepath.Join(blocker, "result.json"), sampleResult())
	var exportErr *ExportWriteError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, filepath.Join(blocker, "result.json"), exportErr.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing metrics": `{"prompt":{"instructions":"","userPrompt":""},"responseText":""}`,
		"negative tokens": `{"prompt":{"instructions":"","userPrompt":""},"responseText":"","metrics":{"start":"2025-06-01T12:00:00Z","end":"2025-06-01T12:00:01Z","duration":1,"promptTokenEstimate":-1,"responseTokenEstimate":0,"totalTokenEstimate":0}}`,
		"string duration": `{"prompt":{"instructions":"","userPrompt":""},"responseText":"","metrics":{"start":"2025-06-01T12:00:00Z","end":"2025-06-01T12:00:01Z","duration":"1s","promptTokenEstimate":0,"responseTokenEstimate":0,"totalTokenEstimate":0}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.NotEmpty(t, schemaErr.Violations)
		})
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	require.Error(t, err)
}

func TestMarkdownLayout(t *testing.T) {
	md := Markdown(sampleResult())

	for _, want := range []string{
		"# Local Model Benchmark\n",
		"**Timestamp:** 2025-06-01T12:00:00Z\n",
		"**Device:** bench-box • Linux 6.8.0\n",
		"**Locale:** en_US\n",
		"**Model:** llama3.2:3b @ local\n",
		"## Metrics\n",
		"- Duration: 2.00s\n",
		"- Time to First Token: 0.25s\n",
		"- Prompt Tokens (est.): 30\n",
		"- Response Tokens (est.): 70\n",
		"- Total Tokens (est.): 100\n",
		"- Tokens / sec: 50.00\n",
		"## Response\n<b>hello</b> & goodbye\n",
	} {
		assert.Contains(t, md, want)
	}
	assert.NotContains(t, md, "Provider-reported")
}

func TestMarkdownMissingValues(t *testing.T) {
	result := sampleResult()
	now := result.Metrics.Start
	result.Metrics = benchmark.NewMetrics(now, now, nil, 1, 0)
	result.ProviderUsage = &benchmark.ProviderUsage{PromptTokens: 12, ResponseTokens: 34}

	md := Markdown(result)
	assert.Contains(t, md, "- Time to First Token: n/a\n")
	assert.Contains(t, md, "- Tokens / sec: n/a\n")
	assert.Contains(t, md, "- Provider-reported Tokens: 12 prompt / 34 response\n")
}

func TestWriteMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.md")
	require.NoError(t, WriteMarkdown(path, sampleResult()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Markdown(sampleResult()), string(data))
}

func TestRenderMarkdown(t *testing.T) {
	out, err := RenderMarkdown("# Title\n\nbody text\n", 0)
	require.NoError(t, err)
	assert.Contains(t, out, "body text")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short...", Preview("short", PreviewLength))
	long := strings.Repeat("é", 250)
	got := Preview(long, PreviewLength)
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)
}

func TestMetricsSummary(t *testing.T) {
	out := MetricsSummary(sampleResult())
	assert.Contains(t, out, "Estimated Metrics:")
	assert.Contains(t, out, "Total Tokens (est.):")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "50.00")

	now := time.Now()
	result := sampleResult()
	result.Metrics = benchmark.NewMetrics(now, now, nil, 1, 1)
	assert.NotContains(t, MetricsSummary(result), "Time to First Token")
}

func TestTraceInstructions(t *testing.T) {
	record := TraceInstructions("./tokentrace", "benchmark-result.json", false)
	assert.Contains(t, record, "run under a trace recorder")
	assert.Contains(t, record, "./tokentrace token-test")
	assert.Contains(t, record, "./tokentrace run --reconcile-provider")
	assert.Contains(t, record, "./tokentrace reconcile token-export.xml --report benchmark-result.json")
	assert.NotContains(t, record, "xctrace")

	export := TraceInstructions("./tokentrace", "benchmark-result.json", true)
	assert.Contains(t, export, "export the recorder's token table")
	assert.NotContains(t, export, "run under a trace recorder")
	assert.NotContains(t, export, "xctrace")
	assert.Contains(t, export, "./tokentrace reconcile token-export.xml --report benchmark-result.json")
}

func TestEnvironmentHeader(t *testing.T) {
	out := EnvironmentHeader(environment.Snapshot{DeviceName: "bench-box", SystemName: "Linux", SystemVersion: "6.8.0", LocaleIdentifier: "C", TotalMemory: 16 << 30})
	assert.Contains(t, out, "Environment")
	assert.Contains(t, out, "bench-box")
	assert.Contains(t, out, "16 GiB")
}

func TestSeriesSummary(t *testing.T) {
	out := SeriesSummary(benchmark.Series{
		Iterations:   []benchmark.Result{{ID: "a"}, {ID: "b"}},
		Failures:     1,
		MinStats:     benchmark.IterationStats{Duration: 1},
		AverageStats: benchmark.IterationStats{Duration: 2},
		MaxStats:     benchmark.IterationStats{Duration: 3},
	})
	assert.Contains(t, out, "2 ok, 1 failed")
	assert.Contains(t, out, "2.00s")
}
