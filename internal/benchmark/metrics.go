package benchmark

import "time"

// Metrics is the derived, immutable measurement of one run. Durations are in
// seconds. Build it with NewMetrics so the invariants hold.
type Metrics struct {
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	Duration              float64   `json:"duration"`
	TimeToFirstToken      *float64  `json:"timeToFirstToken"`
	PromptTokenEstimate   int       `json:"promptTokenEstimate"`
	ResponseTokenEstimate int       `json:"responseTokenEstimate"`
	TotalTokenEstimate    int       `json:"totalTokenEstimate"`
	TokensPerSecond       *float64  `json:"tokensPerSecond"`
}

// NewMetrics derives Metrics. The duration is clamped at zero, the total is
// prompt+response, and tokens per second is left nil for a zero duration.
// A nil ttft means no snapshot was observed.
func NewMetrics(start, end time.Time, ttft *time.Duration, promptTokens, responseTokens int) Metrics {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	m := Metrics{
		Start:                 start,
		End:                   end,
		Duration:              elapsed.Seconds(),
		PromptTokenEstimate:   promptTokens,
		ResponseTokenEstimate: responseTokens,
		TotalTokenEstimate:    promptTokens + responseTokens,
	}
	if ttft != nil {
		secs := ttft.Seconds()
		m.TimeToFirstToken = &secs
	}
	if m.Duration > 0 {
		tps := float64(m.TotalTokenEstimate) / m.Duration
		m.TokensPerSecond = &tps
	}
	return m
}

// Elapsed returns Duration as a time.Duration.
func (m Metrics) Elapsed() time.Duration {
	return time.Duration(m.Duration * float64(time.Second))
}
