// internal/providers/provider.go

// Package providers defines the generation capability a benchmark runs
// against. A Generator reports whether its model is usable and opens
// sessions; a Session streams cumulative response snapshots and exposes the
// transcript of the exchange once the stream ends.
package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mwiater/tokentrace/internal/transcript"
)

// Availability is the result of a generator's precondition check.
type Availability struct {
	Available bool
	Reason    string
}

// Available reports a usable generator.
func Available() Availability {
	return Availability{Available: true}
}

// Unavailable reports an unusable generator and why.
func Unavailable(reason string) Availability {
	return Availability{Reason: reason}
}

// Sampling names a decoding strategy.
type Sampling string

const (
	SamplingGreedy Sampling = "greedy"
	SamplingRandom Sampling = "random"
)

// GenerationOptions controls decoding. Benchmarks use deterministic settings
// so repeated runs are comparable.
type GenerationOptions struct {
	Sampling    Sampling `json:"sampling"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// DefaultGenerationOptions is greedy sampling at temperature 0.1.
var DefaultGenerationOptions = GenerationOptions{
	Sampling:    SamplingGreedy,
	Temperature: 0.1,
}

// Snapshot is one cumulative state of a streamed response. It supersedes
// every earlier snapshot of the same stream.
type Snapshot struct {
	// Value is set when the generator already holds the typed text.
	Value *string
	// Raw is the canonical serialized form of the snapshot content.
	Raw string
}

// TextSnapshot returns a snapshot carrying typed text.
func TextSnapshot(text string) Snapshot {
	return Snapshot{Value: &text, Raw: text}
}

// RawSnapshot returns a snapshot carrying only serialized content.
func RawSnapshot(raw string) Snapshot {
	return Snapshot{Raw: raw}
}

// Text decodes the snapshot: the typed value when present, otherwise Raw
// parsed as a JSON string, otherwise Raw verbatim.
func (s Snapshot) Text() string {
	if s.Value != nil {
		return *s.Value
	}
	var decoded string
	if err := json.Unmarshal([]byte(s.Raw), &decoded); err == nil {
		return decoded
	}
	return s.Raw
}

// StreamMetadata describes a finished stream. Token counts are only set by
// generators whose backend reports them.
type StreamMetadata struct {
	Model              string
	CreatedAt          time.Time
	Done               bool
	TotalDuration      int64
	LoadDuration       int64
	PromptEvalCount    int
	PromptEvalDuration int64
	EvalCount          int
	EvalDuration       int64
}

// HasUsage reports whether the backend returned token counts.
func (m StreamMetadata) HasUsage() bool {
	return m.PromptEvalCount > 0 || m.EvalCount > 0
}

// StreamCallbacks receive stream progress. OnSnapshot is called once per
// snapshot in arrival order; OnComplete once after the final snapshot.
type StreamCallbacks struct {
	OnSnapshot func(Snapshot) error
	OnComplete func(StreamMetadata) error
}

// Session is one conversation with a generator.
type Session interface {
	// Stream sends userPrompt and blocks until the response stream ends.
	Stream(ctx context.Context, userPrompt string, opts GenerationOptions, callbacks StreamCallbacks) error
	// Transcript returns the entries recorded so far, in arrival order.
	Transcript() []transcript.Entry
}

// Generator is the generation capability.
type Generator interface {
	// Availability checks whether the model can serve requests.
	Availability(ctx context.Context) Availability
	// NewSession opens a session seeded with instructions.
	NewSession(instructions string) Session
	// Close releases any resources held by the generator.
	Close() error
}
