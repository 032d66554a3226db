// Package transcript models the role-tagged log of one generation exchange
// and sums estimated token counts over it.
package transcript

import (
	"strings"

	"github.com/mwiater/tokentrace/internal/estimator"
)

// Kind tags a transcript entry with the part of the exchange it records.
type Kind string

const (
	KindInstructions Kind = "instructions"
	KindPrompt       Kind = "prompt"
	KindResponse     Kind = "response"
	KindToolCalls    Kind = "toolCalls"
	KindToolOutput   Kind = "toolOutput"
)

// Segment is either plain text or structured content. Structured content is
// reduced to its canonical JSON text before estimation.
type Segment struct {
	Text       string
	Structured any
}

// TextSegment returns a plain text segment.
func TextSegment(text string) Segment {
	return Segment{Text: text}
}

// StructuredSegment returns a segment holding serializable content.
func StructuredSegment(v any) Segment {
	return Segment{Structured: v}
}

// IsStructured reports whether the segment carries structured content.
func (s Segment) IsStructured() bool {
	return s.Structured != nil
}

// Canonical returns the text the estimator operates on.
func (s Segment) Canonical() string {
	if s.IsStructured() {
		return estimator.CanonicalText(s.Structured)
	}
	return s.Text
}

// ToolCall is a single structured tool invocation emitted by the model.
type ToolCall struct {
	Name      string
	Arguments any
}

// Entry is one element of a transcript.
type Entry struct {
	Kind      Kind
	Segments  []Segment
	ToolCalls []ToolCall
	// ToolName identifies the tool whose result a toolOutput entry carries.
	ToolName string
}

// Text concatenates the canonical text of every segment.
func (e Entry) Text() string {
	if len(e.Segments) == 1 {
		return e.Segments[0].Canonical()
	}
	var b strings.Builder
	for _, seg := range e.Segments {
		b.WriteString(seg.Canonical())
	}
	return b.String()
}

// Instructions returns an instructions entry with one text segment.
func Instructions(text string) Entry {
	return Entry{Kind: KindInstructions, Segments: []Segment{TextSegment(text)}}
}

// Prompt returns a prompt entry with one text segment.
func Prompt(text string) Entry {
	return Entry{Kind: KindPrompt, Segments: []Segment{TextSegment(text)}}
}

// Response returns a response entry with the given segments.
func Response(segments ...Segment) Entry {
	return Entry{Kind: KindResponse, Segments: segments}
}

// ToolCalls returns an entry recording one or more tool invocations.
func ToolCalls(calls ...ToolCall) Entry {
	return Entry{Kind: KindToolCalls, ToolCalls: calls}
}

// ToolOutput returns an entry carrying a tool's result.
func ToolOutput(toolName string, segments ...Segment) Entry {
	return Entry{Kind: KindToolOutput, ToolName: toolName, Segments: segments}
}

// IsPromptSide matches instructions and prompt entries.
func IsPromptSide(e Entry) bool {
	return e.Kind == KindInstructions || e.Kind == KindPrompt
}

// IsResponseSide matches response entries.
func IsResponseSide(e Entry) bool {
	return e.Kind == KindResponse
}
