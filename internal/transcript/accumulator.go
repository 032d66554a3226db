package transcript

import (
	"fmt"
	"strings"

	"github.com/mwiater/tokentrace/internal/estimator"
)

// Overheads are the fixed framing costs added to tool entries.
type Overheads struct {
	ToolCall   int
	ToolOutput int
}

// DefaultOverheads returns five tokens per tool call and three per tool output.
func DefaultOverheads() Overheads {
	return Overheads{ToolCall: 5, ToolOutput: 3}
}

// ToolPolicy decides whether tool entries count toward the prompt/response totals.
type ToolPolicy string

const (
	// ToolsExcluded leaves tool entries out of both totals.
	ToolsExcluded ToolPolicy = "exclude"
	// ToolsAttributed adds tool calls to the response total (the model wrote
	// them) and tool output to the prompt total (it is fed back to the model).
	ToolsAttributed ToolPolicy = "attribute"
)

// ParseToolPolicy accepts "exclude", "attribute", or empty (exclude).
func ParseToolPolicy(s string) (ToolPolicy, error) {
	switch ToolPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ToolsExcluded:
		return ToolsExcluded, nil
	case ToolsAttributed:
		return ToolsAttributed, nil
	default:
		return "", fmt.Errorf("unknown tool policy %q (want %q or %q)", s, ToolsExcluded, ToolsAttributed)
	}
}

type entryEstimator func(Entry) int

// Accumulator sums per-entry estimates. Each entry kind maps to one
// estimation strategy; kinds without a strategy contribute zero.
type Accumulator struct {
	est        *estimator.Estimator
	overheads  Overheads
	strategies map[Kind]entryEstimator
}

// NewAccumulator builds an Accumulator over est. A nil est uses the default calibration.
func NewAccumulator(est *estimator.Estimator, overheads Overheads) *Accumulator {
	if est == nil {
		est = estimator.Default()
	}
	a := &Accumulator{est: est, overheads: overheads}
	a.strategies = map[Kind]entryEstimator{
		KindInstructions: a.segmentsAs(estimator.RoleInput),
		KindPrompt:       a.segmentsAs(estimator.RoleInput),
		KindResponse:     a.segmentsAs(estimator.RoleOutput),
		KindToolCalls:    a.toolCalls,
		KindToolOutput:   a.toolOutput,
	}
	return a
}

func (a *Accumulator) segmentsAs(role estimator.Role) entryEstimator {
	return func(e Entry) int {
		total := 0
		for _, seg := range e.Segments {
			total += a.est.Estimate(seg.Canonical(), role)
		}
		return total
	}
}

func (a *Accumulator) toolCalls(e Entry) int {
	total := 0
	for _, call := range e.ToolCalls {
		total += a.est.Estimate(call.Name, estimator.RoleInput)
		total += a.est.EstimateStructured(call.Arguments, estimator.RoleGeneric)
		total += a.overheads.ToolCall
	}
	return total
}

func (a *Accumulator) toolOutput(e Entry) int {
	return a.segmentsAs(estimator.RoleOutput)(e) + a.overheads.ToolOutput
}

// EntryTokens returns the estimate for a single entry.
func (a *Accumulator) EntryTokens(e Entry) int {
	fn, ok := a.strategies[e.Kind]
	if !ok {
		return 0
	}
	return fn(e)
}

// EstimatedTokenCount sums EntryTokens over entries matching filter.
func (a *Accumulator) EstimatedTokenCount(entries []Entry, filter func(Entry) bool) int {
	total := 0
	for _, e := range entries {
		if filter != nil && !filter(e) {
			continue
		}
		total += a.EntryTokens(e)
	}
	return total
}

// PromptTokens sums instructions and prompt entries.
func (a *Accumulator) PromptTokens(entries []Entry) int {
	return a.EstimatedTokenCount(entries, IsPromptSide)
}

// ResponseTokens sums response entries.
func (a *Accumulator) ResponseTokens(entries []Entry) int {
	return a.EstimatedTokenCount(entries, IsResponseSide)
}

// Totals returns the prompt and response totals under policy.
func (a *Accumulator) Totals(entries []Entry, policy ToolPolicy) (prompt, response int) {
	prompt = a.PromptTokens(entries)
	response = a.ResponseTokens(entries)
	if policy != ToolsAttributed {
		return prompt, response
	}
	prompt += a.EstimatedTokenCount(entries, func(e Entry) bool { return e.Kind == KindToolOutput })
	response += a.EstimatedTokenCount(entries, func(e Entry) bool { return e.Kind == KindToolCalls })
	return prompt, response
}
