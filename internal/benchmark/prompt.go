package benchmark

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt is the instructions and user text driving one run. Both are
// whitespace-trimmed on construction.
type Prompt struct {
	Instructions string `json:"instructions"`
	UserPrompt   string `json:"userPrompt"`
}

// NewPrompt returns a Prompt with both fields trimmed.
func NewPrompt(instructions, userPrompt string) Prompt {
	return Prompt{
		Instructions: strings.TrimSpace(instructions),
		UserPrompt:   strings.TrimSpace(userPrompt),
	}
}

// ProductDesignPrompt stresses narrative, structured lists, and long-form
// reasoning. The default calibration ratios were fitted against it.
var ProductDesignPrompt = NewPrompt(`
You are a senior product architect helping a multidisciplinary team evaluate a next-generation
productivity companion.
You think aloud, justify tradeoffs, and keep responses professional.
`, `
We are designing "Waypoint", a cross-platform productivity companion that runs on Mac, iPad, iPhone,
and Vision Pro.
In a single response, please:
1. Summarize the product vision in exactly 5 tight paragraphs.
2. Provide exactly 10 features in detail, including platform-specific affordances.
3. Describe exactly 5 target personas and 5 launches risks directly in prose.
`)

// QuickPrompt is a short smoke-test prompt.
var QuickPrompt = NewPrompt(
	"You are a helpful assistant.",
	"List 3 different fruits in alphabetical order? None of the three can be an apple.",
)

// Presets maps preset names to prompts.
var Presets = map[string]Prompt{
	"productDesign": ProductDesignPrompt,
	"quick":         QuickPrompt,
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePrompt returns the preset named name unless instructions or
// userPrompt override it. An override of only one field keeps the other from
// the preset.
func ResolvePrompt(name, instructions, userPrompt string) (Prompt, error) {
	base, ok := Presets[name]
	if !ok {
		if strings.TrimSpace(instructions) == "" || strings.TrimSpace(userPrompt) == "" {
			return Prompt{}, fmt.Errorf("unknown prompt preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
		}
	}
	if strings.TrimSpace(instructions) != "" {
		base.Instructions = instructions
	}
	if strings.TrimSpace(userPrompt) != "" {
		base.UserPrompt = userPrompt
	}
	p := NewPrompt(base.Instructions, base.UserPrompt)
	if p.UserPrompt == "" {
		return Prompt{}, fmt.Errorf("prompt %q has no user text", name)
	}
	return p, nil
}
