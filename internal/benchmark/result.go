package benchmark

import "github.com/mwiater/tokentrace/internal/environment"

// Result is the record of one successful run.
type Result struct {
	ID            string               `json:"id"`
	Model         string               `json:"model,omitempty"`
	Host          string               `json:"host,omitempty"`
	Prompt        Prompt               `json:"prompt"`
	Metrics       Metrics              `json:"metrics"`
	Environment   environment.Snapshot `json:"environment"`
	ResponseText  string               `json:"responseText"`
	ProviderUsage *ProviderUsage       `json:"providerUsage,omitempty"`
}

// ProviderUsage holds token counts reported by the backend itself, when it
// reports any. They are ground truth for that backend's tokenizer.
type ProviderUsage struct {
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`
}

// Total returns the summed usage.
func (u ProviderUsage) Total() int {
	return u.PromptTokens + u.ResponseTokens
}
