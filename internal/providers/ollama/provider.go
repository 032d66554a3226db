// internal/providers/ollama/provider.go
// Package ollama provides a Generator backed by Ollama-compatible HTTP endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/transcript"
)

// Generator implements providers.Generator using Ollama HTTP APIs.
type Generator struct {
	client *http.Client
	host   appconfig.Host
	model  string
	debug  bool
}

// New constructs a Generator for host. Deadlines come from the caller's context.
func New(host appconfig.Host, cfg appconfig.Config) *Generator {
	return &Generator{
		client: &http.Client{
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		host:  host,
		model: host.Model(),
		debug: cfg.Debug,
	}
}

// Model returns the model the generator targets.
func (g *Generator) Model() string { return g.model }

// tagsResponse defines the structure of the response from the /api/tags endpoint.
type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// toolCall represents a structured tool call from the Ollama API.
type toolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// streamChunk defines the structure of a single chunk in a streaming response.
type streamChunk struct {
	Model   string `json:"model"`
	Message struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		ToolCalls []toolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	Error              string `json:"error,omitempty"`
	Done               bool   `json:"done"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          int    `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

// InstalledModels returns the model names the host can serve.
func (g *Generator) InstalledModels(ctx context.Context) ([]string, error) {
	endpoint := g.host.URL + "/api/tags"
	logging.LogRequest("TOKENTRACE->LLM", g.host.Identifier(), "", map[string]string{"method": http.MethodGet, "url": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: /api/tags returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	logging.LogRequest("LLM->TOKENTRACE", g.host.Identifier(), "", body)

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// Availability confirms the model is installed and loads it into memory.
func (g *Generator) Availability(ctx context.Context) providers.Availability {
	if strings.TrimSpace(g.host.URL) == "" {
		return providers.Unavailable("ollama: host has no url")
	}
	if g.model == "" {
		return providers.Unavailable(fmt.Sprintf("no model configured for ollama host %s", g.host.Identifier()))
	}
	installed, err := g.InstalledModels(ctx)
	if err != nil {
		return providers.Unavailable(fmt.Sprintf("ollama host %s unreachable: %v", g.host.Identifier(), err))
	}
	if !matchesModel(installed, g.model) {
		return providers.Unavailable(fmt.Sprintf("model %s is not installed on %s (installed: %s)",
			g.model, g.host.Identifier(), strings.Join(installed, ", ")))
	}
	if err := g.EnsureModelReady(ctx); err != nil {
		return providers.Unavailable(err.Error())
	}
	return providers.Available()
}

// matchesModel treats "name" and "name:latest" as the same model.
func matchesModel(installed []string, model string) bool {
	want := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(model)), ":latest")
	for _, name := range installed {
		if strings.TrimSuffix(strings.ToLower(name), ":latest") == want {
			return true
		}
	}
	return false
}

// EnsureModelReady sends an empty generate request so the model is resident before timing starts.
func (g *Generator) EnsureModelReady(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"model": g.model})
	if err != nil {
		return err
	}
	logging.LogRequest("TOKENTRACE->LLM", g.host.Identifier(), g.model, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	logging.LogRequest("LLM->TOKENTRACE", g.host.Identifier(), g.model, respBody)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: /api/generate returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// NewSession opens a conversation seeded with instructions.
func (g *Generator) NewSession(instructions string) providers.Session {
	s := &session{g: g, instructions: strings.TrimSpace(instructions)}
	if s.instructions != "" {
		s.log.Append(transcript.Instructions(s.instructions))
	}
	return s
}

// Close releases any resources held by the generator.
func (g *Generator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type session struct {
	g            *Generator
	instructions string
	history      []chatMessage
	log          transcript.Log
}

func (s *session) Transcript() []transcript.Entry {
	return s.log.Entries()
}

// Stream issues a streaming chat request and reports the accumulated
// response after every non-empty chunk.
func (s *session) Stream(ctx context.Context, userPrompt string, opts providers.GenerationOptions, callbacks providers.StreamCallbacks) error {
	g := s.g
	hostID := g.host.Identifier()
	s.log.Append(transcript.Prompt(userPrompt))

	messages := make([]chatMessage, 0, len(s.history)+2)
	if s.instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: s.instructions})
	}
	messages = append(messages, s.history...)
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	payload := map[string]any{
		"model":    g.model,
		"messages": messages,
		"options":  buildOptions(opts),
		"stream":   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	logging.LogRequest("TOKENTRACE->LLM", hostID, g.model, body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host.URL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		logging.LogRequest("LLM->TOKENTRACE", hostID, g.model, raw)
		return fmt.Errorf("ollama: /api/chat returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	decoder := json.NewDecoder(resp.Body)
	var (
		text  strings.Builder
		calls []transcript.ToolCall
		final streamChunk
	)
	for {
		var chunk streamChunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("ollama: decode stream chunk: %w", err)
		}
		if g.debug {
			if data, err := json.Marshal(chunk); err == nil {
				logging.LogRequest("LLM->TOKENTRACE", hostID, g.model, data)
			}
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: stream error: %s", chunk.Error)
		}

		for _, call := range chunk.Message.ToolCalls {
			calls = append(calls, transcript.ToolCall{Name: call.Function.Name, Arguments: call.Function.Arguments})
		}
		if delta := chunk.Message.Content; delta != "" {
			text.WriteString(delta)
			if callbacks.OnSnapshot != nil {
				if err := callbacks.OnSnapshot(providers.TextSnapshot(text.String())); err != nil {
					return err
				}
			}
		}

		if chunk.Done {
			final = chunk
			break
		}
	}

	response := text.String()
	s.history = append(s.history, chatMessage{Role: "user", Content: userPrompt}, chatMessage{Role: "assistant", Content: response})
	if len(calls) > 0 {
		s.log.Append(transcript.ToolCalls(calls...))
	}
	if response != "" {
		s.log.Append(transcript.Response(transcript.TextSegment(response)))
	}

	if callbacks.OnComplete != nil {
		modelName := final.Model
		if modelName == "" {
			modelName = g.model
		}
		meta := providers.StreamMetadata{
			Model:              modelName,
			CreatedAt:          time.Now(),
			Done:               final.Done,
			TotalDuration:      final.TotalDuration,
			LoadDuration:       final.LoadDuration,
			PromptEvalCount:    final.PromptEvalCount,
			PromptEvalDuration: final.PromptEvalDuration,
			EvalCount:          final.EvalCount,
			EvalDuration:       final.EvalDuration,
		}
		if err := callbacks.OnComplete(meta); err != nil {
			return err
		}
	}
	return nil
}

// buildOptions maps generation options onto Ollama's options object.
// Greedy sampling pins top_k to 1.
func buildOptions(opts providers.GenerationOptions) map[string]any {
	options := map[string]any{
		"temperature": opts.Temperature,
	}
	if opts.Sampling == providers.SamplingGreedy {
		options["top_k"] = 1
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	return options
}
