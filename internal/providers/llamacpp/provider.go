// internal/providers/llamacpp/provider.go
// Package llamacpp provides a Generator backed by llama.cpp's OpenAI-compatible HTTP API.
package llamacpp

import (
	"bufio"
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

// Generator implements providers.Generator against one llama.cpp host and model.
type Generator struct {
	client *http.Client
	host   appconfig.Host
	model  string
	debug  bool
}

// New constructs a Generator for host. Deadlines come from the caller's
// context, so the HTTP client itself carries no timeout.
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

type modelsResponse struct {
	Data   []llamaModel `json:"data"`
	Models []llamaModel `json:"models"`
}

type llamaModel struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Model  string      `json:"model"`
	Path   string      `json:"path"`
	Status statusField `json:"status"`
}

// Availability lists the host's models and makes sure the configured one is
// loaded. Router builds load it through /models/load; single-model servers
// report whatever they serve.
func (g *Generator) Availability(ctx context.Context) providers.Availability {
	if strings.TrimSpace(g.host.URL) == "" {
		return providers.Unavailable("llama.cpp: host has no url")
	}
	models, err := g.fetchModels(ctx, true)
	if err != nil {
		return providers.Unavailable(fmt.Sprintf("llama.cpp host %s unreachable: %v", g.host.Identifier(), err))
	}
	if g.model == "" {
		if len(models) == 0 {
			return providers.Unavailable(fmt.Sprintf("llama.cpp host %s serves no models", g.host.Identifier()))
		}
		g.model = modelDisplayName(models[0])
		return providers.Available()
	}
	if !containsModel(models, g.model) {
		return providers.Unavailable(fmt.Sprintf("model %s is not served by %s (available: %s)",
			g.model, g.host.Identifier(), strings.Join(modelNames(models), ", ")))
	}
	if err := g.EnsureModelReady(ctx); err != nil {
		return providers.Unavailable(err.Error())
	}
	return providers.Available()
}

// EnsureModelReady triggers a load request when the router endpoints are available.
func (g *Generator) EnsureModelReady(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"model": g.model})
	if err != nil {
		return err
	}

	endpoint := g.host.URL + "/models/load"
	logging.LogRequest("TOKENTRACE->LLM", g.host.Identifier(), g.model, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		// Router endpoints not available; the single loaded model serves requests.
		return nil
	}
	if resp.StatusCode >= 400 && !isAlreadyLoadedError(resp.StatusCode, respBody) {
		return fmt.Errorf("llama.cpp: /models/load returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return g.waitForModelLoaded(ctx)
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

type session struct {
	g            *Generator
	instructions string
	history      []openAIMessage
	log          transcript.Log
}

func (s *session) Transcript() []transcript.Entry {
	return s.log.Entries()
}

// Stream posts the conversation to /v1/chat/completions and reports the
// accumulated response after every non-empty delta.
func (s *session) Stream(ctx context.Context, userPrompt string, opts providers.GenerationOptions, callbacks providers.StreamCallbacks) error {
	g := s.g
	s.log.Append(transcript.Prompt(userPrompt))

	messages := make([]openAIMessage, 0, len(s.history)+2)
	if s.instructions != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: s.instructions})
	}
	messages = append(messages, s.history...)
	messages = append(messages, openAIMessage{Role: "user", Content: userPrompt})

	payload := map[string]any{
		"model":          g.model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}
	applyOptions(payload, opts)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	logging.LogRequest("TOKENTRACE->LLM", g.host.Identifier(), g.model, body)

	endpoint := g.host.URL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		logging.LogRequest("LLM->TOKENTRACE", g.host.Identifier(), g.model, raw)
		return fmt.Errorf("llama.cpp: /v1/chat/completions returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	text, meta, err := s.readEvents(resp.Body, callbacks)
	if err != nil {
		return err
	}

	s.history = append(s.history, openAIMessage{Role: "user", Content: userPrompt}, openAIMessage{Role: "assistant", Content: text})
	if text != "" {
		s.log.Append(transcript.Response(transcript.TextSegment(text)))
	}
	if callbacks.OnComplete != nil {
		return callbacks.OnComplete(meta)
	}
	return nil
}

func (s *session) readEvents(body io.Reader, callbacks providers.StreamCallbacks) (string, providers.StreamMetadata, error) {
	g := s.g
	reader := bufio.NewReader(body)
	var (
		text  strings.Builder
		model string
		usage *chatUsage
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", providers.StreamMetadata{}, err
		}
		done := errors.Is(err, io.EOF)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			if g.debug {
				logging.LogRequest("LLM->TOKENTRACE", g.host.Identifier(), g.model, data)
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", providers.StreamMetadata{}, fmt.Errorf("llama.cpp: decode stream chunk: %w", err)
			}
			if chunk.Error != nil {
				return "", providers.StreamMetadata{}, fmt.Errorf("llama.cpp: stream error: %s", chunk.Error.Message)
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if delta := chunk.content(); delta != "" {
				text.WriteString(delta)
				if callbacks.OnSnapshot != nil {
					if err := callbacks.OnSnapshot(providers.TextSnapshot(text.String())); err != nil {
						return "", providers.StreamMetadata{}, err
					}
				}
			}
		}
		if done {
			break
		}
	}

	if model == "" {
		model = g.model
	}
	meta := providers.StreamMetadata{
		Model:     model,
		CreatedAt: time.Now(),
		Done:      true,
	}
	if usage != nil {
		meta.PromptEvalCount = usage.PromptTokens
		meta.EvalCount = usage.CompletionTokens
	}
	return text.String(), meta, nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c chatStreamChunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	choice := c.Choices[0]
	if choice.Delta.Content != "" {
		return choice.Delta.Content
	}
	return choice.Message.Content
}

// applyOptions maps generation options onto the OpenAI request. Greedy
// sampling pins top_k to 1 so repeated runs decode identically.
func applyOptions(payload map[string]any, opts providers.GenerationOptions) {
	payload["temperature"] = opts.Temperature
	if opts.Sampling == providers.SamplingGreedy {
		payload["top_k"] = 1
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
}

func parseModels(body []byte) ([]llamaModel, error) {
	var wrapped modelsResponse
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if len(wrapped.Models) > 0 {
			return wrapped.Models, nil
		}
		if len(wrapped.Data) > 0 {
			return wrapped.Data, nil
		}
	}

	var direct []llamaModel
	if err := json.Unmarshal(body, &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}

	var names struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(body, &names); err == nil && len(names.Models) > 0 {
		out := make([]llamaModel, 0, len(names.Models))
		for _, name := range names.Models {
			out = append(out, llamaModel{Name: name})
		}
		return out, nil
	}

	return nil, fmt.Errorf("llama.cpp: unrecognized /models response")
}

func modelDisplayName(model llamaModel) string {
	for _, candidate := range []string{model.ID, model.Name, model.Model, model.Path} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

func modelNames(models []llamaModel) []string {
	names := make([]string, 0, len(models))
	for _, m := range models {
		if name := modelDisplayName(m); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func containsModel(models []llamaModel, model string) bool {
	for _, m := range models {
		if strings.EqualFold(modelDisplayName(m), model) {
			return true
		}
	}
	return false
}

type statusField struct {
	Value string
}

func (s *statusField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		s.Value = ""
		return nil
	}
	if trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		s.Value = v
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Value = obj.Value
	return nil
}

func (g *Generator) fetchModels(ctx context.Context, logIO bool) ([]llamaModel, error) {
	endpoint := g.host.URL + "/models"
	if logIO {
		logging.LogRequest("TOKENTRACE->LLM", g.host.Identifier(), "", map[string]string{"method": http.MethodGet, "url": endpoint})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if logIO {
		logging.LogRequest("LLM->TOKENTRACE", g.host.Identifier(), "", body)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llama.cpp: /models returned %s", resp.Status)
	}

	return parseModels(body)
}

// waitForModelLoaded polls /models until the model reports loaded. Servers
// that omit status are treated as ready.
func (g *Generator) waitForModelLoaded(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		loaded, err := g.isModelLoaded(ctx)
		if err != nil {
			return err
		}
		if loaded {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("llama.cpp: model %s did not load before timeout", g.model)
		case <-ticker.C:
		}
	}
}

func (g *Generator) isModelLoaded(ctx context.Context) (bool, error) {
	models, err := g.fetchModels(ctx, false)
	if err != nil {
		return false, err
	}
	for _, item := range models {
		if strings.EqualFold(modelDisplayName(item), g.model) {
			status := strings.ToLower(strings.TrimSpace(item.Status.Value))
			return status == "" || status == "loaded", nil
		}
	}
	return false, nil
}

func isAlreadyLoadedError(statusCode int, body []byte) bool {
	if statusCode != http.StatusBadRequest {
		return false
	}
	text := strings.ToLower(strings.TrimSpace(string(body)))
	if strings.Contains(text, "already loaded") {
		return true
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if strings.Contains(strings.ToLower(payload.Error.Message), "already loaded") {
			return true
		}
	}
	return false
}
