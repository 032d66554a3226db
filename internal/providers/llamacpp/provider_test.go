// internal/providers/llamacpp/provider_test.go
package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/transcript"
)

func sseServer(t *testing.T, models string, events []string, captured *[]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(models))
		case "/models/load":
			w.WriteHeader(http.StatusNotFound)
		case "/v1/chat/completions":
			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			if captured != nil {
				*captured = body
			}
			w.Header().Set("Content-Type", "text/event-stream")
			for _, event := range events {
				fmt.Fprintf(w, "data: %s\n\n", event)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSessionStreamCumulativeSnapshots(t *testing.T) {
	t.Parallel()

	var captured []byte
	server := sseServer(t, `{"data":[{"id":"test-model"}]}`, []string{
		`{"model":"test-model","choices":[{"delta":{"role":"assistant"}}]}`,
		`{"model":"test-model","choices":[{"delta":{"content":"Hello"}}]}`,
		`{"model":"test-model","choices":[{"delta":{"content":", world"}}]}`,
		`{"model":"test-model","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`,
	}, &captured)

	gen := New(appconfig.Host{Name: "test", URL: server.URL, Models: []string{"test-model"}}, appconfig.Config{})
	if avail := gen.Availability(context.Background()); !avail.Available {
		t.Fatalf("expected available generator, got %+v", avail)
	}

	session := gen.NewSession("  Be brief.  ")
	var snapshots []string
	var meta providers.StreamMetadata
	err := session.Stream(context.Background(), "Say hello", providers.GenerationOptions{
		Sampling:    providers.SamplingGreedy,
		Temperature: 0.1,
		MaxTokens:   64,
	}, providers.StreamCallbacks{
		OnSnapshot: func(s providers.Snapshot) error {
			snapshots = append(snapshots, s.Text())
			return nil
		},
		OnComplete: func(m providers.StreamMetadata) error {
			meta = m
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	if want := []string{"Hello", "Hello, world"}; strings.Join(snapshots, "|") != strings.Join(want, "|") {
		t.Fatalf("snapshots = %q, want %q", snapshots, want)
	}
	if meta.Model != "test-model" || !meta.Done || meta.PromptEvalCount != 12 || meta.EvalCount != 4 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	entries := session.Transcript()
	if len(entries) != 3 {
		t.Fatalf("expected instructions, prompt and response entries, got %+v", entries)
	}
	if entries[0].Kind != transcript.KindInstructions || entries[0].Text() != "Be brief." {
		t.Fatalf("unexpected instructions entry: %+v", entries[0])
	}
	if entries[1].Kind != transcript.KindPrompt || entries[2].Kind != transcript.KindResponse || entries[2].Text() != "Hello, world" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	var payload map[string]any
	if err := json.Unmarshal(captured, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["stream"] != true || payload["top_k"].(float64) != 1 || payload["max_tokens"].(float64) != 64 {
		t.Fatalf("unexpected payload: %v", payload)
	}
	messages := payload["messages"].([]any)
	if len(messages) != 2 || messages[0].(map[string]any)["role"] != "system" {
		t.Fatalf("expected system and user messages, got %v", messages)
	}
}

func TestSessionStreamHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	gen := New(appconfig.Host{URL: server.URL, Models: []string{"m"}}, appconfig.Config{})
	err := gen.NewSession("").Stream(context.Background(), "hi", providers.DefaultGenerationOptions, providers.StreamCallbacks{})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSessionStreamErrorEvent(t *testing.T) {
	t.Parallel()

	server := sseServer(t, `{"data":[{"id":"m"}]}`, []string{
		`{"choices":[{"delta":{"content":"partial"}}]}`,
		`{"error":{"message":"context overflow"}}`,
	}, nil)

	gen := New(appconfig.Host{URL: server.URL, Models: []string{"m"}}, appconfig.Config{})
	session := gen.NewSession("")
	err := session.Stream(context.Background(), "hi", providers.DefaultGenerationOptions, providers.StreamCallbacks{})
	if err == nil || !strings.Contains(err.Error(), "context overflow") {
		t.Fatalf("expected stream error, got %v", err)
	}
	for _, e := range session.Transcript() {
		if e.Kind == transcript.KindResponse {
			t.Fatalf("failed stream must not record a response: %+v", e)
		}
	}
}

func TestSnapshotCallbackErrorStopsStream(t *testing.T) {
	t.Parallel()

	server := sseServer(t, `{"data":[{"id":"m"}]}`, []string{
		`{"choices":[{"delta":{"content":"a"}}]}`,
		`{"choices":[{"delta":{"content":"b"}}]}`,
	}, nil)

	gen := New(appconfig.Host{URL: server.URL, Models: []string{"m"}}, appconfig.Config{})
	calls := 0
	err := gen.NewSession("").Stream(context.Background(), "hi", providers.DefaultGenerationOptions, providers.StreamCallbacks{
		OnSnapshot: func(providers.Snapshot) error {
			calls++
			return fmt.Errorf("observer failed")
		},
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected observer error after one call, got %v (calls=%d)", err, calls)
	}
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	server := sseServer(t, `{"data":[{"id":"other-model"}]}`, nil, nil)

	missing := New(appconfig.Host{Name: "h", URL: server.URL, Models: []string{"wanted"}}, appconfig.Config{})
	avail := missing.Availability(context.Background())
	if avail.Available || !strings.Contains(avail.Reason, "other-model") {
		t.Fatalf("expected unavailable with listing, got %+v", avail)
	}

	defaulted := New(appconfig.Host{URL: server.URL}, appconfig.Config{})
	if avail := defaulted.Availability(context.Background()); !avail.Available || defaulted.Model() != "other-model" {
		t.Fatalf("expected first served model to be selected, got %+v model=%q", avail, defaulted.Model())
	}

	down := New(appconfig.Host{Name: "down", URL: "http://127.0.0.1:1", Models: []string{"m"}}, appconfig.Config{})
	if avail := down.Availability(context.Background()); avail.Available || !strings.Contains(avail.Reason, "unreachable") {
		t.Fatalf("expected unreachable host, got %+v", avail)
	}
}

func TestEnsureModelReadyWaitsForLoad(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/load":
			w.WriteHeader(http.StatusOK)
		case "/models":
			status := "loading"
			if polls.Add(1) > 1 {
				status = "loaded"
			}
			fmt.Fprintf(w, `{"data":[{"id":"m","status":{"value":%q}}]}`, status)
		}
	}))
	defer server.Close()

	gen := New(appconfig.Host{URL: server.URL, Models: []string{"m"}}, appconfig.Config{})
	if err := gen.EnsureModelReady(context.Background()); err != nil {
		t.Fatalf("EnsureModelReady: %v", err)
	}
	if polls.Load() < 2 {
		t.Fatalf("expected polling until loaded, got %d polls", polls.Load())
	}
}
