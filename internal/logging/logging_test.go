package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type testStringer string

func (s testStringer) String() string { return string(s) }

func TestInitAndLoggingToFile(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "nested", "tokentrace.log")

	var console bytes.Buffer
	if err := Init(Options{Path: logPath, Level: "debug", Format: "json", Console: &console}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close()
	})

	LogEvent("hello %s", "world")
	Info("run finished", "model", "qwen", "tokens", 42)
	_ = Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "hello world") {
		t.Fatalf("expected LogEvent content, got: %s", content)
	}
	if !strings.Contains(content, `"model":"qwen"`) || !strings.Contains(content, `"tokens":42`) {
		t.Fatalf("expected structured fields, got: %s", content)
	}
	if !strings.Contains(console.String(), "hello world") {
		t.Fatalf("expected console to receive events, got: %s", console.String())
	}
}

func TestLogEventStaysOffDefaultConsole(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Console: &console}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() { _ = Init(Options{}) })

	LogEvent("[METRICS] RecordRun called for model %s", "qwen")
	Info("visible info")

	out := console.String()
	if strings.Contains(out, "RecordRun") {
		t.Fatalf("expected LogEvent to stay below the info level, got: %s", out)
	}
	if !strings.Contains(out, "visible info") {
		t.Fatalf("expected info output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "warn", Format: "json", Console: &console}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() { _ = Init(Options{}) })

	Debug("hidden debug")
	LogEvent("hidden %s", "event")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error", "err", errors.New("boom"))

	out := console.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be filtered, got: %s", out)
	}
	if !strings.Contains(out, "visible warn") || !strings.Contains(out, `"err":"boom"`) {
		t.Fatalf("expected warn and error output, got: %s", out)
	}
}

func TestLogRequestFields(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "debug", Format: "json", Console: &console}); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	t.Cleanup(func() { _ = Init(Options{}) })

	LogRequest(" in ", " ", "", map[string]any{"ok": true})
	out := console.String()
	for _, fragment := range []string{`"direction":"IN"`, `"host":"unknown"`, `"model":"unknown"`, `{\"ok\":true}`} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %s in %s", fragment, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatPayloadVariants(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    string
	}{
		{"nil", nil, "null"},
		{"blank string", "  ", `""`},
		{"empty bytes", []byte{}, "[]"},
		{"bytes", []byte("data"), "data"},
		{"stringer", testStringer("value"), "value"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"unmarshalable", make(chan int), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := formatPayload(tc.payload)
			if tc.want != "" && got != tc.want {
				t.Fatalf("formatPayload() = %q, want %q", got, tc.want)
			}
			if tc.want == "" && got == "" {
				t.Fatal("expected fallback formatting for unmarshalable payload")
			}
		})
	}
}
