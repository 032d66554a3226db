// internal/commands/root_test.go
package tokentrace

import (
	"strings"
	"testing"
)

// TestRootCmd verifies running the root command with an invalid subcommand reports an error.
func TestRootCmd(t *testing.T) {
	out, err := executeCommand(t, "nonexistent")
	if err == nil {
		t.Error("Expected an error for a nonexistent command, but got none")
	}

	expected := "unknown command \"nonexistent\" for \"tokentrace\""
	if !strings.Contains(out, expected) {
		t.Errorf("Expected output to contain '%s', but got '%s'", expected, out)
	}
}

func TestListCommands(t *testing.T) {
	out, err := executeCommand(t, "list", "commands")
	if err != nil {
		t.Fatalf("list commands: %v", err)
	}
	for _, want := range []string{"Commands and Subcommands:", "tokentrace run", "tokentrace reconcile", "tokentrace config show", "tokentrace list presets"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "completion") {
		t.Errorf("completion commands should be filtered:\n%s", out)
	}
}

func TestListPresetsMarksCurrent(t *testing.T) {
	out, err := executeCommand(t, "list", "presets", "--config", t.TempDir()+"/missing.json")
	if err != nil {
		t.Fatalf("list presets: %v", err)
	}
	if !strings.Contains(out, "* productDesign") || !strings.Contains(out, "  quick") {
		t.Errorf("unexpected presets output:\n%s", out)
	}
}

func TestWithSuffix(t *testing.T) {
	cases := map[string]string{
		"out.json":      "out-gpu_llama3.json",
		"dir/report.md": "dir/report-gpu_llama3.md",
		"noext":         "noext-gpu_llama3",
		"":              "",
	}
	for in, want := range cases {
		if got := withSuffix(in, "gpu_llama3"); got != want {
			t.Errorf("withSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
