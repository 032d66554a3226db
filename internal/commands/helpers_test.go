// internal/commands/helpers_test.go
package tokentrace

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/environment"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/transcript"
)

var testEnv = environment.Snapshot{
	DeviceName:       "ci-box",
	SystemName:       "Linux",
	SystemVersion:    "6.8",
	LocaleIdentifier: "en_US",
	Timestamp:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
}

// fakeGenerator streams a fixed response for every host.
type fakeGenerator struct {
	avail     providers.Availability
	snapshots []providers.Snapshot
	meta      providers.StreamMetadata
}

func (g *fakeGenerator) Availability(context.Context) providers.Availability { return g.avail }

func (g *fakeGenerator) NewSession(instructions string) providers.Session {
	s := &fakeSession{g: g}
	s.log.Append(transcript.Instructions(instructions))
	return s
}

func (g *fakeGenerator) Close() error { return nil }

type fakeSession struct {
	g   *fakeGenerator
	log transcript.Log
}

func (s *fakeSession) Stream(_ context.Context, userPrompt string, _ providers.GenerationOptions, cb providers.StreamCallbacks) error {
	s.log.Append(transcript.Prompt(userPrompt))
	var last string
	for _, snap := range s.g.snapshots {
		if err := cb.OnSnapshot(snap); err != nil {
			return err
		}
		last = snap.Text()
	}
	s.log.Append(transcript.Response(transcript.TextSegment(last)))
	if cb.OnComplete != nil {
		return cb.OnComplete(s.g.meta)
	}
	return nil
}

func (s *fakeSession) Transcript() []transcript.Entry { return s.log.Entries() }

// stubCommandSeams replaces the provider factory and terminal probes for the
// duration of a test. perHost maps host names to generators; hosts without
// an entry get def.
func stubCommandSeams(t *testing.T, def *fakeGenerator, perHost map[string]*fakeGenerator) {
	t.Helper()
	origGen, origCap, origTTY := newGenerator, newCapturer, stdoutIsTerminal
	var mu sync.Mutex
	newGenerator = func(host appconfig.Host, _ appconfig.Config) (providers.Generator, error) {
		mu.Lock()
		defer mu.Unlock()
		if g, ok := perHost[host.Name]; ok {
			return g, nil
		}
		return def, nil
	}
	newCapturer = func() environment.Capturer { return environment.Static(testEnv) }
	stdoutIsTerminal = func() bool { return false }
	t.Cleanup(func() {
		newGenerator, newCapturer, stdoutIsTerminal = origGen, origCap, origTTY
	})
}

func okGenerator(text string) *fakeGenerator {
	return &fakeGenerator{
		avail:     providers.Available(),
		snapshots: []providers.Snapshot{providers.TextSnapshot(text[:len(text)/2]), providers.TextSnapshot(text)},
	}
}

// writeConfig writes cfg as the JSON config file in dir.
func writeConfig(t *testing.T, dir string, cfg appconfig.Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// executeCommand runs the root command with args and returns its combined output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)
	runHostName, runTraceMode, runReconcileProvider, tokenTestHostName = "", false, false, ""
	reconcileReportPath, calibrateOutput, calibrateDryRun = "", "", false
	historyLimit, configShowDump, reportWidth = 20, false, 100
	currentConfig = nil

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = logging.Close()
	})

	_, err := rootCmd.ExecuteC()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
