// internal/commands/run.go
package tokentrace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/benchmark"
	"github.com/mwiater/tokentrace/internal/environment"
	"github.com/mwiater/tokentrace/internal/estimator"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/providerfactory"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/reconcile"
	"github.com/mwiater/tokentrace/internal/report"
	"github.com/mwiater/tokentrace/internal/transcript"
	"github.com/mwiater/tokentrace/internal/tui"
)

// Replaced in tests.
var (
	newGenerator = providerfactory.NewGenerator
	newCapturer  = func() environment.Capturer {
		return environment.SystemCapturer{AppVersion: appVersion, BuildNumber: appCommit}
	}
	stdoutIsTerminal = func() bool {
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	runLive = tui.Run
)

var (
	runHostName          string
	runTraceMode         bool
	runReconcileProvider bool
	tokenTestHostName    string
)

// runCmd implements 'run', the normal benchmark mode.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark prompt against the configured hosts",
	Long: `The 'run' command sends the configured prompt to each host (or only --host),
streams the response, and prints timing with estimated token counts. The
result is written as a JSON report (see --export) that 'reconcile' can later
compare against ground-truth counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd, runOptions{
			host:              runHostName,
			trace:             runTraceMode,
			reconcileProvider: runReconcileProvider,
		})
	},
}

// tokenTestCmd implements 'token-test', the mode launched under a trace recorder.
var tokenTestCmd = &cobra.Command{
	Use:   "token-test",
	Short: "Run once for an attached trace recorder (no response preview)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBenchmark(cmd, runOptions{host: tokenTestHostName, trace: true})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tokenTestCmd)

	runCmd.Flags().StringVar(&runHostName, "host", "", "run only the named host")
	runCmd.Flags().BoolVar(&runTraceMode, "trace", false, "a trace recorder is attached; suppress the preview")
	runCmd.Flags().BoolVar(&runReconcileProvider, "reconcile-provider", false, "compare estimates with token counts reported by the backend")
	runCmd.Flags().String("prompt", "", "prompt preset name")
	runCmd.Flags().Int("iterations", 0, "runs per host")
	runCmd.Flags().Float64("temperature", 0, "sampling temperature")
	runCmd.Flags().Int("maxTokens", 0, "maximum response tokens (0 = backend default)")
	runCmd.Flags().Bool("live", false, "show a live streaming preview (single host, terminal only)")

	tokenTestCmd.Flags().StringVar(&tokenTestHostName, "host", "", "run only the named host")
}

type runOptions struct {
	host              string
	trace             bool
	reconcileProvider bool
}

// runPlan is everything shared by the per-host runs.
type runPlan struct {
	cfg        appconfig.Config
	prompt     benchmark.Prompt
	options    providers.GenerationOptions
	acc        *transcript.Accumulator
	policy     transcript.ToolPolicy
	iterations int
}

func newRunPlan(cfg appconfig.Config) (runPlan, error) {
	prompt, err := benchmark.ResolvePrompt(cfg.PromptName(), cfg.Instructions, cfg.UserPrompt)
	if err != nil {
		return runPlan{}, err
	}
	est, err := loadEstimator(cfg)
	if err != nil {
		return runPlan{}, err
	}
	policy, err := transcript.ParseToolPolicy(cfg.ToolPolicy)
	if err != nil {
		return runPlan{}, err
	}
	options, err := generationOptions(cfg)
	if err != nil {
		return runPlan{}, err
	}
	return runPlan{
		cfg:        cfg,
		prompt:     prompt,
		options:    options,
		acc:        transcript.NewAccumulator(est, transcript.DefaultOverheads()),
		policy:     policy,
		iterations: cfg.IterationCount(),
	}, nil
}

func loadEstimator(cfg appconfig.Config) (*estimator.Estimator, error) {
	cal, err := currentCalibration(cfg)
	if err != nil {
		return nil, err
	}
	return estimator.New(cal), nil
}

// currentCalibration returns the configured profile, or the built-in ratios.
func currentCalibration(cfg appconfig.Config) (estimator.Calibration, error) {
	path := strings.TrimSpace(cfg.CalibrationFile)
	if path == "" {
		return estimator.DefaultCalibration(), nil
	}
	return estimator.LoadCalibration(path)
}

func generationOptions(cfg appconfig.Config) (providers.GenerationOptions, error) {
	opts := providers.DefaultGenerationOptions
	switch strings.ToLower(strings.TrimSpace(cfg.Sampling)) {
	case "", string(providers.SamplingGreedy):
	case string(providers.SamplingRandom):
		opts.Sampling = providers.SamplingRandom
	default:
		return opts, fmt.Errorf("unknown sampling mode %q (want greedy or random)", cfg.Sampling)
	}
	opts.Temperature = cfg.Temperature
	opts.MaxTokens = cfg.MaxTokens
	return opts, nil
}

func selectHosts(cfg appconfig.Config, name string) ([]appconfig.Host, error) {
	if strings.TrimSpace(name) == "" {
		return cfg.Hosts, nil
	}
	host, err := cfg.FindHost(name)
	if err != nil {
		return nil, err
	}
	return []appconfig.Host{host}, nil
}

type hostOutcome struct {
	host   appconfig.Host
	result benchmark.Result
	series *benchmark.Series
	err    error
}

func runBenchmark(cmd *cobra.Command, opts runOptions) error {
	cfg := *GetConfig()
	out := cmd.OutOrStdout()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	plan, err := newRunPlan(cfg)
	if err != nil {
		return err
	}
	hosts, err := selectHosts(cfg, opts.host)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, cfg)
	defer cancel()

	sinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logging.Error("failed to flush run sinks", "err", err)
		}
	}()

	capturer := newCapturer()
	if opts.trace {
		fmt.Fprintln(out, "Running benchmark with a trace recorder attached...")
		fmt.Fprintln(out, "Make sure the recorder is capturing this process!")
		fmt.Fprintln(out)
	} else {
		fmt.Fprint(out, report.Banner())
		fmt.Fprintln(out)
		fmt.Fprint(out, report.EnvironmentHeader(capturer.Capture(ctx)))
		fmt.Fprintln(out)
	}

	live := cfg.Live && !opts.trace && len(hosts) == 1 && plan.iterations == 1 && stdoutIsTerminal()
	if cfg.Live && !live {
		logging.Warn("live preview needs a terminal, a single host and a single iteration; continuing without it")
	}

	recorder := sinks.recorder()
	outcomes := make([]hostOutcome, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host appconfig.Host) {
			defer wg.Done()
			outcomes[i] = runHost(ctx, plan, host, capturer, recorder, live)
		}(i, host)
	}
	wg.Wait()

	multi := len(hosts) > 1
	var (
		errs        []error
		firstExport string
	)
	for _, o := range outcomes {
		if o.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.host.Identifier(), o.err))
			continue
		}

		jsonPath, mdPath := exportPaths(cfg, o.result, multi)
		if err := report.WriteJSON(jsonPath, o.result); err != nil {
			errs = append(errs, err)
			continue
		}
		if mdPath != "" {
			if err := report.WriteMarkdown(mdPath, o.result); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if firstExport == "" {
			firstExport = jsonPath
		}

		printOutcome(out, o, opts, multi)
		fmt.Fprintf(out, "Report written to %s\n", jsonPath)
		if mdPath != "" {
			fmt.Fprintf(out, "Markdown summary written to %s\n", mdPath)
		}
		fmt.Fprintln(out)

		if opts.reconcileProvider {
			reconcileProvider(out, sinks, o.result)
		}
	}

	if firstExport != "" {
		fmt.Fprint(out, report.TraceInstructions(binaryName(), firstExport, opts.trace))
	}
	return errors.Join(errs...)
}

func runHost(ctx context.Context, plan runPlan, host appconfig.Host, capturer environment.Capturer, recorder benchmark.Recorder, live bool) hostOutcome {
	outcome := hostOutcome{host: host}
	gen, err := newGenerator(host, plan.cfg)
	if err != nil {
		outcome.err = err
		return outcome
	}
	defer gen.Close()
	logging.LogEvent("benchmark start host=%s model=%s iterations=%d", host.Identifier(), host.Model(), plan.iterations)

	runner := benchmark.NewRunner(gen, benchmark.RunnerConfig{
		Prompt:  plan.prompt,
		Options: plan.options,
		Model:   host.Model(),
		Host:    host.Identifier(),
	},
		benchmark.WithAccumulator(plan.acc),
		benchmark.WithToolPolicy(plan.policy),
		benchmark.WithEnvironment(capturer),
		benchmark.WithRecorder(recorder),
	)

	switch {
	case plan.iterations > 1:
		series, err := runner.RunIterations(ctx, plan.iterations, nil)
		if err != nil {
			outcome.err = err
			return outcome
		}
		outcome.series = &series
		outcome.result = series.Iterations[len(series.Iterations)-1]
	case live:
		title := fmt.Sprintf("%s @ %s", valueOr(host.Model(), "default model"), host.Identifier())
		outcome.result, outcome.err = runLive(ctx, tui.Options{Title: title}, runner.Run)
	default:
		outcome.result, outcome.err = runner.Run(ctx, nil)
	}
	return outcome
}

// exportPaths returns the report destinations for result. With several
// hosts each report gets a host and model suffix.
func exportPaths(cfg appconfig.Config, result benchmark.Result, multi bool) (string, string) {
	jsonPath := cfg.ExportFile()
	mdPath := strings.TrimSpace(cfg.ExportMarkdownPath)
	if !multi {
		return jsonPath, mdPath
	}
	suffix := benchmark.Slugify(result.Host + "-" + result.Model)
	return withSuffix(jsonPath, suffix), withSuffix(mdPath, suffix)
}

func withSuffix(path, suffix string) string {
	if path == "" || suffix == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + suffix + ext
}

func printOutcome(out io.Writer, o hostOutcome, opts runOptions, multi bool) {
	if multi {
		fmt.Fprintln(out, report.Rule("-", 80))
		fmt.Fprintf(out, "%s @ %s\n", valueOr(o.result.Model, "default model"), o.host.Identifier())
	}
	if opts.trace {
		fmt.Fprintln(out, "\nBenchmark completed!")
	} else {
		fmt.Fprintln(out, "\nBenchmark completed successfully!")
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, report.MetricsSummary(o.result))
	if o.series != nil {
		fmt.Fprintln(out)
		fmt.Fprint(out, report.SeriesSummary(*o.series))
	}
	if !opts.trace {
		fmt.Fprintf(out, "\nResponse preview (first %d chars):\n", report.PreviewLength)
		fmt.Fprintf(out, "  %s\n", report.Preview(o.result.ResponseText, report.PreviewLength))
	}
	fmt.Fprintln(out)
}

// reconcileProvider compares the estimate with the backend's own counts.
func reconcileProvider(out io.Writer, s *sinks, result benchmark.Result) {
	usage := result.ProviderUsage
	if usage == nil {
		fmt.Fprintf(out, "%s did not report token usage; nothing to reconcile.\n\n", valueOr(result.Host, "The backend"))
		return
	}
	actual := reconcile.ActualTokenCounts{
		Prompt:   usage.PromptTokens,
		Response: usage.ResponseTokens,
		Total:    usage.Total(),
	}
	comparison := reconcile.Compare(result.Metrics, actual)
	reconcile.RenderActual(out, "provider-reported usage", actual)
	reconcile.RenderComparison(out, comparison)
	fmt.Fprintln(out)
	if err := s.recordComparison(result.ID, result.Model, "provider", actual, comparison); err != nil {
		logging.Error("failed to record reconciliation", "id", result.ID, "err", err)
	}
}

func binaryName() string {
	if len(os.Args) == 0 {
		return "tokentrace"
	}
	name := filepath.Base(os.Args[0])
	if name == "" || strings.HasSuffix(name, ".test") {
		return "tokentrace"
	}
	return "./" + name
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
