package benchmark

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mwiater/tokentrace/internal/environment"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/transcript"
)

// State is the lifecycle position of a Runner.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Recorder observes finished runs.
type Recorder interface {
	RecordRun(Result)
	RecordFailure(model string, err error)
}

// RunnerConfig is what a Runner sends.
type RunnerConfig struct {
	Prompt  Prompt
	Options providers.GenerationOptions
	Model   string
	Host    string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithEnvironment sets the environment capturer. Defaults to environment.SystemCapturer.
func WithEnvironment(c environment.Capturer) Option {
	return func(r *Runner) { r.env = c }
}

// WithAccumulator sets the transcript accumulator, and with it the calibration.
func WithAccumulator(a *transcript.Accumulator) Option {
	return func(r *Runner) { r.acc = a }
}

// WithToolPolicy sets how tool entries count toward the prompt and response totals.
func WithToolPolicy(p transcript.ToolPolicy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithRecorder attaches a run recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// Runner times one prompt against one generator. At most one run is in
// flight per Runner; concurrent calls get ErrRunInProgress.
type Runner struct {
	gen      providers.Generator
	cfg      RunnerConfig
	now      func() time.Time
	env      environment.Capturer
	acc      *transcript.Accumulator
	policy   transcript.ToolPolicy
	recorder Recorder

	mu    sync.Mutex
	state State
}

// NewRunner returns an idle Runner.
func NewRunner(gen providers.Generator, cfg RunnerConfig, opts ...Option) *Runner {
	r := &Runner{
		gen:    gen,
		cfg:    cfg,
		now:    time.Now,
		env:    environment.SystemCapturer{},
		policy: transcript.ToolsExcluded,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.acc == nil {
		r.acc = transcript.NewAccumulator(nil, transcript.DefaultOverheads())
	}
	return r
}

// State returns the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return ErrRunInProgress
	}
	r.state = StateRunning
	return nil
}

func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateFailed
		return
	}
	r.state = StateCompleted
}

// Run executes one benchmark. onPartial, when set, receives the accumulated
// response after each snapshot; it runs after the first-token timestamp is
// taken and delays only later snapshots.
func (r *Runner) Run(ctx context.Context, onPartial func(string)) (Result, error) {
	if err := r.begin(); err != nil {
		return Result{}, err
	}
	result, err := r.run(ctx, onPartial)
	r.finish(err)

	if err != nil {
		logging.Debug("benchmark run failed", "model", r.cfg.Model, "host", r.cfg.Host, "err", err)
		if r.recorder != nil {
			r.recorder.RecordFailure(r.cfg.Model, err)
		}
		return Result{}, err
	}
	logging.Info("benchmark run completed",
		"model", result.Model,
		"host", result.Host,
		"duration", result.Metrics.Duration,
		"totalTokenEstimate", result.Metrics.TotalTokenEstimate)
	if r.recorder != nil {
		r.recorder.RecordRun(result)
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, onPartial func(string)) (Result, error) {
	if avail := r.gen.Availability(ctx); !avail.Available {
		return Result{}, &ModelUnavailableError{Reason: avail.Reason}
	}

	session := r.gen.NewSession(r.cfg.Prompt.Instructions)
	start := r.now()

	var (
		firstToken *time.Time
		response   string
		meta       providers.StreamMetadata
	)
	err := session.Stream(ctx, r.cfg.Prompt.UserPrompt, r.cfg.Options, providers.StreamCallbacks{
		OnSnapshot: func(s providers.Snapshot) error {
			if firstToken == nil {
				t := r.now()
				firstToken = &t
				logging.Debug("first snapshot received", "model", r.cfg.Model, "after", t.Sub(start))
			}
			response = s.Text()
			if onPartial != nil {
				onPartial(response)
			}
			return nil
		},
		OnComplete: func(m providers.StreamMetadata) error {
			meta = m
			return nil
		},
	})
	if err != nil {
		return Result{}, &StreamError{Err: err}
	}

	if strings.TrimSpace(response) == "" {
		return Result{}, ErrEmptyResponse
	}
	end := r.now()

	promptTokens, responseTokens := r.acc.Totals(session.Transcript(), r.policy)

	var ttft *time.Duration
	if firstToken != nil {
		d := firstToken.Sub(start)
		ttft = &d
	}

	model := r.cfg.Model
	if model == "" {
		model = meta.Model
	}
	result := Result{
		ID:           uuid.NewString(),
		Model:        model,
		Host:         r.cfg.Host,
		Prompt:       r.cfg.Prompt,
		Metrics:      NewMetrics(start, end, ttft, promptTokens, responseTokens),
		Environment:  r.env.Capture(ctx),
		ResponseText: response,
	}
	if meta.HasUsage() {
		result.ProviderUsage = &ProviderUsage{
			PromptTokens:   meta.PromptEvalCount,
			ResponseTokens: meta.EvalCount,
		}
	}
	return result, nil
}
