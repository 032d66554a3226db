// internal/tui/live.go
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/tokentrace/internal/benchmark"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

type (
	// snapshotMsg carries the latest cumulative response text.
	snapshotMsg string
	// doneMsg ends the preview.
	doneMsg struct {
		result benchmark.Result
		err    error
	}
	tickMsg time.Time
)

// liveModel previews a streaming run: a spinner and elapsed time while the
// response grows in a viewport.
type liveModel struct {
	title    string
	spinner  spinner.Model
	viewport viewport.Model
	started  time.Time
	now      func() time.Time

	content   string
	snapshots int
	done      bool
	result    benchmark.Result
	err       error
	cancelled bool
	cancel    context.CancelFunc
}

func newLiveModel(title string, now func() time.Time, cancel context.CancelFunc) *liveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	vp := viewport.New(100, 5)
	return &liveModel{
		title:    title,
		spinner:  s,
		viewport: vp,
		started:  now(),
		now:      now,
		cancel:   cancel,
	}
}

// Init satisfies the tea.Model interface.
func (m *liveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update routes stream and key messages.
func (m *liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 2
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 3)
		m.viewport.SetContent(m.content)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snapshots++
		m.content = string(msg)
		m.viewport.SetContent(m.content)
		m.viewport.GotoBottom()
		return m, nil

	case doneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

// View renders the header, the streamed text and a status line.
func (m *liveModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	elapsed := m.now().Sub(m.started).Seconds()
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Failed after %.1fs: %v", elapsed, m.err)))
	case m.done:
		b.WriteString(doneStyle.Render(fmt.Sprintf("Done in %.2fs", m.result.Metrics.Duration)))
	default:
		status := fmt.Sprintf("%s Streaming... %.1fs  %d chars", m.spinner.View(), elapsed, len([]rune(m.content)))
		b.WriteString(statusStyle.Render(status))
		b.WriteString("  ")
		b.WriteString(helpStyle.Render("q to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

// RunFunc performs one benchmark run, reporting partial text through onPartial.
type RunFunc func(ctx context.Context, onPartial func(string)) (benchmark.Result, error)

// Options configures the live preview program.
type Options struct {
	Title  string
	Input  io.Reader
	Output io.Writer
}

// Run executes run behind a live preview and returns its outcome. Quitting
// the preview cancels the run.
func Run(ctx context.Context, opts Options, run RunFunc) (benchmark.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newLiveModel(opts.Title, time.Now, cancel)
	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}
	p := tea.NewProgram(m, programOpts...)

	outcome := make(chan doneMsg, 1)
	go func() {
		result, err := run(ctx, func(text string) {
			p.Send(snapshotMsg(text))
		})
		msg := doneMsg{result: result, err: err}
		outcome <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-outcome
		return benchmark.Result{}, fmt.Errorf("live preview: %w", err)
	}
	cancel()
	done := <-outcome
	return done.result, done.err
}
