package benchmark

import (
	"context"
	"sync"
	"time"

	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/transcript"
)

// stepClock advances by step on every call.
type stepClock struct {
	mu    sync.Mutex
	base  time.Time
	step  time.Duration
	calls int
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{base: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

func (c *stepClock) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeGenerator struct {
	mu          sync.Mutex
	avail       providers.Availability
	snapshots   []providers.Snapshot
	extra       []transcript.Entry
	streamErr   error
	meta        providers.StreamMetadata
	sessions    int
	streamCalls int
	started     chan struct{}
	release     chan struct{}
}

func newFakeGenerator(snapshots ...providers.Snapshot) *fakeGenerator {
	return &fakeGenerator{avail: providers.Available(), snapshots: snapshots}
}

func (g *fakeGenerator) Availability(context.Context) providers.Availability { return g.avail }

func (g *fakeGenerator) NewSession(instructions string) providers.Session {
	g.mu.Lock()
	g.sessions++
	g.mu.Unlock()
	s := &fakeSession{g: g}
	if instructions != "" {
		s.log.Append(transcript.Instructions(instructions))
	}
	return s
}

func (g *fakeGenerator) Close() error { return nil }

func (g *fakeGenerator) counts() (sessions, streams int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions, g.streamCalls
}

type fakeSession struct {
	g   *fakeGenerator
	log transcript.Log
}

func (s *fakeSession) Stream(ctx context.Context, userPrompt string, _ providers.GenerationOptions, cb providers.StreamCallbacks) error {
	g := s.g
	g.mu.Lock()
	g.streamCalls++
	g.mu.Unlock()

	s.log.Append(transcript.Prompt(userPrompt))
	if g.started != nil {
		close(g.started)
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var last string
	for _, snap := range g.snapshots {
		if cb.OnSnapshot != nil {
			if err := cb.OnSnapshot(snap); err != nil {
				return err
			}
		}
		last = snap.Text()
	}
	if g.streamErr != nil {
		return g.streamErr
	}
	s.log.Append(g.extra...)
	if last != "" {
		s.log.Append(transcript.Response(transcript.TextSegment(last)))
	}
	if cb.OnComplete != nil {
		return cb.OnComplete(g.meta)
	}
	return nil
}

func (s *fakeSession) Transcript() []transcript.Entry { return s.log.Entries() }

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []Result
	failures []error
}

func (r *fakeRecorder) RecordRun(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, res)
}

func (r *fakeRecorder) RecordFailure(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}
