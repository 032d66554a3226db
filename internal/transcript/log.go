package transcript

import "sync"

// Log is an append-only transcript shared between a streaming session and
// the reader of its final transcript.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds entries in arrival order.
func (l *Log) Append(entries ...Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

// Entries returns a copy of the recorded entries.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
