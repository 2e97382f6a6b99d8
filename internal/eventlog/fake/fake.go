// Package fake provides an in-memory eventlog.Sink for unit tests.
package fake

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/mbrock/sidecar/internal/eventlog"
)

// FakeSink records every entry in memory.
type FakeSink struct {
	mu      sync.RWMutex
	entries []eventlog.Record
	closed  bool
	failErr error
}

var _ eventlog.Sink = (*FakeSink)(nil)

// NewFakeSink creates a new FakeSink with empty state.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Write appends an entry.
func (f *FakeSink) Write(message string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return fmt.Errorf("sink closed")
	}
	if f.failErr != nil {
		return f.failErr
	}

	f.entries = append(f.entries, eventlog.Record{
		Timestamp: time.Now(),
		Message:   message,
		Fields:    maps.Clone(fields),
	})
	return nil
}

// FailWith makes subsequent writes return err. Pass nil to recover.
func (f *FakeSink) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// Close marks the sink closed. Further writes fail.
func (f *FakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSink) Closed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

// Entries returns a copy of all entries in write order.
func (f *FakeSink) Entries() []eventlog.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]eventlog.Record, len(f.entries))
	for i, e := range f.entries {
		e.Fields = maps.Clone(e.Fields)
		out[i] = e
	}
	return out
}

// Output returns the text of every output line written for fd, in order.
func (f *FakeSink) Output(fd int) []string {
	want := fmt.Sprintf("%d", fd)
	var lines []string
	for _, e := range f.Entries() {
		if eventlog.IsOutput(e.Fields) && e.Fields[eventlog.FieldFD] == want {
			lines = append(lines, e.Message)
		}
	}
	return lines
}

// Events returns every lifecycle entry of the given kind.
func (f *FakeSink) Events(kind string) []eventlog.Record {
	var out []eventlog.Record
	for _, e := range f.Entries() {
		if e.Fields[eventlog.FieldEvent] == kind {
			out = append(out, e)
		}
	}
	return out
}
