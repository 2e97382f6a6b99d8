package server

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/mbrock/sidecar/internal/eventlog"
)

// subscriberBuffer is how many entries a slow client may lag behind before
// entries are dropped for it.
const subscriberBuffer = 256

var errHubClosed = errors.New("hub closed")

// Hub is an eventlog.Sink that keeps the most recent entries and fans new
// ones out to subscribers. A subscriber that falls behind loses entries; it
// never blocks the backend's output drain.
type Hub struct {
	mu      sync.Mutex
	backlog []eventlog.Record
	size    int
	next    int
	full    bool
	subs    []chan eventlog.Record
	closed  bool
	dropped int
}

var _ eventlog.Sink = (*Hub)(nil)

// NewHub creates a Hub retaining up to size entries for new subscribers.
func NewHub(size int) *Hub {
	if size < 0 {
		size = 0
	}
	return &Hub{size: size, backlog: make([]eventlog.Record, size)}
}

// Write records an entry and delivers it to every subscriber.
func (h *Hub) Write(message string, fields map[string]string) error {
	rec := eventlog.Record{
		Timestamp: time.Now(),
		Message:   message,
		Fields:    maps.Clone(fields),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}

	if h.size > 0 {
		h.backlog[h.next] = rec
		h.next = (h.next + 1) % h.size
		if h.next == 0 {
			h.full = true
		}
	}

	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			// Channel full, skip
			h.dropped++
		}
	}
	return nil
}

// Backlog returns the retained entries, oldest first.
func (h *Hub) Backlog() []eventlog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backlogLocked()
}

func (h *Hub) backlogLocked() []eventlog.Record {
	if !h.full {
		return append([]eventlog.Record(nil), h.backlog[:h.next]...)
	}
	out := make([]eventlog.Record, 0, h.size)
	out = append(out, h.backlog[h.next:]...)
	return append(out, h.backlog[:h.next]...)
}

// Subscribe returns the current backlog and a channel receiving every later
// entry. The channel is closed when ctx ends or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context) ([]eventlog.Record, <-chan eventlog.Record) {
	ch := make(chan eventlog.Record, subscriberBuffer)

	h.mu.Lock()
	backlog := h.backlogLocked()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return backlog, ch
	}
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	// Clean up subscription when context is cancelled
	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subs {
			if sub == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return backlog, ch
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close ends every subscription. Further writes fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
	return nil
}
