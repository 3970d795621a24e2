package runlog

import (
	"sync"
	"time"
)

// DefaultCapacity is the progress feed size when none is given.
const DefaultCapacity = 200

// Message is one timestamped progress line.
type Message struct {
	TS   time.Time `json:"ts"`
	Text string    `json:"msg"`
}

// Progress is a bounded in-memory feed of human-readable run updates,
// plus the single-run exclusivity flag. Safe for concurrent use.
type Progress struct {
	mu      sync.Mutex
	msgs    []Message
	cap     int
	running bool
}

// NewProgress returns a feed keeping the last capacity messages.
func NewProgress(capacity int) *Progress {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Progress{cap: capacity}
}

// Add appends a message, evicting the oldest once the feed is full.
func (p *Progress) Add(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, Message{TS: time.Now().UTC(), Text: text})
	if len(p.msgs) > p.cap {
		p.msgs = p.msgs[len(p.msgs)-p.cap:]
	}
}

// Messages returns a copy of the feed, oldest first.
func (p *Progress) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// TryStart claims the running flag. Returns false when a run is already
// in flight; the caller must skip this cycle.
func (p *Progress) TryStart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

// Done releases the running flag. Must be called from a deferred cleanup
// path so a crashed run never wedges the scheduler.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
}

// Running reports whether a run is in flight.
func (p *Progress) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
