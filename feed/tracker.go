package feed

import "sync"

// Tracker computes the checkpoint for events handled out of order.
//
// Events are registered with Deliver in feed order and may be acknowledged
// in any order. Safe returns the newest cursor whose predecessors are all
// acknowledged, so a restart from it never skips an unhandled event.
type Tracker struct {
	mu      sync.Mutex
	pending []*trackedEvent
	index   map[Cursor]*trackedEvent
	safe    Cursor
}

type trackedEvent struct {
	cursor Cursor
	acked  bool
}

// NewTracker returns a tracker starting at from.
func NewTracker(from Cursor) *Tracker {
	return &Tracker{index: make(map[Cursor]*trackedEvent), safe: from}
}

// Deliver registers an event in feed order.
func (t *Tracker) Deliver(c Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &trackedEvent{cursor: c}
	t.pending = append(t.pending, e)
	t.index[c] = e
}

// Ack marks an event handled. Unknown cursors are ignored.
func (t *Tracker) Ack(c Cursor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.index[c]
	if !ok {
		return
	}
	e.acked = true

	n := 0
	for n < len(t.pending) && t.pending[n].acked {
		delete(t.index, t.pending[n].cursor)
		t.safe = t.pending[n].cursor
		n++
	}
	if n > 0 {
		t.pending = append(t.pending[:0:0], t.pending[n:]...)
	}
}

// Safe returns the current checkpoint.
func (t *Tracker) Safe() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.safe
}

// InFlight returns the number of delivered events not yet covered by Safe.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
