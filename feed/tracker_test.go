package feed_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/xraph/bridge/feed"
)

func TestTracker_OutOfOrderAcks(t *testing.T) {
	tr := feed.NewTracker("c0")
	for _, c := range []feed.Cursor{"c1", "c2", "c3", "c4"} {
		tr.Deliver(c)
	}

	steps := []struct {
		ack      feed.Cursor
		safe     feed.Cursor
		inFlight int
	}{
		{"c3", "c0", 4},
		{"c2", "c0", 4},
		{"c1", "c3", 1},
		{"nope", "c3", 1},
		{"c4", "c4", 0},
	}
	for _, s := range steps {
		tr.Ack(s.ack)
		if got := tr.Safe(); got != s.safe {
			t.Errorf("after ack %s: Safe() = %q, want %q", s.ack, got, s.safe)
		}
		if got := tr.InFlight(); got != s.inFlight {
			t.Errorf("after ack %s: InFlight() = %d, want %d", s.ack, got, s.inFlight)
		}
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := feed.NewTracker("")
	const n = 200
	cursors := make([]feed.Cursor, n)
	for i := range n {
		cursors[i] = feed.Cursor(fmt.Sprintf("%06d", i))
		tr.Deliver(cursors[i])
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(c feed.Cursor) {
			defer wg.Done()
			tr.Ack(c)
		}(cursors[i])
	}
	wg.Wait()

	if got := tr.Safe(); got != cursors[n-1] {
		t.Errorf("Safe() = %q, want %q", got, cursors[n-1])
	}
	if tr.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", tr.InFlight())
	}
}
