package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store"
	"github.com/xraph/bridge/store/memory"
)

var _ store.Store = (*memory.Store)(nil)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	r := request.New("2025", "lab")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if r.Version != 1 {
		t.Errorf("Version = %d, want 1", r.Version)
	}

	got, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.Year != "2025" || got.Type != "lab" || got.Status != request.StatusPending {
		t.Errorf("got %+v", got)
	}

	if err := s.CreateRequest(ctx, r); !errors.Is(err, bridge.ErrRequestExists) {
		t.Errorf("duplicate create = %v, want ErrRequestExists", err)
	}
	if _, err := s.GetRequest(ctx, id.NewRequestID()); !errors.Is(err, bridge.ErrRequestNotFound) {
		t.Errorf("missing get = %v, want ErrRequestNotFound", err)
	}
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	r := request.New("2025", "general")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID()))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Version != 2 || claimed.Status != request.StatusDispatching {
		t.Errorf("claimed = %s/v%d", claimed.Status, claimed.Version)
	}

	if _, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID())); !errors.Is(err, bridge.ErrConflict) {
		t.Errorf("stale claim = %v, want ErrConflict", err)
	}
	if _, err := s.ConditionalUpdate(ctx, id.NewRequestID(), 1, request.Completed()); !errors.Is(err, bridge.ErrRequestNotFound) {
		t.Errorf("missing update = %v, want ErrRequestNotFound", err)
	}

	// A rejected patch leaves the record untouched.
	if _, err := s.ConditionalUpdate(ctx, r.ID, 2, request.Completed()); !errors.Is(err, bridge.ErrInvalidTransition) {
		t.Errorf("illegal transition = %v, want ErrInvalidTransition", err)
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.Version != 2 || got.Status != request.StatusDispatching {
		t.Errorf("after rejected patch: %s/v%d", got.Status, got.Version)
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	r := request.New("2025", "lab")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatal(err)
	}

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID()))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, bridge.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || conflicts.Load() != 31 {
		t.Errorf("wins=%d conflicts=%d, want 1/31", wins.Load(), conflicts.Load())
	}
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return clock }))

	var ids []id.RequestID
	for i := range 4 {
		clock = clock.Add(time.Minute)
		r := request.New("2025", []string{"lab", "general", "depart", "lab"}[i])
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, r.ID)
	}
	clock = clock.Add(time.Minute)
	if _, err := s.ConditionalUpdate(ctx, ids[0], 1, request.Claim(id.NewWorkerID())); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListRequests(ctx, request.ListOpts{Status: request.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 || pending[0].ID != ids[1] {
		t.Errorf("pending = %d records, first %v", len(pending), pending[0].ID)
	}

	old, _ := s.ListRequests(ctx, request.ListOpts{UpdatedBefore: time.Date(2025, 3, 1, 0, 2, 30, 0, time.UTC)})
	if len(old) != 1 || old[0].ID != ids[1] {
		t.Errorf("UpdatedBefore returned %d records", len(old))
	}

	paged, _ := s.ListRequests(ctx, request.ListOpts{Offset: 1, Limit: 2})
	if len(paged) != 2 || paged[0].ID != ids[2] {
		t.Errorf("paged = %d records", len(paged))
	}

	if n, _ := s.CountRequests(ctx, ""); n != 4 {
		t.Errorf("CountRequests(all) = %d, want 4", n)
	}
	if n, _ := s.CountRequests(ctx, request.StatusDispatching); n != 1 {
		t.Errorf("CountRequests(dispatching) = %d, want 1", n)
	}
}

func TestFeedOrderAndResume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := memory.New()

	var created []id.RequestID
	for _, typ := range []string{"lab", "general", "depart"} {
		r := request.New("2025", typ)
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatal(err)
		}
		created = append(created, r.ID)
	}

	src, err := s.OpenFeed(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	first, _ := src.Next(ctx)
	second, _ := src.Next(ctx)
	if first.Request.ID != created[0] || second.Request.ID != created[1] {
		t.Fatalf("feed order mismatch")
	}
	if first.Request.Status != request.StatusPending {
		t.Errorf("snapshot status = %s", first.Request.Status)
	}
	_ = src.Close()
	if _, err := src.Next(ctx); !errors.Is(err, bridge.ErrFeedClosed) {
		t.Errorf("Next after Close = %v, want ErrFeedClosed", err)
	}

	if err := s.SaveCheckpoint(ctx, "c", first.Cursor); err != nil {
		t.Fatal(err)
	}
	cur, _ := s.LoadCheckpoint(ctx, "c")
	resumed, err := s.OpenFeed(ctx, cur)
	if err != nil {
		t.Fatal(err)
	}
	defer resumed.Close()
	ev, _ := resumed.Next(ctx)
	if ev.Request.ID != created[1] {
		t.Errorf("resumed at %v, want %v", ev.Request.ID, created[1])
	}

	if _, err := s.OpenFeed(ctx, "bogus"); !errors.Is(err, bridge.ErrInvalidCursor) {
		t.Errorf("OpenFeed(bogus) = %v, want ErrInvalidCursor", err)
	}
}

func TestFeedBlocksUntilCreate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := memory.New()

	src, _ := s.OpenFeed(ctx, "")
	defer src.Close()

	got := make(chan feed.Event, 1)
	go func() {
		ev, err := src.Next(ctx)
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	r := request.New("2026", "lab")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-got:
		if ev.Request.ID != r.ID {
			t.Errorf("got %v, want %v", ev.Request.ID, r.ID)
		}
	case <-ctx.Done():
		t.Fatal("Next did not wake on create")
	}

	short, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	if _, err := src.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("idle Next = %v, want DeadlineExceeded", err)
	}
}

func TestReconcileStore(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	e := &reconcile.Entry{ID: id.NewReconcileID(), RequestID: id.NewRequestID(), RunID: "run-9", CreatedAt: time.Now()}
	if err := s.PushReconcile(ctx, e); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountReconcile(ctx, true); n != 1 {
		t.Errorf("open count = %d, want 1", n)
	}
	if err := s.ResolveReconcile(ctx, e.ID, "fixed by hand"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetReconcile(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Open() || got.Resolution != "fixed by hand" {
		t.Errorf("got %+v", got)
	}
	if open, _ := s.ListReconcile(ctx, reconcile.ListOpts{OpenOnly: true}); len(open) != 0 {
		t.Errorf("open list = %d, want 0", len(open))
	}
	if err := s.ResolveReconcile(ctx, id.NewReconcileID(), ""); !errors.Is(err, bridge.ErrReconcileNotFound) {
		t.Errorf("resolve missing = %v", err)
	}
}
