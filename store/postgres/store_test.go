//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("bridge_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr,
		postgres.WithLogger(slog.Default()),
		postgres.WithPollInterval(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// A second run is a no-op.
	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("second migrate: %v", migErr)
	}
	return store
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	r := request.New("2024", "annual")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := s.CreateRequest(ctx, r); !errors.Is(err, bridge.ErrRequestExists) {
		t.Errorf("duplicate create: err = %v", err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(worker))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Version != 2 || claimed.Status != request.StatusDispatching {
		t.Errorf("claimed = v%d %s", claimed.Version, claimed.Status)
	}

	if _, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID())); !bridge.IsConflict(err) {
		t.Errorf("stale claim: err = %v, want conflict", err)
	}

	done, err := s.ConditionalUpdate(ctx, r.ID, 2, request.Dispatched("run-7", 1))
	if err != nil {
		t.Fatalf("dispatched: %v", err)
	}

	got, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.RunID != "run-7" || got.Version != done.Version || got.ClaimedBy.String() != worker.String() {
		t.Errorf("got = %+v", got)
	}

	if _, err := s.GetRequest(ctx, id.NewRequestID()); !errors.Is(err, bridge.ErrRequestNotFound) {
		t.Errorf("missing: err = %v", err)
	}
	if _, err := s.ConditionalUpdate(ctx, id.NewRequestID(), 1, request.Completed()); !errors.Is(err, bridge.ErrRequestNotFound) {
		t.Errorf("missing update: err = %v", err)
	}

	n, err := s.CountRequests(ctx, request.StatusProcessing)
	if err != nil || n != 1 {
		t.Errorf("CountRequests = %d, %v", n, err)
	}
	list, err := s.ListRequests(ctx, request.ListOpts{Status: request.StatusProcessing, Limit: 10})
	if err != nil || len(list) != 1 {
		t.Errorf("ListRequests = %d, %v", len(list), err)
	}
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	r := request.New("2024", "annual")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID()))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case bridge.IsConflict(err):
				conflicts++
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != racers-1 {
		t.Errorf("wins = %d, conflicts = %d", wins, conflicts)
	}
}

// ──────────────────────────────────────────────────
// Feed
// ──────────────────────────────────────────────────

func TestFeedDeliversInsertsAndResumes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := setupTestStore(t)

	first := request.New("2024", "annual")
	if err := s.CreateRequest(ctx, first); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	src, err := s.OpenFeed(ctx, "")
	if err != nil {
		t.Fatalf("OpenFeed: %v", err)
	}
	ev, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Request.ID.String() != first.ID.String() || ev.Request.Status != request.StatusPending || ev.Request.Version != 1 {
		t.Errorf("event = %+v", ev.Request)
	}

	// A blocked reader wakes on NOTIFY.
	second := request.New("2025", "annual")
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = s.CreateRequest(context.Background(), second)
	}()
	ev2, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev2.Request.ID.String() != second.ID.String() {
		t.Errorf("second event = %s", ev2.Request.ID)
	}
	_ = src.Close()
	if _, err := src.Next(ctx); !errors.Is(err, bridge.ErrFeedClosed) {
		t.Errorf("Next after Close = %v", err)
	}

	if err := s.SaveCheckpoint(ctx, "c", ev.Cursor); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	cp, err := s.LoadCheckpoint(ctx, "c")
	if err != nil || cp != ev.Cursor {
		t.Fatalf("LoadCheckpoint = %q, %v", cp, err)
	}
	resumed, err := s.OpenFeed(ctx, cp)
	if err != nil {
		t.Fatalf("OpenFeed: %v", err)
	}
	defer resumed.Close()
	ev3, err := resumed.Next(ctx)
	if err != nil || ev3.Request.ID.String() != second.ID.String() {
		t.Errorf("resumed event = %v, %v", ev3.Request, err)
	}

	if _, err := s.OpenFeed(ctx, feed.Cursor("nope")); !errors.Is(err, bridge.ErrInvalidCursor) {
		t.Errorf("bad cursor: err = %v", err)
	}
}

// ──────────────────────────────────────────────────
// Reconcile
// ──────────────────────────────────────────────────

func TestReconcileEntries(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	e := &reconcile.Entry{
		ID:        id.NewReconcileID(),
		RequestID: id.NewRequestID(),
		RunID:     "run-1",
		Year:      "2024",
		Type:      "annual",
		Attempts:  2,
		Reason:    "write timed out",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PushReconcile(ctx, e); err != nil {
		t.Fatalf("PushReconcile: %v", err)
	}

	open, err := s.ListReconcile(ctx, reconcile.ListOpts{OpenOnly: true})
	if err != nil || len(open) != 1 || open[0].RunID != "run-1" {
		t.Fatalf("ListReconcile = %v, %v", open, err)
	}

	if err := s.ResolveReconcile(ctx, e.ID, "acknowledged"); err != nil {
		t.Fatalf("ResolveReconcile: %v", err)
	}
	got, err := s.GetReconcile(ctx, e.ID)
	if err != nil || got.Open() || got.Resolution != "acknowledged" {
		t.Errorf("GetReconcile = %+v, %v", got, err)
	}
	if n, _ := s.CountReconcile(ctx, true); n != 0 {
		t.Errorf("open count = %d", n)
	}
	if err := s.ResolveReconcile(ctx, id.NewReconcileID(), "x"); !errors.Is(err, bridge.ErrReconcileNotFound) {
		t.Errorf("missing resolve: err = %v", err)
	}
}

func TestForeignRowsFlowThroughFeedAndLists(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s := setupTestStore(t)

	if _, err := s.Pool().Exec(ctx,
		`INSERT INTO bridge_requests (id, year, type) VALUES ('doc-abc123', '1st Year', 'exam')`,
	); err != nil {
		t.Fatalf("insert foreign row: %v", err)
	}
	native := request.New("2025", "annual")
	if err := s.CreateRequest(ctx, native); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	list, err := s.ListRequests(ctx, request.ListOpts{Status: request.StatusPending})
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d records, want 2", len(list))
	}

	src, err := s.OpenFeed(ctx, "")
	if err != nil {
		t.Fatalf("OpenFeed: %v", err)
	}
	defer src.Close()
	for _, want := range []string{"doc-abc123", native.ID.String()} {
		ev, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ev.Request.ID.String() != want {
			t.Fatalf("event = %s, want %s", ev.Request.ID, want)
		}
	}

	foreign, err := s.GetRequest(ctx, id.FromString("doc-abc123"))
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	claimed, err := s.ConditionalUpdate(ctx, foreign.ID, foreign.Version, request.Claim(id.NewWorkerID()))
	if err != nil {
		t.Fatalf("claim foreign row: %v", err)
	}
	if claimed.Status != request.StatusDispatching || claimed.Year != "1st Year" {
		t.Errorf("claimed = %+v", claimed)
	}
}
