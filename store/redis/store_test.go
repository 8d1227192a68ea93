//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store/redis"
)

// setupTestStore starts a Redis container and returns a store over it.
func setupTestStore(t *testing.T) *redis.Store {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("container endpoint: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	s := redis.New(client, redis.WithBlockTimeout(100*time.Millisecond))
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	r := request.New("2025", "exam")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRequest(ctx, r); !errors.Is(err, bridge.ErrRequestExists) {
		t.Fatalf("duplicate: got %v, want ErrRequestExists", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(worker)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(worker)); !bridge.IsConflict(err) {
		t.Fatalf("stale claim: got %v, want conflict", err)
	}
	if _, err := s.ConditionalUpdate(ctx, r.ID, 2, request.Released()); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := s.GetRequest(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != request.StatusPending || got.Version != 3 || !got.ClaimedBy.IsNil() || got.ClaimedAt != nil {
		t.Fatalf("released record = %+v", got)
	}

	_, err = s.ConditionalUpdate(ctx, id.NewRequestID(), 1, request.Claim(worker))
	if !errors.Is(err, bridge.ErrRequestNotFound) {
		t.Fatalf("missing: got %v, want ErrRequestNotFound", err)
	}

	n, err := s.CountRequests(ctx, request.StatusPending)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	r := request.New("2025", "exam")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConditionalUpdate(ctx, r.ID, 1, request.Claim(id.NewWorkerID()))
			if err != nil && !bridge.IsConflict(err) {
				t.Errorf("claim: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestFeedAndCheckpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := setupTestStore(t)

	first := request.New("2025", "exam")
	second := request.New("2025", "lab")
	for _, r := range []*request.Request{first, second} {
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	src, err := s.OpenFeed(ctx, "")
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	ev, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Request.ID.String() != first.ID.String() {
		t.Fatalf("first event = %s, want %s", ev.Request.ID, first.ID)
	}
	_ = src.Close()

	if err := s.SaveCheckpoint(ctx, "bridge", ev.Cursor); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	cursor, err := s.LoadCheckpoint(ctx, "bridge")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}

	resumed, err := s.OpenFeed(ctx, cursor)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer resumed.Close()
	ev, err = resumed.Next(ctx)
	if err != nil {
		t.Fatalf("next resumed: %v", err)
	}
	if ev.Request.ID.String() != second.ID.String() {
		t.Fatalf("resumed event = %s, want %s", ev.Request.ID, second.ID)
	}
}

func TestReconcileEntries(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	e := &reconcile.Entry{
		ID:        id.NewReconcileID(),
		RequestID: id.NewRequestID(),
		RunID:     "run-3",
		Year:      "2025",
		Type:      "exam",
		Attempts:  1,
		Reason:    "write failed",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PushReconcile(ctx, e); err != nil {
		t.Fatalf("push: %v", err)
	}
	if n, err := s.CountReconcile(ctx, true); err != nil || n != 1 {
		t.Fatalf("open count = %d, %v", n, err)
	}
	if err := s.ResolveReconcile(ctx, e.ID, "checked"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	open, err := s.ListReconcile(ctx, reconcile.ListOpts{OpenOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("open entries = %d, want 0", len(open))
	}
	if err := s.ResolveReconcile(ctx, id.NewReconcileID(), "x"); !errors.Is(err, bridge.ErrReconcileNotFound) {
		t.Fatalf("resolve missing: got %v", err)
	}
}
