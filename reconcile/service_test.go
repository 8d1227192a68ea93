package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store/memory"
)

func claimedRequest(t *testing.T, s *memory.Store) *request.Request {
	t.Helper()
	ctx := context.Background()
	r := request.New("2025", "lab")
	if err := s.CreateRequest(ctx, r); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ConditionalUpdate(ctx, r.ID, r.Version, request.Claim(id.NewWorkerID()))
	if err != nil {
		t.Fatal(err)
	}
	return claimed
}

func TestService_Push(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := reconcile.NewService(s, s)

	r := claimedRequest(t, s)
	entry, err := svc.Push(ctx, r, "run-42", 2, errors.New("store timeout"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, err := s.GetReconcile(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != r.ID || got.RunID != "run-42" || got.Attempts != 2 {
		t.Errorf("entry = %+v", got)
	}
	if got.Reason != "store timeout" || got.Year != "2025" || got.Type != "lab" {
		t.Errorf("entry = %+v", got)
	}
	if !got.Open() {
		t.Error("new entry should be open")
	}
}

func TestService_ResolveApply(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := reconcile.NewService(s, s)

	r := claimedRequest(t, s)
	entry, err := svc.Push(ctx, r, "run-7", 1, errors.New("lost write"))
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.Resolve(ctx, entry.ID, true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Open() || resolved.Resolution != "processing applied" {
		t.Errorf("resolved = %+v", resolved)
	}

	got, _ := s.GetRequest(ctx, r.ID)
	if got.Status != request.StatusProcessing || got.RunID != "run-7" {
		t.Errorf("request = %s run=%q", got.Status, got.RunID)
	}

	// Resolving again is a no-op.
	again, err := svc.Resolve(ctx, entry.ID, true)
	if err != nil || again.Resolution != "processing applied" {
		t.Errorf("second resolve = %+v, %v", again, err)
	}
}

func TestService_ResolveLeavesMovedRecord(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	svc := reconcile.NewService(s, s)

	r := claimedRequest(t, s)
	entry, _ := svc.Push(ctx, r, "run-8", 1, errors.New("lost write"))

	if _, err := s.ConditionalUpdate(ctx, r.ID, r.Version, request.Failed("operator", 1)); err != nil {
		t.Fatal(err)
	}

	resolved, err := svc.Resolve(ctx, entry.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Resolution != "request already failed" {
		t.Errorf("resolution = %q", resolved.Resolution)
	}
	got, _ := s.GetRequest(ctx, r.ID)
	if got.RunID != "" {
		t.Errorf("run id written onto failed record: %q", got.RunID)
	}
}

func TestService_ResolveMissing(t *testing.T) {
	s := memory.New()
	svc := reconcile.NewService(s, s)
	if _, err := svc.Resolve(context.Background(), id.NewReconcileID(), false); !errors.Is(err, bridge.ErrReconcileNotFound) {
		t.Errorf("Resolve = %v, want ErrReconcileNotFound", err)
	}
}
