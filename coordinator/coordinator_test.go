package coordinator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/backend"
	"github.com/xraph/bridge/backend/stub"
	"github.com/xraph/bridge/backoff"
	"github.com/xraph/bridge/coordinator"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store/memory"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newCoordinator(st request.Store, client backend.Client, opts ...coordinator.Option) *coordinator.Coordinator {
	base := []coordinator.Option{
		coordinator.WithBackoff(backoff.NewConstant(0)),
		coordinator.WithSubmitTimeout(time.Second),
		coordinator.WithLogger(quietLogger()),
	}
	return coordinator.New(st, client, append(base, opts...)...)
}

func seed(t *testing.T, st *memory.Store) *request.Request {
	t.Helper()
	r := request.New("2024", "annual")
	if err := st.CreateRequest(context.Background(), r); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return r
}

func reload(t *testing.T, st request.Store, rid id.RequestID) *request.Request {
	t.Helper()
	r, err := st.GetRequest(context.Background(), rid)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	return r
}

func TestHandle_DispatchesPendingRequest(t *testing.T) {
	st := memory.New()
	client := stub.New(stub.Succeed("run-1"))
	c := newCoordinator(st, client)
	r := seed(t, st)

	outcome, err := c.Handle(context.Background(), r)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if outcome != coordinator.OutcomeDispatched {
		t.Fatalf("outcome = %s, want dispatched", outcome)
	}

	got := reload(t, st, r.ID)
	if got.Status != request.StatusProcessing || got.RunID != "run-1" {
		t.Errorf("record = %s/%q, want processing/run-1", got.Status, got.RunID)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3 (create, claim, dispatch)", got.Version)
	}
	if got.ClaimedBy.String() != c.WorkerID().String() {
		t.Errorf("claimed by %s, want %s", got.ClaimedBy, c.WorkerID())
	}

	calls := client.Calls()
	if len(calls) != 1 || calls[0].Params.Year != "2024" || calls[0].Params.Type != "annual" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestHandle_RetriesThenSucceeds(t *testing.T) {
	st := memory.New()
	client := stub.New(
		stub.Fail(backend.Transport(errors.New("connection reset"))),
		stub.Succeed("run-2"),
	)
	c := newCoordinator(st, client)
	r := seed(t, st)

	outcome, err := c.Handle(context.Background(), r)
	if err != nil || outcome != coordinator.OutcomeDispatched {
		t.Fatalf("Handle = %s, %v", outcome, err)
	}

	got := reload(t, st, r.ID)
	if got.RunID != "run-2" || got.Attempts != 2 {
		t.Errorf("record = %q after %d attempts, want run-2 after 2", got.RunID, got.Attempts)
	}
	if client.CallCount() != 2 {
		t.Errorf("calls = %d, want 2", client.CallCount())
	}
}

func TestHandle_FailureClassification(t *testing.T) {
	timeout := stub.Fail(backend.Timeout(context.DeadlineExceeded))
	tests := []struct {
		name      string
		client    *stub.Client
		wantCalls int
		wantKind  string
	}{
		{
			name:      "rejected fails on first attempt",
			client:    stub.New(stub.Fail(backend.Rejected(400, "bad year"))),
			wantCalls: 1,
			wantKind:  "rejected",
		},
		{
			name:      "timeouts exhaust attempts",
			client:    stub.New(timeout, timeout, timeout, stub.Succeed("too-late")),
			wantCalls: 3,
			wantKind:  "timeout",
		},
		{
			name:      "unclassified errors count as transport",
			client:    &stub.Client{Default: stub.Fail(errors.New("dial tcp: refused"))},
			wantCalls: 3,
			wantKind:  "dial tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			c := newCoordinator(st, tt.client, coordinator.WithMaxAttempts(3))
			r := seed(t, st)

			outcome, err := c.Handle(context.Background(), r)
			if err != nil || outcome != coordinator.OutcomeFailed {
				t.Fatalf("Handle = %s, %v; want failed", outcome, err)
			}

			got := reload(t, st, r.ID)
			if got.Status != request.StatusFailed {
				t.Fatalf("status = %s, want failed", got.Status)
			}
			if got.Attempts != tt.wantCalls || tt.client.CallCount() != tt.wantCalls {
				t.Errorf("attempts = %d, calls = %d, want %d", got.Attempts, tt.client.CallCount(), tt.wantCalls)
			}
			if got.RunID != "" || !strings.Contains(got.LastError, tt.wantKind) {
				t.Errorf("run id %q, last error %q, want mention of %q", got.RunID, got.LastError, tt.wantKind)
			}
		})
	}
}

func TestHandle_EmptyRunIDIsRejected(t *testing.T) {
	st := memory.New()
	var calls atomic.Int64
	client := backend.ClientFunc(func(context.Context, backend.Params) (string, error) {
		calls.Add(1)
		return "", nil
	})
	c := newCoordinator(st, client)
	r := seed(t, st)

	outcome, err := c.Handle(context.Background(), r)
	if err != nil || outcome != coordinator.OutcomeFailed {
		t.Fatalf("Handle = %s, %v; want failed", outcome, err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if got := reload(t, st, r.ID); !strings.Contains(got.LastError, "empty run id") {
		t.Errorf("last error = %q", got.LastError)
	}
}

func TestHandle_SkipsNonPendingSnapshots(t *testing.T) {
	st := memory.New()
	client := stub.New()
	c := newCoordinator(st, client)
	r := seed(t, st)

	if _, err := c.Handle(context.Background(), r); err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	for _, snap := range []*request.Request{reload(t, st, r.ID), r} {
		outcome, err := c.Handle(context.Background(), snap)
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if outcome != coordinator.OutcomeSkipped && outcome != coordinator.OutcomeConflict {
			t.Errorf("outcome = %s, want skipped or conflict", outcome)
		}
	}
	if client.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", client.CallCount())
	}
}

func TestHandle_ConcurrentDeliveriesSubmitOnce(t *testing.T) {
	st := memory.New()
	client := stub.New()
	client.Default = stub.Result{Delay: 10 * time.Millisecond}
	r := seed(t, st)

	const racers = 16
	outcomes := make([]coordinator.Outcome, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newCoordinator(st, client)
			outcomes[i], _ = c.Handle(context.Background(), r.Clone())
		}(i)
	}
	wg.Wait()

	dispatched, conflicts := 0, 0
	for _, o := range outcomes {
		switch o {
		case coordinator.OutcomeDispatched:
			dispatched++
		case coordinator.OutcomeConflict:
			conflicts++
		}
	}
	if dispatched != 1 || conflicts != racers-1 {
		t.Errorf("dispatched = %d, conflicts = %d", dispatched, conflicts)
	}
	if client.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", client.CallCount())
	}
}

func TestHandle_MissingRecordIsDropped(t *testing.T) {
	st := memory.New()
	client := stub.New()
	c := newCoordinator(st, client)

	ghost := request.New("2024", "annual")
	ghost.ID = id.NewRequestID()
	ghost.Status = request.StatusPending
	ghost.Version = 1

	outcome, err := c.Handle(context.Background(), ghost)
	if err != nil || outcome != coordinator.OutcomeDropped {
		t.Fatalf("Handle = %s, %v; want dropped", outcome, err)
	}
	if client.CallCount() != 0 {
		t.Errorf("calls = %d, want 0", client.CallCount())
	}
}

// flakyStore fails conditional updates once armed. A positive
// recordFailures limits how many outcome writes fail.
type flakyStore struct {
	*memory.Store
	failClaim      error
	failRecord     error
	recordFailures int32
	recordWrites   atomic.Int32
}

func (f *flakyStore) ConditionalUpdate(ctx context.Context, rid id.RequestID, v int64, p request.Patch) (*request.Request, error) {
	cur, err := f.Store.GetRequest(ctx, rid)
	if err == nil {
		if cur.Status == request.StatusPending && f.failClaim != nil {
			return nil, f.failClaim
		}
		if cur.Status == request.StatusDispatching && f.failRecord != nil {
			n := f.recordWrites.Add(1)
			if f.recordFailures == 0 || n <= f.recordFailures {
				return nil, f.failRecord
			}
		}
	}
	return f.Store.ConditionalUpdate(ctx, rid, v, p)
}

func TestHandle_StoreErrorOnClaimIsUnhandled(t *testing.T) {
	mem := memory.New()
	st := &flakyStore{Store: mem, failClaim: bridge.ErrStoreTransport}
	client := stub.New()
	c := newCoordinator(st, client)
	r := seed(t, mem)

	outcome, err := c.Handle(context.Background(), r)
	if outcome != coordinator.OutcomeUnhandled || !errors.Is(err, bridge.ErrStoreTransport) {
		t.Fatalf("Handle = %s, %v; want unhandled store error", outcome, err)
	}
	if client.CallCount() != 0 {
		t.Errorf("calls = %d, want 0", client.CallCount())
	}
}

type reconcileRecorder struct {
	mu      sync.Mutex
	entries []*reconcile.Entry
}

func (r *reconcileRecorder) Name() string { return "recorder" }

func (r *reconcileRecorder) OnReconciliationNeeded(_ context.Context, e *reconcile.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func TestHandle_UnrecordedDispatchNeedsReconciliation(t *testing.T) {
	mem := memory.New()
	st := &flakyStore{Store: mem, failRecord: bridge.ErrStoreTransport}
	client := stub.New(stub.Succeed("run-9"))

	rec := &reconcileRecorder{}
	registry := ext.NewRegistry(quietLogger())
	registry.Register(rec)

	c := newCoordinator(st, client,
		coordinator.WithReconciler(reconcile.NewService(mem, mem)),
		coordinator.WithExtensions(registry),
	)
	r := seed(t, mem)

	outcome, err := c.Handle(context.Background(), r)
	if outcome != coordinator.OutcomeReconcile {
		t.Fatalf("outcome = %s, want reconcile", outcome)
	}
	if !errors.Is(err, bridge.ErrReconciliationNeeded) || !errors.Is(err, bridge.ErrStoreTransport) {
		t.Fatalf("err = %v, want reconciliation needed wrapping the store error", err)
	}

	entries, err := mem.ListReconcile(context.Background(), reconcile.ListOpts{OpenOnly: true})
	if err != nil {
		t.Fatalf("ListReconcile: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "run-9" || entries[0].RequestID.String() != r.ID.String() {
		t.Fatalf("entries = %+v", entries)
	}
	if len(rec.entries) != 1 || rec.entries[0].ID.String() != entries[0].ID.String() {
		t.Errorf("hook saw %d entries", len(rec.entries))
	}

	got := reload(t, mem, r.ID)
	if got.Status != request.StatusDispatching || got.RunID != "" {
		t.Errorf("record = %s/%q, want dispatching without run id", got.Status, got.RunID)
	}
}

func TestHandle_ProcessingWriteIsRetried(t *testing.T) {
	mem := memory.New()
	st := &flakyStore{Store: mem, failRecord: bridge.ErrStoreTransport, recordFailures: 1}
	client := stub.New(stub.Succeed("run-A"))
	c := newCoordinator(st, client, coordinator.WithReconciler(reconcile.NewService(mem, mem)))
	r := seed(t, mem)

	outcome, err := c.Handle(context.Background(), r)
	if err != nil || outcome != coordinator.OutcomeDispatched {
		t.Fatalf("Handle = %s, %v; want dispatched", outcome, err)
	}
	if got := st.recordWrites.Load(); got != 2 {
		t.Errorf("processing writes = %d, want 2", got)
	}
	if client.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", client.CallCount())
	}
	if n, _ := mem.CountReconcile(context.Background(), true); n != 0 {
		t.Errorf("open entries = %d, want 0", n)
	}
	if got := reload(t, mem, r.ID); got.Status != request.StatusProcessing || got.RunID != "run-A" {
		t.Errorf("record = %s/%q, want processing/run-A", got.Status, got.RunID)
	}
}

func TestHandle_ProcessingWriteConflictIsNotRetried(t *testing.T) {
	mem := memory.New()
	st := &flakyStore{Store: mem, failRecord: bridge.ErrConflict}
	c := newCoordinator(st, stub.New(stub.Succeed("run-A")), coordinator.WithWriteAttempts(5))
	r := seed(t, mem)

	outcome, err := c.Handle(context.Background(), r)
	if outcome != coordinator.OutcomeReconcile || !errors.Is(err, bridge.ErrConflict) {
		t.Fatalf("Handle = %s, %v; want reconcile wrapping the conflict", outcome, err)
	}
	if got := st.recordWrites.Load(); got != 1 {
		t.Errorf("processing writes = %d, want 1", got)
	}
}

func TestHandle_CancelledRetryLeavesClaim(t *testing.T) {
	st := memory.New()
	client := stub.New()
	client.Default = stub.Fail(backend.Transport(errors.New("unreachable")))
	c := coordinator.New(st, client,
		coordinator.WithBackoff(backoff.NewConstant(time.Hour)),
		coordinator.WithLogger(quietLogger()),
	)
	r := seed(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan coordinator.Outcome, 1)
	go func() {
		o, _ := c.Handle(ctx, r)
		done <- o
	}()

	deadline := time.Now().Add(5 * time.Second)
	for client.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case o := <-done:
		if o != coordinator.OutcomeAbandoned {
			t.Errorf("outcome = %s, want abandoned", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Handle did not return after cancel")
	}

	if got := reload(t, st, r.ID); got.Status != request.StatusDispatching {
		t.Errorf("status = %s, want dispatching", got.Status)
	}
}

func TestOutcomeString(t *testing.T) {
	if coordinator.OutcomeReconcile.String() != "reconcile" {
		t.Errorf("got %q", coordinator.OutcomeReconcile.String())
	}
	if coordinator.Outcome(99).String() != "outcome(99)" {
		t.Errorf("got %q", coordinator.Outcome(99).String())
	}
}
