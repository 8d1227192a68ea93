package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/bridge/audit_hook"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestRequest() *request.Request {
	r := request.New("2025", "lab")
	r.Status = request.StatusDispatching
	r.ClaimedBy = id.NewWorkerID()
	r.Attempts = 2
	r.RunID = "run-42"
	return r
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_RequestClaimed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newTestRequest()

	if err := e.OnRequestClaimed(context.Background(), r); err != nil {
		t.Fatalf("OnRequestClaimed: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionRequestClaimed {
		t.Errorf("Action: want %q, got %q", ah.ActionRequestClaimed, evt.Action)
	}
	if evt.Resource != ah.ResourceRequest {
		t.Errorf("Resource: want %q, got %q", ah.ResourceRequest, evt.Resource)
	}
	if evt.Category != ah.CategoryDispatch {
		t.Errorf("Category: want %q, got %q", ah.CategoryDispatch, evt.Category)
	}
	if evt.ResourceID != r.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", r.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["worker_id"] != r.ClaimedBy.String() {
		t.Errorf("Metadata[worker_id]: want %q, got %v", r.ClaimedBy.String(), evt.Metadata["worker_id"])
	}
	if evt.Metadata["year"] != "2025" || evt.Metadata["type"] != "lab" {
		t.Errorf("Metadata year/type: got %v/%v", evt.Metadata["year"], evt.Metadata["type"])
	}
}

func TestExtension_SubmitRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	err := e.OnSubmitRetrying(context.Background(), newTestRequest(), 1, 750*time.Millisecond, errors.New("503"))
	if err != nil {
		t.Fatalf("OnSubmitRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionSubmitRetrying {
		t.Errorf("Action: want %q, got %q", ah.ActionSubmitRetrying, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["attempt"] != 1 {
		t.Errorf("Metadata[attempt]: want 1, got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["delay_ms"] != int64(750) {
		t.Errorf("Metadata[delay_ms]: want 750, got %v", evt.Metadata["delay_ms"])
	}
	if evt.Reason != "503" {
		t.Errorf("Reason: want %q, got %q", "503", evt.Reason)
	}
}

func TestExtension_RequestDispatched(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnRequestDispatched(context.Background(), newTestRequest(), 150*time.Millisecond); err != nil {
		t.Fatalf("OnRequestDispatched: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRequestDispatched {
		t.Errorf("Action: want %q, got %q", ah.ActionRequestDispatched, evt.Action)
	}
	if evt.Metadata["run_id"] != "run-42" {
		t.Errorf("Metadata[run_id]: want %q, got %v", "run-42", evt.Metadata["run_id"])
	}
	if evt.Metadata["elapsed_ms"] != int64(150) {
		t.Errorf("Metadata[elapsed_ms]: want 150, got %v", evt.Metadata["elapsed_ms"])
	}
	if evt.Metadata["attempts"] != 2 {
		t.Errorf("Metadata[attempts]: want 2, got %v", evt.Metadata["attempts"])
	}
}

func TestExtension_RequestFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnRequestFailed(context.Background(), newTestRequest(), errors.New("rejected: bad year")); err != nil {
		t.Fatalf("OnRequestFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["error"] != "rejected: bad year" {
		t.Errorf("Metadata[error]: got %v", evt.Metadata["error"])
	}
}

func TestExtension_RequestReclaimed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnRequestReclaimed(context.Background(), newTestRequest()); err != nil {
		t.Fatalf("OnRequestReclaimed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRequestReclaimed {
		t.Errorf("Action: want %q, got %q", ah.ActionRequestReclaimed, evt.Action)
	}
	if evt.Category != ah.CategoryRecovery {
		t.Errorf("Category: want %q, got %q", ah.CategoryRecovery, evt.Category)
	}
}

func TestExtension_ReconciliationNeeded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	entry := &reconcile.Entry{
		ID:        id.NewReconcileID(),
		RequestID: id.NewRequestID(),
		RunID:     "run-7",
		Attempts:  1,
		Reason:    "store unavailable",
	}
	if err := e.OnReconciliationNeeded(context.Background(), entry); err != nil {
		t.Fatalf("OnReconciliationNeeded: %v", err)
	}

	evt := rec.last()
	if evt.Resource != ah.ResourceReconcile {
		t.Errorf("Resource: want %q, got %q", ah.ResourceReconcile, evt.Resource)
	}
	if evt.ResourceID != entry.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", entry.ID.String(), evt.ResourceID)
	}
	if evt.Metadata["request_id"] != entry.RequestID.String() {
		t.Errorf("Metadata[request_id]: got %v", evt.Metadata["request_id"])
	}
	if evt.Reason != "store unavailable" {
		t.Errorf("Reason: want %q, got %q", "store unavailable", evt.Reason)
	}
}

// ── Filtering ────────────────────────────────────────

func TestExtension_SkipsOffByDefault(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	_ = e.OnRequestSkipped(context.Background(), newTestRequest(), ext.SkipConflict)
	if rec.count() != 0 {
		t.Fatalf("expected no events, got %d", rec.count())
	}

	e = ah.New(rec, ah.WithSkips())
	_ = e.OnRequestSkipped(context.Background(), newTestRequest(), ext.SkipConflict)
	evt := rec.last()
	if evt == nil || evt.Metadata["skip_reason"] != "conflict" {
		t.Fatalf("expected skipped event with reason conflict, got %+v", evt)
	}
	if evt.Outcome != ah.OutcomeSkipped {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSkipped, evt.Outcome)
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionRequestFailed, ah.ActionRequestSkipped))
	ctx := context.Background()
	r := newTestRequest()

	_ = e.OnRequestClaimed(ctx, r)
	_ = e.OnRequestDispatched(ctx, r, time.Second)
	if rec.count() != 0 {
		t.Fatalf("expected filtered actions to be dropped, got %d events", rec.count())
	}

	_ = e.OnRequestFailed(ctx, r, errors.New("boom"))
	_ = e.OnRequestSkipped(ctx, r, ext.SkipNotPending)
	if rec.count() != 2 {
		t.Fatalf("expected 2 events, got %d", rec.count())
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit store down")
	})
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := e.OnRequestFailed(context.Background(), newTestRequest(), errors.New("x")); err != nil {
		t.Fatalf("hook returned recorder error: %v", err)
	}
}

func TestExtension_RegistryDispatch(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(ah.New(rec))

	reg.EmitRequestClaimed(context.Background(), newTestRequest())
	reg.EmitShutdown(context.Background())

	if rec.count() != 1 {
		t.Fatalf("expected 1 event through registry, got %d", rec.count())
	}
}

func TestAllActions(t *testing.T) {
	if got := len(ah.AllActions()); got != 7 {
		t.Errorf("AllActions: want 7, got %d", got)
	}
}
