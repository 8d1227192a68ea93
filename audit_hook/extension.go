package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.RequestSkipped       = (*Extension)(nil)
	_ ext.RequestClaimed       = (*Extension)(nil)
	_ ext.SubmitRetrying       = (*Extension)(nil)
	_ ext.RequestDispatched    = (*Extension)(nil)
	_ ext.RequestFailed        = (*Extension)(nil)
	_ ext.RequestReclaimed     = (*Extension)(nil)
	_ ext.ReconciliationNeeded = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Extension sends bridge lifecycle events to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	skips    bool
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Dispatch hooks ──────────────────────────────────

// OnRequestSkipped implements ext.RequestSkipped.
func (e *Extension) OnRequestSkipped(ctx context.Context, r *request.Request, reason ext.SkipReason) error {
	return e.record(ctx, ActionRequestSkipped, SeverityInfo, OutcomeSkipped,
		ResourceRequest, r.ID.String(), CategoryDispatch, nil,
		"status", string(r.Status),
		"skip_reason", string(reason),
	)
}

// OnRequestClaimed implements ext.RequestClaimed.
func (e *Extension) OnRequestClaimed(ctx context.Context, r *request.Request) error {
	return e.record(ctx, ActionRequestClaimed, SeverityInfo, OutcomeSuccess,
		ResourceRequest, r.ID.String(), CategoryDispatch, nil,
		"year", r.Year,
		"type", r.Type,
		"worker_id", r.ClaimedBy.String(),
	)
}

// OnSubmitRetrying implements ext.SubmitRetrying.
func (e *Extension) OnSubmitRetrying(ctx context.Context, r *request.Request, attempt int, delay time.Duration, err error) error {
	return e.record(ctx, ActionSubmitRetrying, SeverityWarning, OutcomeFailure,
		ResourceRequest, r.ID.String(), CategoryDispatch, err,
		"year", r.Year,
		"type", r.Type,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnRequestDispatched implements ext.RequestDispatched.
func (e *Extension) OnRequestDispatched(ctx context.Context, r *request.Request, elapsed time.Duration) error {
	return e.record(ctx, ActionRequestDispatched, SeverityInfo, OutcomeSuccess,
		ResourceRequest, r.ID.String(), CategoryDispatch, nil,
		"year", r.Year,
		"type", r.Type,
		"run_id", r.RunID,
		"attempts", r.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRequestFailed implements ext.RequestFailed.
func (e *Extension) OnRequestFailed(ctx context.Context, r *request.Request, err error) error {
	return e.record(ctx, ActionRequestFailed, SeverityCritical, OutcomeFailure,
		ResourceRequest, r.ID.String(), CategoryDispatch, err,
		"year", r.Year,
		"type", r.Type,
		"attempts", r.Attempts,
	)
}

// ── Recovery hooks ──────────────────────────────────

// OnRequestReclaimed implements ext.RequestReclaimed.
func (e *Extension) OnRequestReclaimed(ctx context.Context, r *request.Request) error {
	return e.record(ctx, ActionRequestReclaimed, SeverityWarning, OutcomeSuccess,
		ResourceRequest, r.ID.String(), CategoryRecovery, nil,
		"year", r.Year,
		"type", r.Type,
		"attempts", r.Attempts,
	)
}

// OnReconciliationNeeded implements ext.ReconciliationNeeded.
func (e *Extension) OnReconciliationNeeded(ctx context.Context, entry *reconcile.Entry) error {
	var cause error
	if entry.Reason != "" {
		cause = errors.New(entry.Reason)
	}
	return e.record(ctx, ActionReconciliationNeeded, SeverityCritical, OutcomeFailure,
		ResourceReconcile, entry.ID.String(), CategoryReconcile, cause,
		"request_id", entry.RequestID.String(),
		"run_id", entry.RunID,
		"attempts", entry.Attempts,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) wants(action string) bool {
	if e.enabled != nil {
		return e.enabled[action]
	}
	return action != ActionRequestSkipped || e.skips
}

// record builds and sends an audit event if the action is enabled.
// kvPairs are added to Metadata. Recorder errors are logged, not returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.wants(action) {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprint(kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
