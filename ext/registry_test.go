package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// allHooksExt implements every lifecycle hook.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnRequestSkipped(_ context.Context, _ *request.Request, reason ext.SkipReason) error {
	e.calls = append(e.calls, "OnRequestSkipped:"+string(reason))
	return nil
}

func (e *allHooksExt) OnRequestClaimed(context.Context, *request.Request) error {
	e.calls = append(e.calls, "OnRequestClaimed")
	return nil
}

func (e *allHooksExt) OnSubmitRetrying(context.Context, *request.Request, int, time.Duration, error) error {
	e.calls = append(e.calls, "OnSubmitRetrying")
	return nil
}

func (e *allHooksExt) OnRequestDispatched(context.Context, *request.Request, time.Duration) error {
	e.calls = append(e.calls, "OnRequestDispatched")
	return nil
}

func (e *allHooksExt) OnRequestFailed(context.Context, *request.Request, error) error {
	e.calls = append(e.calls, "OnRequestFailed")
	return nil
}

func (e *allHooksExt) OnReconciliationNeeded(context.Context, *reconcile.Entry) error {
	e.calls = append(e.calls, "OnReconciliationNeeded")
	return nil
}

func (e *allHooksExt) OnRequestReclaimed(context.Context, *request.Request) error {
	e.calls = append(e.calls, "OnRequestReclaimed")
	return nil
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// claimOnlyExt opts into a single hook and always errors.
type claimOnlyExt struct{ calls int }

func (e *claimOnlyExt) Name() string { return "claim-only" }

func (e *claimOnlyExt) OnRequestClaimed(context.Context, *request.Request) error {
	e.calls++
	return errors.New("hook failed")
}

func TestRegistry_EmitsEveryHook(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	req := request.New("2025", "lab")
	r.EmitRequestSkipped(ctx, req, ext.SkipConflict)
	r.EmitRequestClaimed(ctx, req)
	r.EmitSubmitRetrying(ctx, req, 1, time.Second, errors.New("x"))
	r.EmitRequestDispatched(ctx, req, time.Second)
	r.EmitRequestFailed(ctx, req, errors.New("x"))
	r.EmitReconciliationNeeded(ctx, &reconcile.Entry{})
	r.EmitRequestReclaimed(ctx, req)
	r.EmitShutdown(ctx)

	want := []string{
		"OnRequestSkipped:conflict", "OnRequestClaimed", "OnSubmitRetrying", "OnRequestDispatched",
		"OnRequestFailed", "OnReconciliationNeeded", "OnRequestReclaimed", "OnShutdown",
	}
	if len(all.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", all.calls, want)
	}
	for i := range want {
		if all.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, all.calls[i], want[i])
		}
	}
}

func TestRegistry_OptInAndErrorsSwallowed(t *testing.T) {
	ctx := context.Background()
	r := ext.NewRegistry(nil)
	partial := &claimOnlyExt{}
	all := &allHooksExt{}
	r.Register(partial)
	r.Register(all)

	req := request.New("2025", "general")
	r.EmitRequestClaimed(ctx, req)
	r.EmitRequestFailed(ctx, req, errors.New("x"))

	if partial.calls != 1 {
		t.Errorf("claim-only calls = %d, want 1", partial.calls)
	}
	if len(all.calls) != 2 {
		t.Errorf("a failing hook stopped later extensions: %v", all.calls)
	}
	if len(r.Extensions()) != 2 {
		t.Errorf("Extensions() = %d, want 2", len(r.Extensions()))
	}
}
