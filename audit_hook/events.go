package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRequestSkipped       = "request.skipped"
	ActionRequestClaimed       = "request.claimed"
	ActionSubmitRetrying       = "request.retrying"
	ActionRequestDispatched    = "request.dispatched"
	ActionRequestFailed        = "request.failed"
	ActionRequestReclaimed     = "request.reclaimed"
	ActionReconciliationNeeded = "reconcile.needed"
)

// Audit event categories group related actions.
const (
	CategoryDispatch  = "bridge.dispatch"
	CategoryRecovery  = "bridge.recovery"
	CategoryReconcile = "bridge.reconcile"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRequest   = "request"
	ResourceReconcile = "reconcile_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRequestSkipped,
		ActionRequestClaimed,
		ActionSubmitRetrying,
		ActionRequestDispatched,
		ActionRequestFailed,
		ActionRequestReclaimed,
		ActionReconciliationNeeded,
	}
}
