// Package ext defines lifecycle hooks for the bridge.
//
// Extensions are notified as requests move through dispatch and can react
// to them by recording metrics, alerting, or writing audit logs. Each hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
//	type pager struct{}
//
//	func (pager) Name() string { return "pager" }
//
//	func (pager) OnReconciliationNeeded(ctx context.Context, e *reconcile.Entry) error {
//	    return page("request %s ran as %s but was not recorded", e.RequestID, e.RunID)
//	}
//
// Hook errors are logged and never affect dispatch.
package ext
