// Package request defines the job request record, its status machine, the
// patches the bridge applies to it, and the store contract.
//
// # Status machine
//
//	pending → dispatching → processing → completed
//	                      ↘ failed      ↘ failed
//	pending → failed
//	dispatching → pending      (watchdog release only)
//
// Only the coordinator moves a record into dispatching or processing and
// only it sets RunID. Completed and failed are terminal.
//
// # Conditional updates
//
// Every write goes through [Store.ConditionalUpdate] with the version the
// caller last observed. The store applies a [Patch] only if the stored
// version still matches, then increments it. A mismatch yields
// bridge.ErrConflict; this is how concurrent coordinators agree on a single
// claim without a lock.
package request
