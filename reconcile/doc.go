// Package reconcile records dispatches whose outcome the store does not
// reflect.
//
// An entry is written when the backend accepted a job (and returned a run
// id) but the follow-up write of status "processing" failed. The job may be
// running while its record still says "dispatching". Operators list open
// entries and resolve them, optionally re-applying the processing
// transition with [Service.Resolve].
package reconcile
