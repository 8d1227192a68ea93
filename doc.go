// Package bridge turns newly created job requests into exactly one call to a
// remote compute backend.
//
// A request document is created with status "pending". The bridge observes
// it on a change feed, claims it with a conditional update to
// "dispatching", submits it to the backend with bounded retries, and records
// the outcome as "processing" (with the backend's run id) or "failed".
// Duplicate deliveries and concurrent bridge instances lose the claim race
// and do nothing, so a job is dispatched at most once.
//
// # Quick Start
//
//	st := memory.New()
//	client := httpclient.New("https://compute.internal/run-timetable")
//
//	eng, err := engine.New(st, client,
//	    engine.WithConfig(bridge.DefaultConfig()),
//	    engine.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// # Architecture
//
// Each concern defines its own store interface (request, feed, reconcile).
// A backend under store/ implements all of them. The coordinator package
// owns the claim and submit algorithm, the watchdog package recovers claims
// abandoned by a crashed instance, and the engine package wires them to a
// feed loop.
//
// Request, worker and reconcile identifiers are TypeIDs (see package id).
package bridge
