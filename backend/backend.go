// Package backend defines the client for the remote compute service that
// runs dispatched jobs, and the error taxonomy the coordinator's retry
// policy keys on.
//
// A submission carries the request's year and type and yields a run id.
// Errors are *Error values classified as Timeout, Transport or Rejected;
// only Rejected is final.
package backend

import "context"

// Params are the job parameters forwarded to the backend unmodified.
type Params struct {
	Year string `json:"year" msgpack:"year"`
	Type string `json:"type" msgpack:"type"`
}

// Client submits one job to the compute backend.
type Client interface {
	// Submit starts a run and returns its id. Failures are *Error.
	Submit(ctx context.Context, p Params) (runID string, err error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, p Params) (string, error)

// Submit calls f.
func (f ClientFunc) Submit(ctx context.Context, p Params) (string, error) { return f(ctx, p) }
