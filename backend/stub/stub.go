// Package stub is a scripted in-memory backend.Client for tests and local
// runs without a compute service.
package stub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/bridge/backend"
)

var _ backend.Client = (*Client)(nil)

// Result scripts one Submit call. A zero Result succeeds with a generated
// run id.
type Result struct {
	RunID string
	Err   error
	// Delay holds the call before answering. Cancellation of the call's
	// context ends the wait with a timeout error.
	Delay time.Duration
}

// Call records one Submit invocation.
type Call struct {
	Params backend.Params
	At     time.Time
}

// Client returns scripted results in order, then Default for every call
// after the script runs out. Safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	script  []Result
	calls   []Call
	Default Result
}

// New returns a client that plays results in order.
func New(results ...Result) *Client {
	return &Client{script: results}
}

// Fail is shorthand for a failing Result.
func Fail(err error) Result { return Result{Err: err} }

// Succeed is shorthand for a successful Result with a fixed run id.
func Succeed(runID string) Result { return Result{RunID: runID} }

// Submit plays the next scripted result.
func (c *Client) Submit(ctx context.Context, p backend.Params) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Params: p, At: time.Now()})
	res := c.Default
	if len(c.script) > 0 {
		res = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	if res.Delay > 0 {
		t := time.NewTimer(res.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", backend.Timeout(ctx.Err())
		case <-t.C:
		}
	}
	if res.Err != nil {
		return "", res.Err
	}
	if res.RunID == "" {
		return uuid.NewString(), nil
	}
	return res.RunID, nil
}

// Calls returns a copy of the recorded invocations.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount returns the number of Submit invocations.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
