// Package httpclient submits jobs to the compute backend over HTTP.
//
// A submission is a POST of {"year", "type"} to the configured endpoint.
// A 2xx reply must carry {"run_id"}. Other statuses and network failures
// are mapped onto backend.Error kinds:
//
//	2xx with run_id         success
//	2xx without run_id      Rejected (the backend may have started a run)
//	408, 429, 5xx           Transport
//	other 4xx, 3xx          Rejected
//	deadline, net timeout   Timeout
//	dial, read, reset       Transport
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/xraph/bridge/backend"
)

const maxReplyBytes = 1 << 20

var _ backend.Client = (*Client)(nil)

// Client is an HTTP backend.Client. Safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	codec    backend.Codec
	limiter  *rate.Limiter
	header   http.Header
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCodec sets the wire format. Defaults to JSON.
func WithCodec(codec backend.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithRateLimit caps submissions at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHeader adds a header to every submission, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client posting to endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		codec:    backend.JSONCodec{},
		header:   make(http.Header),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the submission URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Submit posts p and returns the run id.
func (c *Client) Submit(ctx context.Context, p backend.Params) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", backend.Timeout(fmt.Errorf("rate limit wait: %w", err))
		}
	}

	body, err := c.codec.Encode(p)
	if err != nil {
		return "", backend.Rejected(0, fmt.Sprintf("encode params: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backend.Rejected(0, fmt.Sprintf("build request: %v", err))
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", c.codec.ContentType())
	req.Header.Set("Accept", c.codec.ContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.statusError(resp.StatusCode, data)
	}

	reply, err := c.codec.Decode(data)
	if err != nil {
		return "", backend.Rejected(resp.StatusCode, fmt.Sprintf("decode reply: %v", err))
	}
	if reply.RunID == "" {
		return "", backend.Rejected(resp.StatusCode, "reply has no run_id")
	}

	c.logger.Debug("backend accepted job",
		slog.String("run_id", reply.RunID),
		slog.String("year", p.Year),
		slog.String("type", p.Type),
	)
	return reply.RunID, nil
}

func (c *Client) statusError(code int, body []byte) *backend.Error {
	msg := strings.TrimSpace(string(body))
	if reply, err := c.codec.Decode(body); err == nil && reply.Error != "" {
		msg = reply.Error
	}
	msg = truncate(msg, maxMessageLen)

	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return &backend.Error{Kind: backend.KindTransport, StatusCode: code, Message: msg}
	default:
		return backend.Rejected(code, msg)
	}
}

const maxMessageLen = 256

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func classify(err error) *backend.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.Timeout(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return backend.Timeout(err)
	}
	return backend.Transport(err)
}
