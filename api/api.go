// Package api exposes the bridge engine over HTTP: the development intake
// for new requests, downstream completion writes, reconcile operations and
// stats.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xraph/bridge/engine"
)

// API wires the HTTP handlers to an Engine.
type API struct {
	eng     *engine.Engine
	logger  *slog.Logger
	timeout time.Duration
	schemas map[string]*jsonschema.Schema
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger for request logs. Defaults to the engine's.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithTimeout bounds each request. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(a *API) { a.timeout = d }
}

// New creates an API for eng. It fails only if a built-in body schema does
// not compile.
func New(eng *engine.Engine, opts ...Option) (*API, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	a := &API{
		eng:     eng,
		logger:  eng.Logger(),
		timeout: 30 * time.Second,
		schemas: schemas,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler returns the assembled router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.timeout))

	r.Get("/healthz", a.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", a.listRequests)
			r.Post("/", a.createRequest)
			r.Get("/{requestID}", a.getRequest)
			r.Post("/{requestID}/complete", a.completeRequest)
			r.Post("/{requestID}/fail", a.failRequest)
		})
		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/", a.listReconcile)
			r.Get("/{entryID}", a.getReconcile)
			r.Post("/{entryID}/resolve", a.resolveReconcile)
		})
		r.Post("/watchdog/sweep", a.sweep)
		r.Get("/stats", a.stats)
	})

	return r
}

// requestLogger logs one line per request at debug level, and at warn for
// server errors.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
