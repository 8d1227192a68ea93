package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// ──────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

// CreateRequestBody is the body of POST /v1/requests. Year and Type are
// stored as given.
type CreateRequestBody struct {
	Year Param `json:"year"`
	Type Param `json:"type"`
}

// Param is an opaque job parameter. A JSON integer is kept as its literal
// text.
type Param string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Param) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = Param(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("job parameter must be a string or an integer: %w", err)
	}
	*p = Param(n.String())
	return nil
}

// FailRequestBody is the body of POST /v1/requests/{id}/fail.
type FailRequestBody struct {
	Reason string `json:"reason"`
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := a.decodeBody(w, r, schemaCreateRequest, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	created, err := a.eng.CreateRequest(r.Context(), string(body.Year), string(body.Type))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/"+created.ID.String())
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := requestIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	got, err := a.eng.GetRequest(r.Context(), requestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	opts := request.ListOpts{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("status"); v != "" {
		if opts.Status, err = request.ParseStatus(v); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	records, err := a.eng.ListRequests(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*request.Request{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) completeRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := requestIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	updated, err := a.eng.CompleteRequest(r.Context(), requestID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) failRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := requestIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var body FailRequestBody
	if err := a.decodeBody(w, r, schemaFailRequest, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	updated, err := a.eng.FailRequest(r.Context(), requestID, body.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ──────────────────────────────────────────────────
// Reconcile
// ──────────────────────────────────────────────────

// ResolveBody is the body of POST /v1/reconcile/{id}/resolve.
type ResolveBody struct {
	// Apply writes the processing transition before closing the entry.
	Apply bool `json:"apply"`
}

func (a *API) listReconcile(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	opts := reconcile.ListOpts{
		Limit:    limit,
		Offset:   offset,
		OpenOnly: r.URL.Query().Get("open") != "false",
	}
	entries, err := a.eng.Reconciler().Store().ListReconcile(r.Context(), opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*reconcile.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getReconcile(w http.ResponseWriter, r *http.Request) {
	entryID, err := entryIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	entry, err := a.eng.Reconciler().Store().GetReconcile(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) resolveReconcile(w http.ResponseWriter, r *http.Request) {
	entryID, err := entryIDParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var body ResolveBody
	if err := a.decodeBody(w, r, schemaResolve, &body); err != nil {
		a.writeError(w, r, err)
		return
	}
	entry, err := a.eng.Reconciler().Resolve(r.Context(), entryID, body.Apply)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ──────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────

func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	report, err := a.eng.Sweep(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	s, err := a.eng.Stats(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ── params ──

func requestIDParam(r *http.Request) (id.RequestID, error) {
	raw := chi.URLParam(r, "requestID")
	requestID, err := id.ParseRequestID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: invalid request id %q: %w", bridge.ErrInvalidRequest, raw, err)
	}
	return requestID, nil
}

func entryIDParam(r *http.Request) (id.ReconcileID, error) {
	raw := chi.URLParam(r, "entryID")
	entryID, err := id.ParseReconcileID(raw)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: invalid reconcile id %q: %w", bridge.ErrInvalidRequest, raw, err)
	}
	return entryID, nil
}
