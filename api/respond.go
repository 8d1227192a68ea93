package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xraph/bridge"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errchkjson // client went away
}

// writeError maps the error taxonomy to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case bridge.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrInvalidRequest), errors.Is(err, bridge.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, bridge.ErrRequestExists),
		errors.Is(err, bridge.ErrInvalidTransition),
		bridge.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrStoreTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// pagination reads limit and offset query parameters.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, fmt.Errorf("%w: limit must be a positive integer", bridge.ErrInvalidRequest)
		}
		limit = min(limit, maxListLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", bridge.ErrInvalidRequest)
		}
	}
	return limit, offset, nil
}
