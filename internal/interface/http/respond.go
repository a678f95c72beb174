package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/logger"
)

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries paging for list endpoints.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Page       int       `json:"page,omitempty"`
	PageSize   int       `json:"page_size,omitempty"`
	HasMore    bool      `json:"has_more,omitempty"`
}

const apiVersion = "v1"

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, &ResponseMeta{})
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	meta.Timestamp = time.Now().UTC()
	meta.Version = apiVersion
	send(w, status, JSONResponse{
		Success:   status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: requestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	send(w, status, JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: requestID(r.Context()),
	})
}

func send(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// writeError answers with the status err maps to. Client errors carry the
// domain message; server errors only the status text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)

	message := http.StatusText(status)
	var de *shared.DomainError
	switch {
	case status == http.StatusServiceUnavailable:
		message = "A required service is temporarily unavailable"
	case status < 500 && errors.As(err, &de) && de.Message != "":
		message = de.Message
	}

	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
	} else {
		log.Debug("request rejected", logger.Err(err), logger.StatusCode(status))
	}
	writeJSONError(w, r, status, code, message)
}

func classifyError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case shared.IsInvalidState(err), shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsUpstreamUnavailable(err):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

// queryInt returns def for an absent parameter and a validation error for a
// malformed one.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Validationf("http", "ParseQuery", "%s must be an integer", key)
	}
	return v, nil
}

// queryBool accepts whatever strconv.ParseBool does; anything else is false.
func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
