package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"sre-platform/internal/analysis"
	"sre-platform/internal/auth"
	"sre-platform/internal/automation"
	"sre-platform/internal/collections"
	"sre-platform/internal/incident"
	"sre-platform/internal/notify"
	"sre-platform/internal/store"
)

// Error codes returned in the JSON error body.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidation       = "VALIDATION_FAILED"
	CodeConflict         = "CONFLICT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnavailable      = "UNAVAILABLE"
	CodeInternal         = "INTERNAL"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest = errors.New("bad request")
	errForbidden  = errors.New("forbidden")
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: message, Details: details})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// classify maps a service error onto a status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, collections.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, store.ErrNotFound), errors.Is(err, analysis.ErrReportNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, analysis.ErrReportAlreadyExists),
		errors.Is(err, incident.ErrInvalidTransition),
		errors.Is(err, notify.ErrNotRetryable):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, store.ErrInvalidQuery),
		errors.Is(err, analysis.ErrEventIDRequired),
		errors.Is(err, analysis.ErrReportIDRequired),
		errors.Is(err, automation.ErrNoCronExpression),
		errors.Is(err, notify.ErrNoSender),
		errors.Is(err, notify.ErrMisconfigured),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrNoPendingLogin):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, auth.ErrAdminTOTP), errors.Is(err, errForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, analysis.ErrNoTemplates):
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// fail writes err as a JSON error. Unexpected errors are logged and their
// text is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	var details any
	var ve *collections.ValidationError
	if errors.As(err, &ve) {
		details = ve.Fields
	}
	if status == http.StatusInternalServerError {
		h.logger().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeError(w, status, code, msg, details)
}

// decodeJSON reads the request body into v. An empty body is an error
// unless optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return badRequest("request body is required")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
