package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"scrubber/internal/schedule"
	"scrubber/internal/transient"
)

// AppError is the error body every endpoint returns.
type AppError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Meta    any    `json:"meta,omitempty"`
}

const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidJSON     = "INVALID_JSON"
	CodeTimeout         = "TIMEOUT"
	CodeCanceled        = "CANCELED"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeUnavailable     = "UNAVAILABLE"
)

func (e *AppError) Error() string { return e.Code + ": " + e.Message }

func NewAppError(status int, code, message string, meta any) *AppError {
	return &AppError{Status: status, Code: code, Message: message, Meta: meta}
}

func BadRequest(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeBadRequest, msg, nil)
}

func NotFound(msg string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, msg, nil)
}

func Internal(msg string) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, msg, nil)
}

func InvalidJSON(msg string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeInvalidJSON, msg, nil)
}

func TooManyRequests() *AppError {
	return NewAppError(http.StatusTooManyRequests, CodeTooManyRequests, "rate limit exceeded", nil)
}

// FromStdError maps domain and context errors onto an AppError. Anything
// unrecognised becomes a 500 without leaking its text.
func FromStdError(err error) *AppError {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	switch {
	case errors.Is(err, schedule.ErrInvalidArgument),
		errors.Is(err, transient.ErrEmptyKey),
		errors.Is(err, transient.ErrInvalidValue):
		return BadRequest(err.Error())
	case errors.Is(err, schedule.ErrPersistence):
		return NewAppError(http.StatusServiceUnavailable, CodeUnavailable, "schedule persistence failed", nil)
	case errors.Is(err, context.Canceled):
		return NewAppError(http.StatusRequestTimeout, CodeCanceled, "request canceled", nil)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError(http.StatusRequestTimeout, CodeTimeout, "request timeout", nil)
	default:
		return Internal("unexpected error")
	}
}

type successEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Err *AppError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	app := FromStdError(err)
	if app == nil {
		app = Internal("unexpected error")
	}
	writeJSON(w, app.Status, errorEnvelope{Err: app})
}

// handlerFunc lets handlers return errors instead of writing them.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, err)
		}
	}
}
