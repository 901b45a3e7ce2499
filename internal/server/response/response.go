// Package response provides standardized HTTP response structures and helpers
// for the ingestion API server. All API responses follow a consistent format
// with a data field for successful responses and an error field for failures.
package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/agentstation/kstartup/pkg/errors"
)

// Response represents the standardized API response structure.
// All endpoints return this format for consistency.
type Response struct {
	Data  any    `json:"data"`
	Error *Error `json:"error"`
}

// Error represents an API error with code, message, and optional details.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success creates a successful response with data.
func Success(data any) Response {
	return Response{
		Data:  data,
		Error: nil,
	}
}

// Fail creates an error response.
func Fail(code, message, details string) Response {
	return Response{
		Data: nil,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors are ignored as headers are already sent (best effort)
	_ = json.NewEncoder(w).Encode(resp)
}

// OK writes a successful response with 200 status.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Success(data))
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, message, details string) {
	JSON(w, http.StatusBadRequest, Fail("BAD_REQUEST", message, details))
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, message, details string) {
	JSON(w, http.StatusNotFound, Fail("NOT_FOUND", message, details))
}

// InternalError writes a 500 error response.
func InternalError(w http.ResponseWriter, _ error) {
	// Log the actual error but don't expose details to client
	// Note: Logging should be handled by middleware or passed via context
	JSON(w, http.StatusInternalServerError, Fail(
		"INTERNAL_ERROR",
		"Internal server error",
		"An unexpected error occurred",
	))
}

// ServiceUnavailable writes a 503 error response.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	JSON(w, http.StatusServiceUnavailable, Fail(
		"SERVICE_UNAVAILABLE",
		"Service unavailable",
		message,
	))
}

// Accepted writes a successful response with 202 status.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, Success(data))
}

// Conflict writes a 409 response. Unlike other errors it carries data,
// typically the resource that is in the way.
func Conflict(w http.ResponseWriter, data any, message string) {
	resp := Fail("CONFLICT", message, "")
	resp.Data = data
	JSON(w, http.StatusConflict, resp)
}

// ActiveRun identifies the run that blocks a new one.
type ActiveRun struct {
	Source string `json:"source_id"`
	RunID  string `json:"id,omitempty"`
	State  string `json:"state,omitempty"`
}

func activeRun(err error) any {
	var ingestErr *errors.IngestError
	if !stderrors.As(err, &ingestErr) {
		return nil
	}
	return ActiveRun{Source: ingestErr.Source, RunID: ingestErr.RunID, State: ingestErr.State}
}

// ErrorFromType maps typed errors to appropriate HTTP responses.
func ErrorFromType(w http.ResponseWriter, err error) {
	var apiErr *errors.APIError
	switch {
	case errors.IsNotFound(err):
		NotFound(w, err.Error(), "")
	case errors.IsValidationError(err):
		BadRequest(w, err.Error(), "")
	case stderrors.Is(err, errors.ErrAlreadyRunning):
		Conflict(w, activeRun(err), err.Error())
	case errors.IsCanceled(err):
		ServiceUnavailable(w, err.Error())
	case stderrors.As(err, &apiErr) && apiErr.StatusCode > 0 && apiErr.StatusCode < 500:
		BadRequest(w, err.Error(), "")
	default:
		InternalError(w, err)
	}
}
