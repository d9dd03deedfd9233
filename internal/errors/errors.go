// ABOUTME: Standardized JSON error envelope for HTTP handlers.
// ABOUTME: Maps query, navigation, and store failures to stable machine-readable codes.

package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/2389/megatable/internal/navigate"
	"github.com/2389/megatable/internal/query"
	"github.com/2389/megatable/internal/store"
)

// ErrorResponse is the body of every non-2xx API response.
//
// Usage:
//
//	WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "offset must be a non-negative integer")
type ErrorResponse struct {
	Code    string `json:"code"`              // Machine-readable error code (e.g., "invalid_request", "out_of_range")
	Message string `json:"message"`           // Human-readable error message
	Status  int    `json:"status"`            // HTTP status code
	Field   string `json:"field,omitempty"`   // Query parameter that caused the error, if any
	Details string `json:"details,omitempty"` // Underlying error text, if any
}

// WriteError writes a standardized error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
	})
}

// WriteErrorWithField writes a standardized error response naming the
// offending parameter.
//
// Example:
//
//	WriteErrorWithField(w, http.StatusBadRequest, ErrInvalidRequest, "unknown sort field", "sort")
func WriteErrorWithField(w http.ResponseWriter, status int, code, message, field string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Field:   field,
	})
}

// WriteErrorWithDetails writes a standardized error response with extra context.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

// WriteDomainError classifies err and writes the matching response. It
// falls back to a 500 internal_error for anything it does not recognize.
func WriteDomainError(w http.ResponseWriter, err error) {
	var rangeErr *navigate.RangeError
	switch {
	case stderrors.As(err, &rangeErr):
		WriteErrorWithField(w, http.StatusUnprocessableEntity, ErrOutOfRange, rangeErr.Error(), "row")
	case stderrors.Is(err, navigate.ErrOutOfRange):
		WriteError(w, http.StatusUnprocessableEntity, ErrOutOfRange, err.Error())
	case stderrors.Is(err, query.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, ErrInvalidRequest, err.Error())
	case stderrors.Is(err, store.ErrStoreUnavailable):
		WriteErrorWithDetails(w, http.StatusServiceUnavailable, ErrServiceUnavailable, "record store unavailable", err.Error())
	case stderrors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case stderrors.Is(err, query.ErrQueryFailed):
		WriteErrorWithDetails(w, http.StatusInternalServerError, ErrQueryFailed, "query failed", err.Error())
	default:
		WriteErrorWithDetails(w, http.StatusInternalServerError, ErrInternal, "internal error", err.Error())
	}
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// Error codes returned by the API.
const (
	// Client errors (4xx)
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrOutOfRange     = "out_of_range"

	// Server errors (5xx)
	ErrInternal           = "internal_error"
	ErrQueryFailed        = "query_failed"
	ErrServiceUnavailable = "service_unavailable"
)
