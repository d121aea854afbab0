package errorx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryAuthorization  ErrorCategory = "authorization"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryInternal       ErrorCategory = "internal"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// APIError represents a structured error surfaced to clients
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"category"`
	Severity   Severity       `json:"severity"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// JSON returns the error as a JSON string
func (e *APIError) JSON() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// Clone returns a copy of the error that is safe to decorate per request
func (e *APIError) Clone() *APIError {
	out := *e
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return &out
}

// WithDetail adds a detail to a copy of the error
func (e *APIError) WithDetail(key string, value any) *APIError {
	out := e.Clone()
	if out.Details == nil {
		out.Details = make(map[string]any)
	}
	out.Details[key] = value
	return out
}

// WithTraceID adds a trace ID to a copy of the error
func (e *APIError) WithTraceID(traceID string) *APIError {
	out := e.Clone()
	out.TraceID = traceID
	return out
}

// Common error codes and messages
var (
	// Validation Errors (E1000-E1999)
	ErrInvalidChannel = &APIError{
		Code:       "E1001",
		Message:    "invalid channel",
		Category:   CategoryValidation,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMalformedPayload = &APIError{
		Code:       "E1002",
		Message:    "malformed request payload",
		Category:   CategoryValidation,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadRequest,
	}

	ErrUnknownMessageType = &APIError{
		Code:       "E1003",
		Message:    "unknown message type",
		Category:   CategoryValidation,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadRequest,
	}

	// Authentication Errors (E2000-E2999)
	ErrUnauthorized = &APIError{
		Code:       "E2001",
		Message:    "authentication required",
		Category:   CategoryAuthentication,
		Severity:   SeverityError,
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpired = &APIError{
		Code:       "E2002",
		Message:    "authentication token has expired",
		Category:   CategoryAuthentication,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusUnauthorized,
	}

	// Authorization Errors (E3000-E3999)
	ErrAnotherProject = &APIError{
		Code:       "E3001",
		Message:    "cannot subscribe to another project",
		Category:   CategoryAuthorization,
		Severity:   SeverityError,
		HTTPStatus: http.StatusForbidden,
	}

	// Not Found Errors (E4000-E4999)
	ErrSessionNotFound = &APIError{
		Code:       "E4001",
		Message:    "session not found",
		Category:   CategoryNotFound,
		Severity:   SeverityError,
		HTTPStatus: http.StatusNotFound,
	}

	ErrNoPendingApproval = &APIError{
		Code:       "E4002",
		Message:    "no pending approval for call",
		Category:   CategoryNotFound,
		Severity:   SeverityError,
		HTTPStatus: http.StatusNotFound,
	}

	// Internal Errors (E5000-E5999)
	ErrInternal = &APIError{
		Code:       "E5001",
		Message:    "internal server error occurred",
		Category:   CategoryInternal,
		Severity:   SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	}
)
