// Package apierror is the JSON error envelope of the gateway's HTTP routes.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bezaspace/rak4/pkg/profile"
	"github.com/bezaspace/rak4/pkg/schedule"
)

type Type string

const (
	TypeInvalidRequest Type = "invalid_request_error"
	TypeNotFound       Type = "not_found_error"
	TypePermission     Type = "permission_error"
	TypeRateLimit      Type = "rate_limit_error"
	TypeUnavailable    Type = "unavailable_error"
	TypeAPI            Type = "api_error"
)

type Error struct {
	Type       Type   `json:"type"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Param      string `json:"param,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

func (e *Error) Error() string { return string(e.Type) + ": " + e.Message }

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps err to a canonical error and its HTTP status. Unknown errors
// become a generic internal error.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: TypeAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Type: TypeAPI, Message: "request cancelled", Code: "cancelled", RequestID: requestID}, http.StatusRequestTimeout
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(apiErr.Type)
	}

	switch {
	case errors.Is(err, schedule.ErrNotFound):
		return &Error{Type: TypeNotFound, Message: "schedule item not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, profile.ErrNotFound):
		return &Error{Type: TypeNotFound, Message: "patient profile not found", RequestID: requestID}, http.StatusNotFound
	}

	return &Error{Type: TypeAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

// Write encodes err as the response body.
func Write(w http.ResponseWriter, status int, err *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}

func statusFromType(t Type) int {
	switch t {
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypePermission:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
