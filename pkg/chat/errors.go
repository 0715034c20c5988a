package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ErrorType categorizes a chat backend failure.
type ErrorType string

const (
	ErrorTypeServer          ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeAuthentication  ErrorType = "authentication_error"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeConnection      ErrorType = "connection_error"
)

// Error is a typed chat backend error with the HTTP status (0 for
// network-level failures) and a descriptive message.
type Error struct {
	Type       ErrorType
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// mapHTTPError converts a non-2xx response into an *Error. It attempts to
// parse the response body for a backend-provided error message.
func mapHTTPError(resp *http.Response) *Error {
	message := extractErrorMessage(resp.Body)

	typ := ErrorTypeServer
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		typ = ErrorTypeInvalidRequest
		if message == "" {
			message = "invalid request to backend"
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		typ = ErrorTypeAuthentication
		if message == "" {
			message = "backend authentication failed"
		}
	case resp.StatusCode == http.StatusNotFound:
		typ = ErrorTypeNotFound
		if message == "" {
			message = "backend resource not found"
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		typ = ErrorTypeTooManyRequests
		if message == "" {
			message = "backend rate limit exceeded"
		}
	default:
		if message == "" {
			message = fmt.Sprintf("backend error (HTTP %d)", resp.StatusCode)
		}
	}

	return &Error{Type: typ, StatusCode: resp.StatusCode, Message: message}
}

// mapNetworkError converts a network-level error (connection refused,
// timeout, DNS failure) into an *Error.
func mapNetworkError(err error) *Error {
	return &Error{Type: ErrorTypeConnection, Message: err.Error()}
}

// extractErrorMessage tries to parse the response body as a Chat Completions
// error document and returns the message if found.
func extractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	return ""
}
