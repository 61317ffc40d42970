package backend

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a non-2xx response from the analysis backend.
type APIError struct {
	StatusCode int            `json:"-"`
	Route      string         `json:"-"`
	Message    string         `json:"message,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.RequestID != "" {
			return fmt.Sprintf("api error: route=%s status=%d request_id=%s message=%s", e.Route, e.StatusCode, e.RequestID, e.Message)
		}
		return fmt.Sprintf("api error: route=%s status=%d message=%s", e.Route, e.StatusCode, e.Message)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("api error: route=%s status=%d request_id=%s", e.Route, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("api error: route=%s status=%d", e.Route, e.StatusCode)
}

// BadRequestError indicates the backend rejected the input (400), e.g. an unparseable file.
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// SessionNotFoundError indicates the backend no longer knows the session id (404).
type SessionNotFoundError struct{ *APIError }

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.APIError.Error())
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

// ServerError indicates 5xx errors from the backend.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("backend error: %s", e.APIError.Error()) }

// UnreachableError indicates the backend could not be reached at all.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("backend unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("backend unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// MalformedResponseError indicates a 2xx response whose body could not be decoded
// into the expected shape.
type MalformedResponseError struct {
	Route     string
	RequestID string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Route, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// AsAPIError extracts the underlying APIError from err or any of the
// classified error types wrapping it.
func AsAPIError(err error) (*APIError, bool) {
	var (
		apiErr *APIError
		brErr  *BadRequestError
		nfErr  *SessionNotFoundError
		rlErr  *RateLimitError
		sErr   *ServerError
	)
	switch {
	case errors.As(err, &brErr):
		return brErr.APIError, true
	case errors.As(err, &nfErr):
		return nfErr.APIError, true
	case errors.As(err, &rlErr):
		return rlErr.APIError, true
	case errors.As(err, &sErr):
		return sErr.APIError, true
	case errors.As(err, &apiErr):
		return apiErr, true
	}
	return nil, false
}

// UserMessage returns the human-readable message the backend attached to a
// failure, if any. The bool is false when err carries no backend message.
func UserMessage(err error) (string, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr == nil || apiErr.Message == "" {
		return "", false
	}
	return apiErr.Message, true
}
