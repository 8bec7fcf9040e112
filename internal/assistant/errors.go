package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any remote call.
	ErrValidation = errors.New("invalid chat request")
	// ErrUpstream marks a remote response missing a field the relay depends on.
	ErrUpstream = errors.New("upstream response missing required field")
	// ErrTimeout marks a run that did not reach a terminal state within the budget.
	ErrTimeout = errors.New("timeout waiting for assistant run")
	// ErrRunFailed marks a run the remote service reported as not completed.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrMalformedResponse marks a message list without assistant text.
	ErrMalformedResponse = errors.New("no assistant message content found")
)

// HTTPError is returned when a remote call fails at the HTTP layer. StatusCode is
// zero for transport failures (DNS, refused connection, canceled request).
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: transport error: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: API error (status %d): %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Kind returns a stable label for err suitable for logs and turn records.
func Kind(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRunFailed):
		return "run_failed"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.As(err, &httpErr):
		return "http"
	default:
		return "internal"
	}
}
