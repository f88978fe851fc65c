package transcription

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a transcription service failure. The queue uses the
// kind to decide between retry, permanent failure, and tripping the
// circuit breaker.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorUnreachable
	ErrorTimeout
	ErrorHTTPStatus
	ErrorBadResponse
)

// String returns the kind as used in logs and result error strings.
func (k ErrorKind) String() string {
	switch k {
	case ErrorUnreachable:
		return "unreachable"
	case ErrorTimeout:
		return "timeout"
	case ErrorHTTPStatus:
		return "http_status"
	case ErrorBadResponse:
		return "bad_response"
	default:
		return "unknown"
	}
}

// ServiceError is the one error type the client returns for request
// failures, so callers branch on Kind instead of matching message text.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int // set when Kind is ErrorHTTPStatus
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Kind == ErrorHTTPStatus {
		return fmt.Sprintf("transcription service: %s %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription service: %s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed. Client-side
// request bugs (4xx other than 429) and malformed responses are permanent.
func (e *ServiceError) Retryable() bool {
	switch e.Kind {
	case ErrorUnreachable, ErrorTimeout:
		return true
	case ErrorHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// AsServiceError unwraps err to a ServiceError if there is one.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// classifyTransportError maps an http.Client.Do failure to a kind.
// Timeouts are separated from connection failures because only the latter
// feed the breaker's unreachable count.
func classifyTransportError(err error) *ServiceError {
	kind := ErrorUnreachable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrorTimeout
	} else {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = ErrorTimeout
		}
	}
	return &ServiceError{
		Kind:    kind,
		Message: err.Error(),
		Err:     err,
	}
}
