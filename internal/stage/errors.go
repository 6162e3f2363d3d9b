package stage

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"

	"github.com/aristath/blogflow/internal/backend"
)

// ErrMissingInput is returned when a stage's upstream artifact is absent.
var ErrMissingInput = errors.New("required stage input is missing")

// TransientError wraps a failure that is worth retrying.
type TransientError struct {
	Stage ID
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Stage, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(id ID, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Stage: id, Err: err}
}

// MalformedOutputError reports a capability response that did not parse into
// the stage's expected structure. It is never retried.
type MalformedOutputError struct {
	Stage  ID
	Reason string
	Raw    string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: malformed output: %s", e.Stage, e.Reason)
}

// IsTransient reports whether err should be retried. Cancellation of ctx,
// an open circuit breaker and malformed output are never transient.
func IsTransient(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	var malformed *MalformedOutputError
	if errors.As(err, &malformed) || errors.Is(err, ErrMissingInput) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, backend.ErrUnavailable) || errors.Is(err, backend.ErrRateLimited) {
		return true
	}
	// A per-call deadline expired while the run itself is still live
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// FailureReason labels err for metrics and logs.
func FailureReason(err error) string {
	var malformed *MalformedOutputError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed):
		return "malformed"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, backend.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, backend.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	default:
		var transient *TransientError
		if errors.As(err, &transient) {
			return "transient"
		}
		return "error"
	}
}
