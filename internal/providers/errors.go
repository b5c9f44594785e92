package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class drives retry and escalation decisions.
type Class int

const (
	ClassTransient Class = iota
	ClassRateLimit
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimit:
		return "rate_limit"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified failure from one provider call.
type Error struct {
	Provider ID
	Class    Class
	Status   int // HTTP status when known, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(id ID, status int, err error) error {
	return &Error{Provider: id, Class: ClassTransient, Status: status, Err: err}
}

func RateLimited(id ID, status int, err error) error {
	return &Error{Provider: id, Class: ClassRateLimit, Status: status, Err: err}
}

func Fatal(id ID, status int, err error) error {
	return &Error{Provider: id, Class: ClassFatal, Status: status, Err: err}
}

// ClassForStatus maps an HTTP status to a failure class.
func ClassForStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusRequestTimeout, status >= 500:
		return ClassTransient
	default:
		return ClassFatal
	}
}

// FromStatus builds a classified error for a non-2xx HTTP response.
func FromStatus(id ID, status int, body string) error {
	return &Error{Provider: id, Class: ClassForStatus(status), Status: status, Err: fmt.Errorf("%s", body)}
}

// Classify returns the class of err. Unclassified errors are treated as
// transient: connection resets and timeouts are the common case.
func Classify(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}

// FromGRPC classifies an error returned by a Google Cloud client.
func FromGRPC(id ID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(id, 0, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return Transient(id, 0, err)
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return RateLimited(id, http.StatusTooManyRequests, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted, codes.Unknown:
		return Transient(id, 0, err)
	case codes.Unauthenticated:
		return Fatal(id, http.StatusUnauthorized, err)
	case codes.PermissionDenied:
		return Fatal(id, http.StatusForbidden, err)
	default:
		return Fatal(id, http.StatusBadRequest, err)
	}
}

// IsAuthFailure reports whether err carries a permanent 401/403 from a provider.
func IsAuthFailure(err error) (int, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Class == ClassFatal &&
		(pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden) {
		return pe.Status, true
	}
	return 0, false
}
