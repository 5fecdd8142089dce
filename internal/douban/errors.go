package douban

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a resource the upstream does not have (HTTP 404 or a
	// page missing its required fields).
	ErrNotFound = errors.New("douban: resource not found")

	// ErrTimeout marks a fetch that exceeded its bounded wait.
	ErrTimeout = errors.New("douban: upstream timeout")

	// ErrMalformedDocument marks a body that could not be parsed as HTML at all.
	ErrMalformedDocument = errors.New("douban: malformed document")
)

// UpstreamError carries a non-404 upstream failure. Status is zero when the
// request failed before a status line was read.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("douban: upstream error: status %d", e.Status)
	}
	return fmt.Sprintf("douban: upstream error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// MissingFieldError marks a page missing a required field. Optional fields
// never produce it; they default to the empty string.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("douban: missing required field %q", e.Field)
}

// IsNotFound reports whether err maps to the caller-visible not-found
// outcome: a 404 from upstream or a document missing required fields.
func IsNotFound(err error) bool {
	var mf *MissingFieldError
	return errors.Is(err, ErrNotFound) || errors.As(err, &mf)
}

// IsUnavailable reports whether err maps to the caller-visible
// upstream-unavailable outcome (timeouts and 5xx-class failures).
func IsUnavailable(err error) bool {
	var ue *UpstreamError
	return errors.Is(err, ErrTimeout) || errors.As(err, &ue)
}
