package discovery

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors for discovery.
var (
	// ErrInvalidTag is returned for malformed receiver tags.
	ErrInvalidTag = errors.New("invalid receiver tag")

	// ErrUnsupportedField is returned for tagged fields that are neither a
	// handler function nor a receiver.
	ErrUnsupportedField = errors.New("tagged field is neither a handler function nor a receiver")
)

// CandidateError reports a member of a host that looked like a receiver but
// could not be turned into one. Discovery skips it and carries on.
type CandidateError struct {
	// Host is the type of the host object.
	Host reflect.Type

	// Member names the method or field, or "Receivers()[i]" for provided
	// receivers.
	Member string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CandidateError) Error() string {
	return fmt.Sprintf("receiver candidate %s.%s: %v", e.Host, e.Member, e.Err)
}

// Unwrap returns the underlying error.
func (e *CandidateError) Unwrap() error {
	return e.Err
}
