package dispatch

import (
	"errors"
	"fmt"
	"reflect"
)

// Sentinel errors for the dispatch package.
var (
	// ErrReceiverPanic matches any *PanicError through errors.Is.
	ErrReceiverPanic = errors.New("receiver panicked")

	// ErrUnknownMode is returned by ParseMode for unrecognised names.
	ErrUnknownMode = errors.New("unknown error mode")
)

// ReceiverError wraps an error returned by a receiver during dispatch.
type ReceiverError struct {
	// Topic is the topic being dispatched.
	Topic reflect.Type

	// Index is the position of the receiver in the dispatch order.
	Index int

	// Priority is the priority of the failing receiver.
	Priority int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ReceiverError) Error() string {
	return fmt.Sprintf("receiver %d (priority %d) on topic %s: %v", e.Index, e.Priority, e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReceiverError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value as an error.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("receiver panic: %v", e.Value)
}

// Is allows errors.Is to match PanicError with ErrReceiverPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrReceiverPanic
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
