package adapter

import "errors"

// Sentinel errors for blueprint generation and binding.
var (
	// ErrInvalidHost is returned when the host type is not a pointer, or a
	// host instance is nil or of the wrong type.
	ErrInvalidHost = errors.New("adapter host must be a non-nil pointer of the blueprint's type")

	// ErrNoMember is returned when the named method or field does not exist.
	ErrNoMember = errors.New("no such member")

	// ErrUnexported is returned for unexported fields.
	ErrUnexported = errors.New("member is not exported")

	// ErrSignature is returned when a behaviour is not a one-argument
	// function returning nothing or an error, or its argument is not the topic.
	ErrSignature = errors.New("behaviour must be func(T) or func(T) error")

	// ErrNotReceiver is returned for receiver fields whose type does not
	// implement receiver.Receiver.
	ErrNotReceiver = errors.New("member does not implement receiver.Receiver")

	// ErrNilBehavior is returned when binding a nil function or receiver.
	ErrNilBehavior = errors.New("behaviour is nil")

	// ErrUnknownKind is returned for a Behavior with an unknown Kind.
	ErrUnknownKind = errors.New("unknown behaviour kind")
)
