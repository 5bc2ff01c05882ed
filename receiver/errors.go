package receiver

import "errors"

// Sentinel errors returned by Build.
var (
	// ErrNoAction is returned when a receiver is built without an action.
	ErrNoAction = errors.New("receiver has no action")

	// ErrInterfaceTopic is returned when the topic is an interface type.
	// Messages always carry a concrete runtime type, so such a receiver
	// could never be reached.
	ErrInterfaceTopic = errors.New("receiver topic cannot be an interface type")
)
