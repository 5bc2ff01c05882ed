package post

import (
	"errors"

	"github.com/dshills/post/internal/subcache"
)

// Sentinel errors returned by the bus.
var (
	// ErrNilReceiver is returned when a nil receiver is subscribed or
	// unsubscribed.
	ErrNilReceiver = errors.New("receiver cannot be nil")

	// ErrNilTopic is returned for receivers whose Topic is nil.
	ErrNilTopic = errors.New("receiver topic cannot be nil")

	// ErrInvalidHost is returned for host objects that are not non-nil
	// pointers.
	ErrInvalidHost = subcache.ErrInvalidHost

	// ErrClosed is returned by mutations after Close.
	ErrClosed = errors.New("bus is closed")
)
