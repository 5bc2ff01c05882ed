// Package receiver defines the handlers registered on a post bus.
//
// A Receiver is bound to a single topic, the runtime type of the messages it
// accepts, and carries a priority: higher priorities run first. Receivers are
// immutable once built.
//
// Receivers are normally created with the generic Builder:
//
//	r := receiver.New[UserCreated]().
//	    Priority(10).
//	    Filter(func(e UserCreated) bool { return e.Admin }).
//	    Perform(func(e UserCreated) { audit(e) }).
//	    MustBuild()
package receiver

import (
	"reflect"
)

// Receiver handles messages of one topic.
type Receiver interface {
	// Topic returns the runtime type of accepted messages.
	Topic() reflect.Type

	// Priority orders receivers of the same topic. Higher runs first.
	Priority() int

	// Receive handles a message whose runtime type is Topic().
	Receive(msg any) error
}

// Matcher is implemented by receivers that define their own equality.
// Unsubscribe removes registered receivers for which Matches returns true.
type Matcher interface {
	Matches(other Receiver) bool
}

// Provider is implemented by host objects that register their receivers
// explicitly instead of relying on reflection. Receivers must return an
// equivalent set on every call.
type Provider interface {
	Receivers() []Receiver
}

// TopicOf returns the topic of a message. A nil message has no topic.
func TopicOf(msg any) reflect.Type {
	return reflect.TypeOf(msg)
}

// TopicFor returns the topic for messages of type T.
func TopicFor[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Equal reports whether registered matches the candidate r.
// Receivers implementing Matcher decide for themselves; other receivers are
// compared with == when their dynamic type is comparable.
func Equal(registered, r Receiver) bool {
	if registered == nil || r == nil {
		return registered == nil && r == nil
	}
	if m, ok := registered.(Matcher); ok {
		return m.Matches(r)
	}
	t := reflect.TypeOf(registered)
	if t != reflect.TypeOf(r) || !t.Comparable() {
		return false
	}
	return registered == r
}

// Describe renders a receiver for diagnostics.
func Describe(r Receiver) string {
	if s, ok := r.(interface{ String() string }); ok {
		return s.String()
	}
	return reflect.TypeOf(r).String()
}
