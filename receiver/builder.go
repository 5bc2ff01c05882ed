package receiver

import (
	"fmt"
	"reflect"
)

// Builder assembles a receiver for topic T. The zero priority is 0.
// A Builder is not safe for concurrent use; the receivers it builds are.
type Builder[T any] struct {
	priority int
	filter   func(T) bool
	action   func(T) error
}

// New starts a receiver for messages of type T and registers T for
// reflection-free adapter calls.
func New[T any]() *Builder[T] {
	RegisterTopic[T]()
	return &Builder[T]{}
}

// Priority sets the receiver priority. Higher runs first.
func (b *Builder[T]) Priority(p int) *Builder[T] {
	b.priority = p
	return b
}

// Filter gates the action: it only runs for messages accepted by f.
func (b *Builder[T]) Filter(f func(T) bool) *Builder[T] {
	b.filter = f
	return b
}

// Perform sets the action.
func (b *Builder[T]) Perform(f func(T)) *Builder[T] {
	if f == nil {
		b.action = nil
		return b
	}
	b.action = func(msg T) error {
		f(msg)
		return nil
	}
	return b
}

// PerformErr sets an action that can fail. Its error is returned from Receive.
func (b *Builder[T]) PerformErr(f func(T) error) *Builder[T] {
	b.action = f
	return b
}

// Build returns the receiver, or ErrNoAction / ErrInterfaceTopic.
func (b *Builder[T]) Build() (Receiver, error) {
	topic := reflect.TypeFor[T]()
	if topic.Kind() == reflect.Interface {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceTopic, topic)
	}
	if b.action == nil {
		return nil, fmt.Errorf("%w: topic %s", ErrNoAction, topic)
	}
	p := &plain[T]{topic: topic, priority: b.priority, action: b.action}
	if b.filter == nil {
		return p, nil
	}
	return &filtered[T]{plain: p, accept: b.filter}, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder[T]) MustBuild() Receiver {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// plain calls its action for every message.
type plain[T any] struct {
	topic    reflect.Type
	priority int
	action   func(T) error
}

func (r *plain[T]) Topic() reflect.Type { return r.topic }
func (r *plain[T]) Priority() int       { return r.priority }

func (r *plain[T]) Receive(msg any) error {
	return r.action(msg.(T))
}

func (r *plain[T]) String() string {
	return fmt.Sprintf("receiver(%s, priority=%d)", r.topic, r.priority)
}

// filtered calls its action only when accept returns true.
type filtered[T any] struct {
	*plain[T]
	accept func(T) bool
}

func (r *filtered[T]) Receive(msg any) error {
	m := msg.(T)
	if !r.accept(m) {
		return nil
	}
	return r.action(m)
}

func (r *filtered[T]) String() string {
	return fmt.Sprintf("filtered(%s, priority=%d)", r.topic, r.priority)
}
