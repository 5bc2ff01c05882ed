// Package adapter turns behaviours of host objects into receivers.
//
// A behaviour is a method of the host, a function-typed field, a field holding
// a receiver, or one of the receivers a receiver.Provider returns. The
// Generator compiles each distinct (host type, topic, behaviour) shape into a
// Blueprint exactly once; a Blueprint is then instantiated per host object,
// capturing the method value or field value in a closure. Invoking the
// resulting Adapter is a call through that closure: for topics registered with
// receiver.RegisterTopic the call involves one type assertion and no
// reflection.
//
// Adapters compare equal, through Matches, when they share a blueprint, a host
// object and a priority. An Adapter can be detached into a Binding that does
// not reference the host, and bound again later.
package adapter

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Kind identifies how a behaviour is reached from its host.
type Kind uint8

const (
	// Method is an exported method of the host, looked up by Name.
	Method Kind = iota + 1

	// FuncField is an exported function-typed struct field, looked up by Name.
	FuncField

	// ReceiverField is an exported struct field holding a receiver.Receiver.
	// The adapter takes its topic and priority from the held receiver.
	ReceiverField

	// Provided is the receiver at Index in the host's Receivers() result.
	// The adapter takes its topic and priority from that receiver.
	Provided
)

var kindNames = [...]string{
	Method:        "method",
	FuncField:     "func-field",
	ReceiverField: "receiver-field",
	Provided:      "provided",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Behavior describes one behaviour of a host type.
type Behavior struct {
	Kind  Kind
	Name  string
	Index int
}

func (b Behavior) String() string {
	if b.Kind == Provided {
		return fmt.Sprintf("%s[%d]", b.Kind, b.Index)
	}
	return fmt.Sprintf("%s %s", b.Kind, b.Name)
}

// Key identifies a blueprint. Topic is nil for ReceiverField and Provided
// behaviours, whose topic is only known once bound. For Method and FuncField
// it must equal the behaviour's parameter type; nil accepts any parameter but
// caches a separate blueprint.
type Key struct {
	Host     reflect.Type
	Topic    reflect.Type
	Behavior Behavior
}

func (k Key) String() string {
	topic := "<bound>"
	if k.Topic != nil {
		topic = k.Topic.String()
	}
	return fmt.Sprintf("%s %s(%s)", k.Host, k.Behavior, topic)
}

// flightKey is unique per Key, unlike the type names in String.
func (k Key) flightKey() string {
	return fmt.Sprintf("%p|%p|%d|%s|%d", k.Host, k.Topic, k.Behavior.Kind, k.Behavior.Name, k.Behavior.Index)
}

// Generator compiles and caches blueprints. It is safe for concurrent use.
type Generator struct {
	blueprints sync.Map // Key -> *Blueprint
	group      singleflight.Group
	count      atomic.Int64
	compiles   atomic.Int64
}

// NewGenerator returns an empty generator.
func NewGenerator() *Generator {
	return &Generator{}
}

var defaultGenerator = NewGenerator()

// Default returns the process-wide generator.
func Default() *Generator {
	return defaultGenerator
}

// Generate returns the blueprint for k, compiling it on first use.
// Concurrent first use of one key compiles once and publishes one blueprint.
func (g *Generator) Generate(k Key) (*Blueprint, error) {
	if v, ok := g.blueprints.Load(k); ok {
		return v.(*Blueprint), nil
	}
	v, err, _ := g.group.Do(k.flightKey(), func() (any, error) {
		if v, ok := g.blueprints.Load(k); ok {
			return v, nil
		}
		g.compiles.Add(1)
		bp, err := compile(k)
		if err != nil {
			return nil, err
		}
		actual, loaded := g.blueprints.LoadOrStore(k, bp)
		if !loaded {
			g.count.Add(1)
		}
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Blueprint), nil
}

// Len returns the number of cached blueprints.
func (g *Generator) Len() int {
	return int(g.count.Load())
}
