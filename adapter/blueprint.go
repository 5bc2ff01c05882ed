package adapter

import (
	"fmt"
	"reflect"

	"github.com/dshills/post/receiver"
)

var (
	receiverType = reflect.TypeFor[receiver.Receiver]()
	providerType = reflect.TypeFor[receiver.Provider]()
)

// bound is what a blueprint produces for one host value.
type bound struct {
	topic    reflect.Type
	priority int
	inherit  bool
	call     func(any) error
}

// Blueprint is the instance-independent form of an adapter.
type Blueprint struct {
	key  Key
	bind func(host reflect.Value) (bound, error)
}

// Key returns the key the blueprint was compiled for.
func (bp *Blueprint) Key() Key { return bp.key }

// InheritsPriority reports whether instances take their priority from the
// bound receiver rather than from Instantiate.
func (bp *Blueprint) InheritsPriority() bool {
	k := bp.key.Behavior.Kind
	return k == ReceiverField || k == Provided
}

func (bp *Blueprint) String() string { return bp.key.String() }

// Instantiate binds the blueprint to host. For behaviours that inherit their
// priority, priority is ignored.
func (bp *Blueprint) Instantiate(host any, priority int) (*Adapter, error) {
	hv := reflect.ValueOf(host)
	if !hv.IsValid() || hv.Type() != bp.key.Host || hv.IsNil() {
		return nil, fmt.Errorf("%w: got %T for %s", ErrInvalidHost, host, bp.key)
	}
	b, err := bp.bind(hv)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", bp.key, err)
	}
	if !b.inherit {
		b.priority = priority
	}
	return &Adapter{
		bp:       bp,
		host:     identity(hv),
		topic:    b.topic,
		priority: b.priority,
		call:     b.call,
	}, nil
}

func compile(k Key) (*Blueprint, error) {
	if k.Host == nil || k.Host.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHost, k.Host)
	}
	switch k.Behavior.Kind {
	case Method:
		return compileMethod(k)
	case FuncField:
		return compileFuncField(k)
	case ReceiverField:
		return compileReceiverField(k)
	case Provided:
		return compileProvided(k)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k.Behavior.Kind)
}

// checkSignature verifies that fn is a handler of k.Topic.
func checkSignature(k Key, fn reflect.Type) (returnsError bool, err error) {
	topic, returnsError, ok := receiver.HandlerSignature(fn)
	if !ok {
		return false, fmt.Errorf("%w: %s is %s", ErrSignature, k.Behavior.Name, fn)
	}
	if topic.Kind() == reflect.Interface {
		return false, fmt.Errorf("%w: %s", receiver.ErrInterfaceTopic, topic)
	}
	if k.Topic != nil && topic != k.Topic {
		return false, fmt.Errorf("%w: %s takes %s, not %s", ErrSignature, k.Behavior.Name, topic, k.Topic)
	}
	return returnsError, nil
}

func compileMethod(k Key) (*Blueprint, error) {
	m, ok := k.Host.MethodByName(k.Behavior.Name)
	if !ok {
		return nil, fmt.Errorf("%w: method %s on %s", ErrNoMember, k.Behavior.Name, k.Host)
	}
	// Drop the receiver parameter to get the method value's type.
	in := make([]reflect.Type, m.Type.NumIn()-1)
	for i := range in {
		in[i] = m.Type.In(i + 1)
	}
	out := make([]reflect.Type, m.Type.NumOut())
	for i := range out {
		out[i] = m.Type.Out(i)
	}
	returnsError, err := checkSignature(k, reflect.FuncOf(in, out, m.Type.IsVariadic()))
	if err != nil {
		return nil, err
	}
	topic := in[0]
	binder := receiver.BinderFor(topic, returnsError)
	index := m.Index

	return &Blueprint{
		key: Key{Host: k.Host, Topic: topic, Behavior: k.Behavior},
		bind: func(hv reflect.Value) (bound, error) {
			return bound{topic: topic, call: binder(hv.Method(index))}, nil
		},
	}, nil
}

// field resolves an exported struct field of the host's element type.
func field(k Key) (reflect.StructField, error) {
	elem := k.Host.Elem()
	if elem.Kind() != reflect.Struct {
		return reflect.StructField{}, fmt.Errorf("%w: %s is not a struct pointer", ErrNoMember, k.Host)
	}
	sf, ok := elem.FieldByName(k.Behavior.Name)
	if !ok {
		return reflect.StructField{}, fmt.Errorf("%w: field %s on %s", ErrNoMember, k.Behavior.Name, k.Host)
	}
	if !sf.IsExported() {
		return reflect.StructField{}, fmt.Errorf("%w: field %s", ErrUnexported, sf.Name)
	}
	return sf, nil
}

func fieldValue(hv reflect.Value, index []int) (reflect.Value, error) {
	fv, err := hv.Elem().FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrNilBehavior, err)
	}
	if !fv.CanInterface() {
		return reflect.Value{}, ErrUnexported
	}
	if isNil(fv) {
		return reflect.Value{}, ErrNilBehavior
	}
	return fv, nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Func, reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func compileFuncField(k Key) (*Blueprint, error) {
	sf, err := field(k)
	if err != nil {
		return nil, err
	}
	returnsError, err := checkSignature(k, sf.Type)
	if err != nil {
		return nil, err
	}
	topic := sf.Type.In(0)
	binder := receiver.BinderFor(topic, returnsError)
	index := sf.Index

	return &Blueprint{
		key: Key{Host: k.Host, Topic: topic, Behavior: k.Behavior},
		bind: func(hv reflect.Value) (bound, error) {
			fv, err := fieldValue(hv, index)
			if err != nil {
				return bound{}, err
			}
			return bound{topic: topic, call: binder(fv)}, nil
		},
	}, nil
}

func compileReceiverField(k Key) (*Blueprint, error) {
	sf, err := field(k)
	if err != nil {
		return nil, err
	}
	if !sf.Type.Implements(receiverType) {
		return nil, fmt.Errorf("%w: field %s is %s", ErrNotReceiver, sf.Name, sf.Type)
	}
	index := sf.Index

	return &Blueprint{
		key: Key{Host: k.Host, Behavior: k.Behavior},
		bind: func(hv reflect.Value) (bound, error) {
			fv, err := fieldValue(hv, index)
			if err != nil {
				return bound{}, err
			}
			return delegate(fv.Interface().(receiver.Receiver))
		},
	}, nil
}

func compileProvided(k Key) (*Blueprint, error) {
	if !k.Host.Implements(providerType) {
		return nil, fmt.Errorf("%w: %s does not implement receiver.Provider", ErrNoMember, k.Host)
	}
	index := k.Behavior.Index

	return &Blueprint{
		key: Key{Host: k.Host, Behavior: k.Behavior},
		bind: func(hv reflect.Value) (bound, error) {
			rs := hv.Interface().(receiver.Provider).Receivers()
			if index < 0 || index >= len(rs) {
				return bound{}, fmt.Errorf("%w: provider returned %d receivers, want index %d", ErrNoMember, len(rs), index)
			}
			if rs[index] == nil {
				return bound{}, ErrNilBehavior
			}
			return delegate(rs[index])
		},
	}, nil
}

func delegate(r receiver.Receiver) (bound, error) {
	topic := r.Topic()
	if topic == nil || topic.Kind() == reflect.Interface {
		return bound{}, fmt.Errorf("%w: %v", receiver.ErrInterfaceTopic, topic)
	}
	return bound{
		topic:    topic,
		priority: r.Priority(),
		inherit:  true,
		call:     r.Receive,
	}, nil
}

// identity is the address of the host, or 0 for pointers to zero-size values:
// those may share an address with unrelated values, so all hosts of such a
// type are one host.
func identity(hv reflect.Value) uintptr {
	if hv.Type().Elem().Size() == 0 {
		return 0
	}
	return hv.Pointer()
}

// Adapter is a receiver bound to one host object.
type Adapter struct {
	bp       *Blueprint
	host     uintptr
	topic    reflect.Type
	priority int
	call     func(any) error
}

func (a *Adapter) Topic() reflect.Type   { return a.topic }
func (a *Adapter) Priority() int         { return a.priority }
func (a *Adapter) Receive(msg any) error { return a.call(msg) }
func (a *Adapter) Blueprint() *Blueprint { return a.bp }

// Matches reports whether other is an adapter of the same blueprint bound to
// the same host with the same priority.
func (a *Adapter) Matches(other receiver.Receiver) bool {
	o, ok := other.(*Adapter)
	return ok && o.bp == a.bp && o.host == a.host && o.priority == a.priority
}

// Binding detaches the adapter from its host.
func (a *Adapter) Binding() Binding {
	return Binding{Blueprint: a.bp, Priority: a.priority}
}

func (a *Adapter) String() string {
	return fmt.Sprintf("adapter(%s, topic=%s, priority=%d)", a.bp.key, a.topic, a.priority)
}

// Binding is an adapter without its host. It holds no reference to the host
// object, so it can be kept in a cache keyed by that object.
type Binding struct {
	Blueprint *Blueprint
	Priority  int
}

// Bind re-creates an adapter for host. The result Matches any adapter the
// binding was taken from, provided host is the same object.
func (b Binding) Bind(host any) (*Adapter, error) {
	return b.Blueprint.Instantiate(host, b.Priority)
}
