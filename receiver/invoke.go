package receiver

import (
	"reflect"
	"sync"
)

// Binder turns a function value into a type-erased call. Binders are
// resolved once per behaviour shape and applied once per bound instance.
type Binder func(fn reflect.Value) func(msg any) error

type binderPair struct {
	plain     Binder // func(T)
	withError Binder // func(T) error
}

var binders sync.Map // reflect.Type -> binderPair

var errorType = reflect.TypeFor[error]()

func init() {
	RegisterTopic[string]()
	RegisterTopic[int]()
	RegisterTopic[int64]()
	RegisterTopic[uint64]()
	RegisterTopic[float64]()
	RegisterTopic[bool]()
	RegisterTopic[[]byte]()
}

// RegisterTopic registers T so that functions taking a T are bound without
// reflection on the call path. Registering the same type twice is harmless.
func RegisterTopic[T any]() {
	t := reflect.TypeFor[T]()
	if _, ok := binders.Load(t); ok {
		return
	}
	binders.LoadOrStore(t, binderPair{
		plain: func(fn reflect.Value) func(any) error {
			f := convert(fn, reflect.TypeFor[func(T)]()).Interface().(func(T))
			return func(msg any) error {
				f(msg.(T))
				return nil
			}
		},
		withError: func(fn reflect.Value) func(any) error {
			f := convert(fn, reflect.TypeFor[func(T) error]()).Interface().(func(T) error)
			return func(msg any) error {
				return f(msg.(T))
			}
		},
	})
}

// Registered reports whether topic has a reflection-free binder.
func Registered(topic reflect.Type) bool {
	_, ok := binders.Load(topic)
	return ok
}

// BinderFor returns the binder for functions of one argument of type topic,
// returning nothing or an error as returnsError says. Unregistered topics get
// a binder that calls through reflect.Value.Call.
func BinderFor(topic reflect.Type, returnsError bool) Binder {
	if v, ok := binders.Load(topic); ok {
		pair := v.(binderPair)
		if returnsError {
			return pair.withError
		}
		return pair.plain
	}
	return func(fn reflect.Value) func(any) error {
		return func(msg any) error {
			out := fn.Call([]reflect.Value{reflect.ValueOf(msg)})
			if !returnsError {
				return nil
			}
			if err, _ := out[0].Interface().(error); err != nil {
				return err
			}
			return nil
		}
	}
}

// HandlerSignature reports whether t is a function of exactly one argument
// returning nothing or an error, and if so the argument type.
func HandlerSignature(t reflect.Type) (topic reflect.Type, returnsError bool, ok bool) {
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.IsVariadic() {
		return nil, false, false
	}
	switch t.NumOut() {
	case 0:
		return t.In(0), false, true
	case 1:
		if t.Out(0) == errorType {
			return t.In(0), true, true
		}
	}
	return nil, false, false
}

// convert adapts named function types to their unnamed signature.
func convert(fn reflect.Value, to reflect.Type) reflect.Value {
	if fn.Type() == to {
		return fn
	}
	return fn.Convert(to)
}
