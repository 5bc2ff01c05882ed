// Package discovery finds the receivers contributed by a host object.
//
// A host is a non-nil pointer. Its receivers come from three sources, in this
// order:
//
//  1. Methods named with the configured prefix ("On" by default) followed by
//     an upper-case letter, taking one argument and returning nothing or an
//     error. The argument type is the topic. Priorities come from an optional
//     ReceiverPriorities method.
//  2. Exported struct fields carrying the configured tag ("post" by default):
//     handler functions get the tag's priority, fields holding a
//     receiver.Receiver keep their own. The tag "-" excludes a field.
//  3. The receivers returned by a receiver.Provider host.
//
// Every receiver is an adapter, so a cached result never holds the host.
//
//	type Auditor struct {
//	    Fallback func(LoginFailed) `post:"priority=-10"`
//	}
//
//	func (a *Auditor) OnLogin(e Login) error { ... }
//
//	func (a *Auditor) ReceiverPriorities() map[string]int {
//	    return map[string]int{"OnLogin": 10}
//	}
package discovery

import (
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/dshills/post/adapter"
	"github.com/dshills/post/config"
	"github.com/dshills/post/receiver"
)

// Prioritizer is implemented by hosts that assign priorities to their
// receiver methods. Methods missing from the map get priority 0.
type Prioritizer interface {
	ReceiverPriorities() map[string]int
}

var receiverType = reflect.TypeFor[receiver.Receiver]()

// Factory discovers receivers through an adapter generator.
type Factory struct {
	gen *adapter.Generator
}

// New returns a factory using gen, or the default generator when gen is nil.
func New(gen *adapter.Generator) *Factory {
	if gen == nil {
		gen = adapter.Default()
	}
	return &Factory{gen: gen}
}

// Generator returns the generator the factory compiles blueprints with.
func (f *Factory) Generator() *adapter.Generator { return f.gen }

// LookInto returns the receivers of host. Members that look like receivers
// but are malformed are skipped and reported as *CandidateError values
// combined into the returned error; the other receivers are still returned.
func (f *Factory) LookInto(host any, cfg config.Config) ([]receiver.Receiver, error) {
	t := reflect.TypeOf(host)
	if t == nil || t.Kind() != reflect.Pointer || reflect.ValueOf(host).IsNil() {
		return nil, fmt.Errorf("%w: %T", adapter.ErrInvalidHost, host)
	}

	var (
		rs   []receiver.Receiver
		errs error
	)
	add := func(member string, k adapter.Key, priority int) {
		r, err := f.instantiate(host, k, priority)
		if err != nil {
			errs = multierr.Append(errs, &CandidateError{Host: t, Member: member, Err: err})
			return
		}
		rs = append(rs, r)
	}

	f.methods(t, host, cfg, add)
	if err := f.fields(t, cfg, add); err != nil {
		errs = multierr.Append(errs, err)
	}
	if p, ok := host.(receiver.Provider); ok {
		for i := range p.Receivers() {
			add(fmt.Sprintf("Receivers()[%d]", i), adapter.Key{
				Host:     t,
				Behavior: adapter.Behavior{Kind: adapter.Provided, Index: i},
			}, 0)
		}
	}
	return rs, errs
}

func (f *Factory) instantiate(host any, k adapter.Key, priority int) (receiver.Receiver, error) {
	bp, err := f.gen.Generate(k)
	if err != nil {
		return nil, err
	}
	return bp.Instantiate(host, priority)
}

// isHandlerName reports whether name is prefix followed by an upper-case letter.
func isHandlerName(name, prefix string) bool {
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name[len(prefix):])
	return unicode.IsUpper(r)
}

func (f *Factory) methods(t reflect.Type, host any, cfg config.Config, add func(string, adapter.Key, int)) {
	var priorities map[string]int
	if p, ok := host.(Prioritizer); ok {
		priorities = p.ReceiverPriorities()
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !isHandlerName(m.Name, cfg.MethodPrefix) {
			continue
		}
		var topic reflect.Type
		if m.Type.NumIn() == 2 {
			topic = m.Type.In(1)
		}
		add(m.Name, adapter.Key{
			Host:     t,
			Topic:    topic,
			Behavior: adapter.Behavior{Kind: adapter.Method, Name: m.Name},
		}, priorities[m.Name])
	}
}

func (f *Factory) fields(t reflect.Type, cfg config.Config, add func(string, adapter.Key, int)) error {
	elem := t.Elem()
	if elem.Kind() != reflect.Struct {
		return nil
	}
	var errs error
	for _, sf := range reflect.VisibleFields(elem) {
		raw, ok := sf.Tag.Lookup(cfg.TagName)
		if !ok || sf.Anonymous {
			continue
		}
		tag, err := parseTag(raw)
		if err != nil {
			errs = multierr.Append(errs, &CandidateError{Host: t, Member: sf.Name, Err: err})
			continue
		}
		if tag.skip {
			continue
		}
		if !sf.IsExported() {
			errs = multierr.Append(errs, &CandidateError{Host: t, Member: sf.Name, Err: adapter.ErrUnexported})
			continue
		}

		switch {
		case sf.Type.Implements(receiverType):
			add(sf.Name, adapter.Key{
				Host:     t,
				Behavior: adapter.Behavior{Kind: adapter.ReceiverField, Name: sf.Name},
			}, 0)
		case sf.Type.Kind() == reflect.Func:
			var topic reflect.Type
			if sf.Type.NumIn() == 1 {
				topic = sf.Type.In(0)
			}
			add(sf.Name, adapter.Key{
				Host:     t,
				Topic:    topic,
				Behavior: adapter.Behavior{Kind: adapter.FuncField, Name: sf.Name},
			}, tag.priority)
		default:
			errs = multierr.Append(errs, &CandidateError{Host: t, Member: sf.Name, Err: fmt.Errorf("%w: %s", ErrUnsupportedField, sf.Type)})
		}
	}
	return errs
}
