package dispatch

import (
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/multierr"

	"github.com/dshills/post/receiver"
)

// Dispatcher invokes the receivers of one topic.
type Dispatcher interface {
	// Dispatch delivers msg to every receiver in order.
	Dispatch(msg any) error

	// Len returns the number of receivers.
	Len() int

	// Receivers returns a copy of the receivers in dispatch order.
	Receivers() []receiver.Receiver
}

// Mode selects how receiver errors affect the rest of a pass.
type Mode int

const (
	// FailFast stops at the first receiver error.
	FailFast Mode = iota

	// Isolate runs every receiver and combines their errors.
	Isolate
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case Isolate:
		return "isolate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a configuration name. The empty string is FailFast.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast", "failfast":
		return FailFast, nil
	case "isolate":
		return Isolate, nil
	}
	return FailFast, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Factory builds dispatchers under one dispatch policy.
// The zero Factory is fail-fast without panic recovery.
type Factory struct {
	Mode    Mode
	Recover bool
}

// For returns the dispatcher for rs, specialized on len(rs).
// The receivers must share a topic and be in dispatch order; For copies them.
func (f Factory) For(rs []receiver.Receiver) Dispatcher {
	switch len(rs) {
	case 0:
		return Dead{}
	case 1:
		return &Singleton{r: rs[0], recover: f.Recover}
	default:
		own := make([]receiver.Receiver, len(rs))
		copy(own, rs)
		return &Iterative{receivers: own, mode: f.Mode, recover: f.Recover}
	}
}

// Dead is the dispatcher of a topic without receivers.
type Dead struct{}

func (Dead) Dispatch(any) error             { return nil }
func (Dead) Len() int                       { return 0 }
func (Dead) Receivers() []receiver.Receiver { return nil }

// Singleton calls its only receiver directly.
type Singleton struct {
	r       receiver.Receiver
	recover bool
}

func (d *Singleton) Dispatch(msg any) error {
	var err error
	if d.recover {
		err = safeReceive(d.r, msg)
	} else {
		err = d.r.Receive(msg)
	}
	if err != nil {
		return wrap(d.r, 0, err)
	}
	return nil
}

func (d *Singleton) Len() int { return 1 }

func (d *Singleton) Receivers() []receiver.Receiver {
	return []receiver.Receiver{d.r}
}

// Iterative calls two or more receivers in order.
type Iterative struct {
	receivers []receiver.Receiver
	mode      Mode
	recover   bool
}

func (d *Iterative) Dispatch(msg any) error {
	if d.mode == Isolate {
		var errs error
		for i := 0; i < len(d.receivers); i++ {
			if err := d.call(i, msg); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}
	for i := 0; i < len(d.receivers); i++ {
		if err := d.call(i, msg); err != nil {
			return err
		}
	}
	return nil
}

func (d *Iterative) call(i int, msg any) error {
	r := d.receivers[i]
	var err error
	if d.recover {
		err = safeReceive(r, msg)
	} else {
		err = r.Receive(msg)
	}
	if err != nil {
		return wrap(r, i, err)
	}
	return nil
}

func (d *Iterative) Len() int { return len(d.receivers) }

func (d *Iterative) Receivers() []receiver.Receiver {
	out := make([]receiver.Receiver, len(d.receivers))
	copy(out, d.receivers)
	return out
}

func wrap(r receiver.Receiver, index int, err error) error {
	return &ReceiverError{
		Topic:    r.Topic(),
		Index:    index,
		Priority: r.Priority(),
		Err:      err,
	}
}

// safeReceive converts a panic in r into a *PanicError.
func safeReceive(r receiver.Receiver, msg any) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return r.Receive(msg)
}
