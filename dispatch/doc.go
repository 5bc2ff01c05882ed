// Package dispatch provides the per-topic invocation strategies of a post bus.
//
// A Dispatcher is an immutable snapshot over the receivers of one topic. It is
// never modified after construction: when the receivers of a topic change, the
// registry asks a Factory for a new Dispatcher and publishes it in place of the
// old one, so a dispatch already in flight keeps iterating the sequence it
// started with.
//
// # Variants
//
// The Factory specializes on cardinality once per mutation:
//
//   - Dead: no receivers. Dispatch is a no-op.
//   - Singleton: one receiver, called directly.
//   - Iterative: two or more receivers, called in order by index over a
//     private copy of the sequence.
//
// # Errors
//
// In FailFast mode, the default, the first receiver error ends the pass and is
// returned as a *ReceiverError. In Isolate mode every receiver runs and the
// errors are combined with go.uber.org/multierr; multierr.Errors splits them
// again.
//
// Panics propagate to the caller unless the Factory has Recover set, in which
// case a panic becomes a *PanicError wrapped in a *ReceiverError and is handled
// like any other receiver error.
//
// # Usage
//
//	f := dispatch.Factory{Mode: dispatch.Isolate, Recover: true}
//	d := f.For(receivers)
//	if err := d.Dispatch(msg); err != nil {
//	    for _, e := range multierr.Errors(err) {
//	        // ...
//	    }
//	}
package dispatch
