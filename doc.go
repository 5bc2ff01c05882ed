// Package post is an in-process, type-routed event bus.
//
// A message is delivered to every receiver whose topic is the message's
// dynamic type. Receivers of a topic run synchronously on the dispatching
// goroutine, highest priority first; receivers of equal priority run in
// registration order.
//
// # Receivers
//
// Receivers are built with the receiver package:
//
//	r := receiver.New[UserCreated]().
//	    Priority(10).
//	    Filter(func(e UserCreated) bool { return e.Admin }).
//	    Perform(func(e UserCreated) { ... }).
//	    MustBuild()
//
//	bus := post.New()
//	bus.Subscribe(r)
//	bus.Dispatch(UserCreated{Admin: true})
//
// # Host Objects
//
// SubscribeObject registers the receivers found on a host object: methods
// named On<Something> taking one argument, tagged function fields, fields
// holding a receiver, and the receivers of a receiver.Provider. See the
// discovery package for the rules. The bus remembers subscribed hosts without
// keeping them alive, so subscribing a host again is a no-op and
// UnsubscribeObject needs only the host.
//
//	type Mailer struct{}
//
//	func (m *Mailer) OnUserCreated(e UserCreated) error { ... }
//
//	bus.SubscribeObject(&Mailer{})
//
// # Errors
//
// By default dispatch stops at the first receiver error and returns it as a
// *dispatch.ReceiverError. In isolate mode every receiver runs and the errors
// are combined. Panics propagate unless panic recovery is enabled.
//
// # Mutation
//
// Subscribe, Unsubscribe and Drain are serialized and may run concurrently
// with Dispatch, which never blocks on them. With WithDeferredMutation they
// are queued on a single worker and applied in submission order; Flush waits
// for them.
package post
