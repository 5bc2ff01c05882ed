package post

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dshills/post/adapter"
	"github.com/dshills/post/config"
	"github.com/dshills/post/discovery"
	"github.com/dshills/post/dispatch"
	"github.com/dshills/post/executor"
	"github.com/dshills/post/internal/registry"
	"github.com/dshills/post/internal/subcache"
	"github.com/dshills/post/receiver"
)

// ReceiverFactory discovers the receivers of a host object.
type ReceiverFactory interface {
	LookInto(host any, cfg config.Config) ([]receiver.Receiver, error)
}

// Executor runs registry mutations. Tasks must run in submission order.
type Executor interface {
	Submit(task func()) error
}

type flusher interface {
	Flush(ctx context.Context) error
}

type pender interface {
	Pending() int
}

type generatorSource interface {
	Generator() *adapter.Generator
}

// Bus delivers messages to the receivers subscribed to their type.
//
// Dispatch may run on any number of goroutines. Mutations are serialized;
// in deferred mode they run on the executor and may not be visible to the
// very next Dispatch.
type Bus struct {
	id       uuid.UUID
	base     zerolog.Logger
	logger   atomic.Pointer[zerolog.Logger]
	cfg      atomic.Pointer[config.Config]
	registry *registry.Registry
	cache    *subcache.Cache
	factory  ReceiverFactory

	// exec is nil in sync mode. owned is set when the bus created it.
	exec  Executor
	owned *executor.Serial

	onDiscoveryError func(host any, err error)

	// mu orders mutations so the cache and the registry agree.
	mu     sync.Mutex
	closed atomic.Bool
}

// New creates a bus. An invalid configuration is logged and replaced by the
// defaults.
func New(opts ...Option) *Bus {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	base := zerolog.Nop()
	if o.logger != nil {
		base = o.logger.With().Str("bus", id.String()).Str("component", "post").Logger()
	}

	cfg := o.cfg
	if err := cfg.Validate(); err != nil {
		base.Warn().Err(err).Msg("invalid configuration, using defaults")
		cfg = config.Default()
		if o.exec != nil {
			cfg.Mutation = config.MutationDeferred
		}
	}

	b := &Bus{
		id:               id,
		base:             base,
		registry:         registry.New(factoryFor(cfg), cfg.InitialTopicCapacity, cfg.InitialReceiverCapacity),
		cache:            subcache.New(cfg.InitialTopicCapacity),
		factory:          o.factory,
		exec:             o.exec,
		onDiscoveryError: o.onDiscoveryError,
	}
	b.setConfig(cfg)
	if b.factory == nil {
		b.factory = discovery.New(nil)
	}

	if cfg.Deferred() && b.exec == nil {
		s := executor.NewSerial(
			executor.WithQueueSize(cfg.QueueSize),
			executor.WithPanicHandler(func(value any, stack []byte) {
				b.log().Warn().Interface("panic", value).Bytes("stack", stack).Msg("mutation panicked")
			}),
		)
		// A fresh executor cannot already be running.
		_ = s.Start()
		b.exec, b.owned = s, s
	}

	b.log().Debug().Str("mode", cfg.ErrorMode).Str("mutation", cfg.Mutation).Msg("bus created")
	return b
}

func factoryFor(cfg config.Config) dispatch.Factory {
	return dispatch.Factory{Mode: cfg.Mode(), Recover: cfg.RecoverPanics}
}

func (b *Bus) setConfig(cfg config.Config) {
	b.cfg.Store(&cfg)
	l := b.base.Level(cfg.Level())
	b.logger.Store(&l)
}

func (b *Bus) log() *zerolog.Logger {
	return b.logger.Load()
}

// ID returns the bus instance identifier used in its log entries.
func (b *Bus) ID() uuid.UUID { return b.id }

// Config returns the active configuration.
func (b *Bus) Config() config.Config { return *b.cfg.Load() }

// mutate runs fn now in sync mode or queues it on the executor. Callers hold mu.
func (b *Bus) mutate(fn func()) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if b.exec == nil {
		fn()
		return nil
	}
	if err := b.exec.Submit(fn); err != nil {
		return fmt.Errorf("queue mutation: %w", err)
	}
	return nil
}

// checkReceiver rejects receivers that could never be dispatched to.
func checkReceiver(r receiver.Receiver) error {
	if r == nil {
		return ErrNilReceiver
	}
	switch t := r.Topic(); {
	case t == nil:
		return fmt.Errorf("%w: %s", ErrNilTopic, receiver.Describe(r))
	case t.Kind() == reflect.Interface:
		return fmt.Errorf("%w: %s", receiver.ErrInterfaceTopic, receiver.Describe(r))
	}
	return nil
}

func checkReceivers(rs []receiver.Receiver) error {
	for i, r := range rs {
		if err := checkReceiver(r); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// lookInto runs the receiver factory and drops the receivers it returned
// that could never be dispatched to, reporting them in err.
func (b *Bus) lookInto(host any, cfg config.Config) ([]receiver.Receiver, error) {
	found, err := b.factory.LookInto(host, cfg)
	rs := found[:0:0]
	for _, r := range found {
		if cerr := checkReceiver(r); cerr != nil {
			err = multierr.Append(err, cerr)
			continue
		}
		rs = append(rs, r)
	}
	return rs, err
}

// Subscribe registers receivers with their topics. Registering the same
// receiver twice makes it run twice.
func (b *Bus) Subscribe(rs ...receiver.Receiver) error {
	if err := checkReceivers(rs); err != nil {
		return err
	}
	rs = append([]receiver.Receiver(nil), rs...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutate(func() { b.registry.Insert(rs...) }); err != nil {
		return err
	}
	b.log().Debug().Int("receivers", len(rs)).Msg("subscribed")
	return nil
}

// Unsubscribe removes every registration matching one of rs. Receivers that
// are not subscribed are ignored.
//
// A host object stays subscribed as far as SubscribeObject is concerned even
// when its receivers are removed here: subscribing it again is a no-op until
// UnsubscribeObject is called for it.
func (b *Bus) Unsubscribe(rs ...receiver.Receiver) error {
	if err := checkReceivers(rs); err != nil {
		return err
	}
	rs = append([]receiver.Receiver(nil), rs...)

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutate(func() {
		n := b.registry.Remove(rs...)
		b.log().Debug().Int("receivers", len(rs)).Int("removed", n).Msg("unsubscribed")
	})
}

// SubscribeObject registers the receivers discovered on host, a non-nil
// pointer. Subscribing a host that is already subscribed does nothing.
// Malformed candidates are skipped, logged and passed to the discovery
// error handler; they do not fail the call.
func (b *Bus) SubscribeObject(host any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	cfg := b.Config()
	rs, was, err := b.cache.Subscribe(host, func(h any) ([]receiver.Receiver, error) {
		return b.lookInto(h, cfg)
	})
	if errors.Is(err, subcache.ErrInvalidHost) {
		return err
	}
	if err != nil {
		b.reportDiscovery(host, err)
	}
	if was {
		b.log().Debug().Str("host", fmt.Sprintf("%T", host)).Msg("host already subscribed")
		return nil
	}
	if err := b.mutate(func() { b.registry.Insert(rs...) }); err != nil {
		b.cache.Mark(host, false)
		return err
	}
	b.log().Debug().Str("host", fmt.Sprintf("%T", host)).Int("receivers", len(rs)).Msg("host subscribed")
	return nil
}

// UnsubscribeObject removes the receivers of a subscribed host. Unknown hosts
// are ignored.
func (b *Bus) UnsubscribeObject(host any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	rs, was, err := b.cache.Unsubscribe(host)
	if errors.Is(err, subcache.ErrInvalidHost) {
		return err
	}
	if err != nil {
		b.reportDiscovery(host, err)
	}
	if !was {
		return nil
	}
	err = b.mutate(func() {
		n := b.registry.Remove(rs...)
		b.log().Debug().Str("host", fmt.Sprintf("%T", host)).Int("removed", n).Msg("host unsubscribed")
	})
	if err != nil {
		b.cache.Mark(host, true)
	}
	return err
}

func (b *Bus) reportDiscovery(host any, err error) {
	for _, e := range multierr.Errors(err) {
		b.log().Warn().Err(e).Str("host", fmt.Sprintf("%T", host)).Msg("receiver candidate skipped")
	}
	if b.onDiscoveryError != nil {
		b.onDiscoveryError(host, err)
	}
}

// Dispatch delivers msg to the receivers of its dynamic type, highest
// priority first. A nil message or a type without receivers is a no-op.
func (b *Bus) Dispatch(msg any) error {
	if msg == nil {
		return nil
	}
	return b.registry.Dispatcher(reflect.TypeOf(msg)).Dispatch(msg)
}

// Drain removes every receiver and forgets every subscribed host.
func (b *Bus) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutate(b.registry.Clear); err != nil {
		return err
	}
	b.cache.Clear()
	b.log().Debug().Msg("drained")
	return nil
}

// Reconfigure applies the dispatch policy and log level of cfg and
// republishes every dispatcher. Capacities, the mutation mode and the
// discovery method prefix and tag name are fixed at construction: receivers
// already discovered for a host are reused for as long as it is cached.
func (b *Bus) Reconfigure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.Config()
	cfg.Mutation = prev.Mutation
	cfg.QueueSize = prev.QueueSize
	cfg.InitialTopicCapacity = prev.InitialTopicCapacity
	cfg.InitialReceiverCapacity = prev.InitialReceiverCapacity
	cfg.MethodPrefix = prev.MethodPrefix
	cfg.TagName = prev.TagName

	f := factoryFor(cfg)
	if err := b.mutate(func() { b.registry.Rebuild(f) }); err != nil {
		return err
	}
	b.setConfig(cfg)
	b.log().Debug().Str("mode", cfg.ErrorMode).Bool("recover", cfg.RecoverPanics).Msg("reconfigured")
	return nil
}

// Flush waits until every mutation queued so far has been applied. It
// returns immediately in sync mode.
func (b *Bus) Flush(ctx context.Context) error {
	switch e := b.exec.(type) {
	case nil:
		return nil
	case flusher:
		return e.Flush(ctx)
	default:
		done := make(chan struct{})
		if err := e.Submit(func() { close(done) }); err != nil {
			return err
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects further mutations and waits for queued ones. An executor
// created by the bus is stopped; one passed with WithExecutor is only
// flushed. Dispatch keeps working on the final state.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	var err error
	if b.owned != nil {
		err = b.owned.Stop(ctx)
	} else {
		err = b.Flush(ctx)
	}
	b.log().Debug().Err(err).Msg("closed")
	return err
}

// Stats describes the bus at one point in time.
type Stats struct {
	Topics      int
	Receivers   int
	CachedHosts int

	// Blueprints is the number of compiled adapter blueprints, or 0 when the
	// receiver factory does not expose its generator.
	Blueprints int

	// Pending is the number of queued mutations in deferred mode.
	Pending int
}

// Stats returns current counts.
func (b *Bus) Stats() Stats {
	s := Stats{
		Topics:      len(b.registry.Topics()),
		Receivers:   b.registry.Len(),
		CachedHosts: b.cache.Len(),
	}
	if g, ok := b.factory.(generatorSource); ok {
		s.Blueprints = g.Generator().Len()
	}
	if p, ok := b.exec.(pender); ok {
		s.Pending = p.Pending()
	}
	return s
}

// Topics returns the topics with at least one receiver, sorted by name.
func (b *Bus) Topics() []reflect.Type {
	return b.registry.Topics()
}

// Receivers returns the receivers of topic in dispatch order.
func (b *Bus) Receivers(topic reflect.Type) []receiver.Receiver {
	return b.registry.Receivers(topic)
}

// String lists every topic with its receivers in dispatch order.
func (b *Bus) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bus(%s){", b.id)
	for i, topic := range b.registry.Topics() {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: [", topic)
		for j, r := range b.registry.Receivers(topic) {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(receiver.Describe(r))
		}
		sb.WriteString("]")
	}
	sb.WriteString("}")
	return sb.String()
}
