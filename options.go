package post

import (
	"github.com/rs/zerolog"

	"github.com/dshills/post/config"
	"github.com/dshills/post/dispatch"
)

// Option configures a Bus.
type Option func(*options)

// options collects the settings applied by New.
type options struct {
	cfg config.Config

	// logger is nil until WithLogger is used.
	logger *zerolog.Logger

	factory ReceiverFactory
	exec    Executor

	// onDiscoveryError receives the candidates skipped while subscribing a
	// host object.
	onDiscoveryError func(host any, err error)
}

func defaultOptions() options {
	return options{cfg: config.Default()}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override single settings.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithErrorMode sets how dispatch treats receiver errors.
func WithErrorMode(m dispatch.Mode) Option {
	return func(o *options) {
		o.cfg.ErrorMode = m.String()
	}
}

// WithPanicRecovery turns receiver panics into errors.
func WithPanicRecovery(enabled bool) Option {
	return func(o *options) {
		o.cfg.RecoverPanics = enabled
	}
}

// WithLogger sets the logger. The bus adds its own fields and applies the
// configured level.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// WithReceiverFactory replaces receiver discovery for host objects.
func WithReceiverFactory(f ReceiverFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithExecutor routes registry mutations through e. The executor must run
// tasks in submission order. The bus does not start or stop it.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		if e != nil {
			o.exec = e
			o.cfg.Mutation = config.MutationDeferred
		}
	}
}

// WithDeferredMutation routes registry mutations through a serial executor
// owned by the bus, queueing up to queueSize of them.
func WithDeferredMutation(queueSize int) Option {
	return func(o *options) {
		o.cfg.Mutation = config.MutationDeferred
		if queueSize > 0 {
			o.cfg.QueueSize = queueSize
		}
	}
}

// WithDiscoveryErrorHandler sets a function called with the candidates that
// were skipped while subscribing a host object.
func WithDiscoveryErrorHandler(fn func(host any, err error)) Option {
	return func(o *options) {
		o.onDiscoveryError = fn
	}
}
