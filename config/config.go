// Package config holds the settings of a post bus.
//
// Settings come from Default, optionally overlaid by a TOML or YAML file
// (Load) and by environment variables (ApplyEnv). Watch reloads a file when it
// changes so that a running bus can be reconfigured.
//
// Example TOML:
//
//	error_mode = "isolate"
//	recover_panics = true
//	method_prefix = "On"
//	tag_name = "post"
//	mutation = "deferred"
//	queue_size = 4096
//	log_level = "debug"
package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dshills/post/dispatch"
)

// Mutation modes.
const (
	MutationSync     = "sync"
	MutationDeferred = "deferred"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete set of bus settings.
type Config struct {
	// ErrorMode is "fail-fast" or "isolate".
	ErrorMode string `toml:"error_mode" yaml:"error_mode"`

	// RecoverPanics turns receiver panics into errors.
	RecoverPanics bool `toml:"recover_panics" yaml:"recover_panics"`

	// MethodPrefix marks receiver methods during discovery.
	MethodPrefix string `toml:"method_prefix" yaml:"method_prefix"`

	// TagName is the struct tag read during discovery.
	TagName string `toml:"tag_name" yaml:"tag_name"`

	InitialTopicCapacity    int `toml:"initial_topic_capacity" yaml:"initial_topic_capacity"`
	InitialReceiverCapacity int `toml:"initial_receiver_capacity" yaml:"initial_receiver_capacity"`

	// Mutation is "sync" or "deferred".
	Mutation string `toml:"mutation" yaml:"mutation"`

	// QueueSize bounds the deferred mutation queue.
	QueueSize int `toml:"queue_size" yaml:"queue_size"`

	// LogLevel is a zerolog level name.
	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the default settings.
func Default() Config {
	return Config{
		ErrorMode:               dispatch.FailFast.String(),
		RecoverPanics:           false,
		MethodPrefix:            "On",
		TagName:                 "post",
		InitialTopicCapacity:    20,
		InitialReceiverCapacity: 8,
		Mutation:                MutationSync,
		QueueSize:               1024,
		LogLevel:                zerolog.InfoLevel.String(),
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs error
	if _, err := dispatch.ParseMode(c.ErrorMode); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: error_mode: %w", ErrInvalid, err))
	}
	if r, _ := utf8.DecodeRuneInString(c.MethodPrefix); !unicode.IsUpper(r) {
		errs = multierr.Append(errs, fmt.Errorf("%w: method_prefix %q must start with an upper-case letter", ErrInvalid, c.MethodPrefix))
	}
	if c.TagName == "" || strings.ContainsAny(c.TagName, " :\"") {
		errs = multierr.Append(errs, fmt.Errorf("%w: tag_name %q", ErrInvalid, c.TagName))
	}
	if c.InitialTopicCapacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: initial_topic_capacity %d is negative", ErrInvalid, c.InitialTopicCapacity))
	}
	if c.InitialReceiverCapacity < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: initial_receiver_capacity %d is negative", ErrInvalid, c.InitialReceiverCapacity))
	}
	switch c.Mutation {
	case MutationSync, MutationDeferred:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: mutation %q is neither %q nor %q", ErrInvalid, c.Mutation, MutationSync, MutationDeferred))
	}
	if c.QueueSize <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: queue_size %d must be positive", ErrInvalid, c.QueueSize))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: log_level: %w", ErrInvalid, err))
	}
	return errs
}

// Mode returns the dispatch error mode, FailFast when unparseable.
func (c Config) Mode() dispatch.Mode {
	m, _ := dispatch.ParseMode(c.ErrorMode)
	return m
}

// Deferred reports whether mutations go through the executor.
func (c Config) Deferred() bool {
	return c.Mutation == MutationDeferred
}

// Level returns the log level, info when unparseable.
func (c Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}
