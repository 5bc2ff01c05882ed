// Package executor runs deferred bus mutations.
//
// Serial is a single-worker FIFO queue: tasks run one at a time in the order
// Submit accepted them, which is what a bus needs to apply subscribe and
// unsubscribe operations in submission order without holding its callers.
package executor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicHandler is called with the value and stack of a panicking task.
type PanicHandler func(value any, stack []byte)

// Serial executes submitted tasks on one worker goroutine, in order.
type Serial struct {
	queueSize    int
	panicHandler PanicHandler

	// mu guards queue creation and closing; senders hold it for reading
	// so Stop never closes a channel under them.
	mu      sync.RWMutex
	queue   chan func()
	running atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
}

// Option configures a Serial executor.
type Option func(*Serial)

// WithQueueSize sets the queue capacity. Submit blocks while the queue is full.
func WithQueueSize(size int) Option {
	return func(s *Serial) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithPanicHandler sets the handler for panicking tasks. A panicking task
// never stops the worker.
func WithPanicHandler(h PanicHandler) Option {
	return func(s *Serial) {
		s.panicHandler = h
	}
}

// NewSerial creates a stopped executor.
func NewSerial(opts ...Option) *Serial {
	s := &Serial{queueSize: 1024}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the worker.
func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}
	s.queue = make(chan func(), s.queueSize)
	s.running.Store(true)

	s.wg.Add(1)
	go s.worker(s.queue)
	return nil
}

// Stop stops accepting tasks and waits for the queued ones to finish, or
// for ctx to be done.
func (s *Serial) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running.Store(false)
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues task. It blocks while the queue is full and must not be
// called from a task.
func (s *Serial) Submit(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running.Load() {
		return ErrNotRunning
	}
	s.queue <- task
	s.submitted.Add(1)
	return nil
}

// Flush waits until every task submitted before the call has run.
// A stopped executor has nothing to flush.
func (s *Serial) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.Submit(func() { close(done) }); err != nil {
		if err == ErrNotRunning {
			return nil
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) worker(queue <-chan func()) {
	defer s.wg.Done()
	for task := range queue {
		s.run(task)
	}
}

func (s *Serial) run(task func()) {
	defer func() {
		s.processed.Add(1)
		if r := recover(); r != nil {
			s.panicked.Add(1)
			if s.panicHandler != nil {
				stack := debug.Stack()
				func() {
					defer func() { _ = recover() }()
					s.panicHandler(r, stack)
				}()
			}
		}
	}()
	task()
}

// Pending returns the number of queued tasks not yet started.
func (s *Serial) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil {
		return 0
	}
	return len(s.queue)
}

// IsRunning returns true if the executor accepts tasks.
func (s *Serial) IsRunning() bool {
	return s.running.Load()
}

// Stats contains executor statistics.
type Stats struct {
	// Submitted is the number of tasks accepted by Submit.
	Submitted uint64

	// Processed is the number of tasks that have run, panicking or not.
	Processed uint64

	// Panicked is the number of tasks that panicked.
	Panicked uint64

	// Pending is the number of queued tasks.
	Pending int
}

// Stats returns executor statistics.
func (s *Serial) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Processed: s.processed.Load(),
		Panicked:  s.panicked.Load(),
		Pending:   s.Pending(),
	}
}
