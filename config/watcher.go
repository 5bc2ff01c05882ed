package config

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned by Close on a closed watcher.
var ErrWatcherClosed = errors.New("config watcher is closed")

// ReloadFunc receives the reloaded settings, or the error that prevented
// loading or validating them.
type ReloadFunc func(cfg Config, err error)

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	fn       ReloadFunc
	debounce time.Duration
	prefix   string

	mu     sync.Mutex
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce coalesces changes arriving within d into one reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithEnv applies environment overrides with prefix after every reload.
func WithEnv(prefix string) WatchOption {
	return func(w *Watcher) {
		w.prefix = prefix
	}
}

// Watch calls fn each time path is written, created or renamed into place.
// The parent directory is watched so that editors replacing the file are
// seen. Calls to fn are made one at a time from a single goroutine, and none
// is made after Close returns.
func Watch(path string, fn ReloadFunc, opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := FormatOf(abs); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		fn:       fn,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) loop() {
	defer w.wg.Done()

	// fire is non-nil while a reload is pending.
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			}
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.fn(Config{}, err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil && w.prefix != "" {
		err = cfg.ApplyEnv(w.prefix)
	}
	if err == nil {
		err = cfg.Validate()
	}
	w.fn(cfg, err)
}

// Close stops watching and waits for a reload in progress. Pending reloads
// are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
