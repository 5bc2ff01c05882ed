// Package subcache remembers the receivers discovered for a host object so
// that subscribing or unsubscribing the same object again skips discovery.
//
// Entries are keyed by the host's address and type and validated with a weak
// pointer: the cache never keeps a host alive, and an address reused after
// the host was collected is a miss. Pointers to zero-size values have no
// identity of their own and share one entry per type, kept until Clear.
// Adapter receivers are stored as host-free bindings and bound again on every
// hit.
package subcache

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"weak"

	"go.uber.org/multierr"

	"github.com/dshills/post/adapter"
	"github.com/dshills/post/receiver"
)

// ErrInvalidHost is returned for hosts that are not non-nil pointers.
var ErrInvalidHost = errors.New("host must be a non-nil pointer")

// Discover produces the receivers of a host. It may return receivers together
// with an error describing the candidates it skipped.
type Discover func(host any) ([]receiver.Receiver, error)

// key identifies a host. addr is 0 for zero-size hosts.
type key struct {
	addr uintptr
	typ  reflect.Type
}

// item is one cached receiver: a binding when the receiver was an adapter,
// the receiver itself otherwise.
type item struct {
	binding adapter.Binding
	direct  receiver.Receiver
}

type entry struct {
	host       weak.Pointer[byte]
	shared     bool
	items      []item
	subscribed bool
}

// Cache maps hosts to their receivers. It is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	entries   map[key]*entry
	initial   int
	highWater int
}

// New returns an empty cache sized for capacity hosts.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		entries:   make(map[key]*entry, capacity),
		initial:   capacity,
		highWater: capacity,
	}
}

// identify validates host and returns its key and untyped pointer. The
// pointer is nil for zero-size hosts.
func identify(host any) (key, *byte, error) {
	v := reflect.ValueOf(host)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return key{}, nil, fmt.Errorf("%w: %T", ErrInvalidHost, host)
	}
	if v.Type().Elem().Size() == 0 {
		return key{typ: v.Type()}, nil, nil
	}
	p := (*byte)(v.UnsafePointer())
	return key{addr: v.Pointer(), typ: v.Type()}, p, nil
}

// lookup returns the live entry for k, dropping a stale one.
// Must be called with mu held.
func (c *Cache) lookup(k key, p *byte) *entry {
	e, ok := c.entries[k]
	if !ok {
		return nil
	}
	if !e.shared && e.host.Value() != p {
		delete(c.entries, k)
		return nil
	}
	return e
}

// Subscribe returns the receivers of host, running discover on a miss, and
// marks host subscribed. wasSubscribed reports whether it already was.
// Receivers that cannot be bound again are left out and reported in err.
// Callers that fail to apply the result undo the mark with Mark.
func (c *Cache) Subscribe(host any, discover Discover) (rs []receiver.Receiver, wasSubscribed bool, err error) {
	k, p, err := identify(host)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.lookup(k, p); e != nil {
		wasSubscribed = e.subscribed
		e.subscribed = true
		rs, err = e.bind(host)
		return rs, wasSubscribed, err
	}

	rs, err = discover(host)
	rs = compact(rs)
	c.insert(k, p, rs)
	return rs, false, err
}

// Unsubscribe returns the receivers to remove for host and marks it
// unsubscribed. A host never seen returns nothing.
func (c *Cache) Unsubscribe(host any) (rs []receiver.Receiver, wasSubscribed bool, err error) {
	k, p, err := identify(host)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(k, p)
	if e == nil {
		return nil, false, nil
	}
	wasSubscribed = e.subscribed
	e.subscribed = false
	rs, err = e.bind(host)
	return rs, wasSubscribed, err
}

// Mark sets the subscription state of a cached host. Unknown hosts are
// ignored.
func (c *Cache) Mark(host any, subscribed bool) {
	k, p, err := identify(host)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookup(k, p); e != nil {
		e.subscribed = subscribed
	}
}

func compact(rs []receiver.Receiver) []receiver.Receiver {
	out := rs[:0:0]
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// insert must be called with mu held.
func (c *Cache) insert(k key, p *byte, rs []receiver.Receiver) {
	if len(c.entries) >= c.highWater {
		c.prune()
		c.highWater = max(2*len(c.entries), c.initial)
	}
	items := make([]item, len(rs))
	for i, r := range rs {
		if a, ok := r.(*adapter.Adapter); ok {
			items[i].binding = a.Binding()
		} else {
			items[i].direct = r
		}
	}
	e := &entry{shared: p == nil, items: items, subscribed: true}
	if p != nil {
		e.host = weak.Make(p)
	}
	c.entries[k] = e
}

func (e *entry) bind(host any) ([]receiver.Receiver, error) {
	var errs error
	rs := make([]receiver.Receiver, 0, len(e.items))
	for _, it := range e.items {
		if it.direct != nil {
			rs = append(rs, it.direct)
			continue
		}
		a, err := it.binding.Bind(host)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		rs = append(rs, a)
	}
	return rs, errs
}

// Prune drops entries whose host has been collected and returns how many.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prune()
}

func (c *Cache) prune() int {
	n := 0
	for k, e := range c.entries {
		if !e.shared && e.host.Value() == nil {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including any not yet pruned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[key]*entry, c.initial)
	c.highWater = c.initial
}
