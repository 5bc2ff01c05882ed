// Package registry maps topics to their priority-ordered receivers and
// publishes one dispatcher per topic.
//
// Writers are serialized by a mutex. Readers never take it: the dispatcher of
// a topic is loaded from a sync.Map and is replaced, never modified, after the
// topic's sequence has been fully updated and sorted.
package registry

import (
	"cmp"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/dshills/post/dispatch"
	"github.com/dshills/post/receiver"
)

// Registry holds the receivers of every topic.
type Registry struct {
	mu          sync.Mutex
	seqs        map[reflect.Type][]receiver.Receiver
	factory     dispatch.Factory
	topicCap    int
	receiverCap int

	published sync.Map // reflect.Type -> dispatch.Dispatcher
	count     atomic.Int64
}

// New creates an empty registry. The capacities size the topic map and each
// new topic's sequence.
func New(factory dispatch.Factory, topicCap, receiverCap int) *Registry {
	return &Registry{
		seqs:        make(map[reflect.Type][]receiver.Receiver, topicCap),
		factory:     factory,
		topicCap:    topicCap,
		receiverCap: receiverCap,
	}
}

func byTopic(r receiver.Receiver) reflect.Type { return r.Topic() }

// descending orders by priority, higher first.
func descending(a, b receiver.Receiver) int {
	return cmp.Compare(b.Priority(), a.Priority())
}

// Insert adds receivers. Each affected topic is sorted and republished once.
// Nil receivers are ignored.
func (r *Registry) Insert(rs ...receiver.Receiver) {
	rs = lo.Compact(rs)
	if len(rs) == 0 {
		return
	}
	groups := lo.GroupBy(rs, byTopic)

	r.mu.Lock()
	defer r.mu.Unlock()

	for topic, group := range groups {
		seq, ok := r.seqs[topic]
		if !ok {
			seq = make([]receiver.Receiver, 0, max(r.receiverCap, len(group)))
		}
		seq = append(seq, group...)
		slices.SortStableFunc(seq, descending)
		r.seqs[topic] = seq
		r.publish(topic, seq)
	}
	r.count.Add(int64(len(rs)))
}

// Remove deletes every registered receiver matching one of rs and returns
// how many were deleted. Topics left empty are dropped with their dispatcher.
func (r *Registry) Remove(rs ...receiver.Receiver) int {
	rs = lo.Compact(rs)
	if len(rs) == 0 {
		return 0
	}
	groups := lo.GroupBy(rs, byTopic)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for topic, group := range groups {
		seq, ok := r.seqs[topic]
		if !ok {
			continue
		}
		kept := lo.Reject(seq, func(registered receiver.Receiver, _ int) bool {
			return lo.ContainsBy(group, func(c receiver.Receiver) bool {
				return receiver.Equal(registered, c)
			})
		})
		if len(kept) == len(seq) {
			continue
		}
		removed += len(seq) - len(kept)
		if len(kept) == 0 {
			delete(r.seqs, topic)
			r.published.Delete(topic)
			continue
		}
		r.seqs[topic] = kept
		r.publish(topic, kept)
	}
	r.count.Add(-int64(removed))
	return removed
}

// publish must be called with mu held.
func (r *Registry) publish(topic reflect.Type, seq []receiver.Receiver) {
	r.published.Store(topic, r.factory.For(seq))
}

// Dispatcher returns the published dispatcher of topic, or a Dead dispatcher
// for unknown topics.
func (r *Registry) Dispatcher(topic reflect.Type) dispatch.Dispatcher {
	if topic == nil {
		return dispatch.Dead{}
	}
	if d, ok := r.published.Load(topic); ok {
		return d.(dispatch.Dispatcher)
	}
	return dispatch.Dead{}
}

// Receivers returns the receivers of topic in dispatch order.
func (r *Registry) Receivers(topic reflect.Type) []receiver.Receiver {
	return r.Dispatcher(topic).Receivers()
}

// Topics returns every topic with at least one receiver, ordered by name.
func (r *Registry) Topics() []reflect.Type {
	var topics []reflect.Type
	r.published.Range(func(k, _ any) bool {
		topics = append(topics, k.(reflect.Type))
		return true
	})
	slices.SortFunc(topics, func(a, b reflect.Type) int {
		return cmp.Compare(a.String(), b.String())
	})
	return topics
}

// Len returns the number of registered receivers across all topics.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Clear removes every receiver.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seqs = make(map[reflect.Type][]receiver.Receiver, r.topicCap)
	r.published.Clear()
	r.count.Store(0)
}

// Rebuild switches to a new dispatch policy and republishes every topic.
func (r *Registry) Rebuild(factory dispatch.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factory = factory
	for topic, seq := range r.seqs {
		r.publish(topic, seq)
	}
}

// Factory returns the current dispatch policy.
func (r *Registry) Factory() dispatch.Factory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.factory
}
