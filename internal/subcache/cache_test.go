package subcache

import (
	"errors"
	"reflect"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/post/adapter"
	"github.com/dshills/post/receiver"
)

type host struct {
	name string
	got  []string
}

func (h *host) OnText(s string) { h.got = append(h.got, s) }

type stateless struct{}

func (*stateless) OnText(string) {}

// discoverer counts discovery runs and builds one method adapter per host.
type discoverer struct {
	gen   *adapter.Generator
	runs  int
	extra receiver.Receiver
	err   error
}

func (d *discoverer) discover(h any) ([]receiver.Receiver, error) {
	d.runs++
	bp, err := d.gen.Generate(adapter.Key{
		Host:     reflect.TypeOf(h),
		Behavior: adapter.Behavior{Kind: adapter.Method, Name: "OnText"},
	})
	if err != nil {
		return nil, err
	}
	a, err := bp.Instantiate(h, 3)
	if err != nil {
		return nil, err
	}
	rs := []receiver.Receiver{a}
	if d.extra != nil {
		rs = append(rs, d.extra)
	}
	return rs, d.err
}

func newDiscoverer() *discoverer {
	return &discoverer{gen: adapter.NewGenerator()}
}

func TestSubscribe_MissThenHit(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	h := &host{name: "h"}

	rs1, was, err := c.Subscribe(h, d.discover)
	require.NoError(t, err)
	assert.False(t, was)
	require.Len(t, rs1, 1)

	rs2, was, err := c.Subscribe(h, d.discover)
	require.NoError(t, err)
	assert.True(t, was)
	require.Len(t, rs2, 1)

	assert.Equal(t, 1, d.runs)
	assert.True(t, receiver.Equal(rs1[0], rs2[0]))
	assert.Equal(t, 1, c.Len())
}

func TestUnsubscribe(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	h := &host{name: "h"}

	rs, was, err := c.Unsubscribe(h)
	require.NoError(t, err)
	assert.False(t, was)
	assert.Empty(t, rs, "unknown host")

	sub, _, err := c.Subscribe(h, d.discover)
	require.NoError(t, err)

	rs, was, err = c.Unsubscribe(h)
	require.NoError(t, err)
	assert.True(t, was)
	require.Len(t, rs, 1)
	assert.True(t, receiver.Equal(sub[0], rs[0]))

	_, was, err = c.Unsubscribe(h)
	require.NoError(t, err)
	assert.False(t, was)

	_, was, err = c.Subscribe(h, d.discover)
	require.NoError(t, err)
	assert.False(t, was, "resubscribe after unsubscribe")
	assert.Equal(t, 1, d.runs)
}

func TestSubscribe_ReboundAdapterCallsSameHost(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	h := &host{}
	c.Subscribe(h, d.discover)

	rs, _, err := c.Subscribe(h, d.discover)
	require.NoError(t, err)
	require.NoError(t, rs[0].Receive("again"))
	assert.Equal(t, []string{"again"}, h.got)
}

func TestSubscribe_DirectReceiversKept(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	d.extra = receiver.New[int]().Perform(func(int) {}).MustBuild()
	h := &host{}

	c.Subscribe(h, d.discover)
	rs, _, err := c.Unsubscribe(h)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.True(t, receiver.Equal(d.extra, rs[1]))
}

func TestSubscribe_PartialDiscovery(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	d.err = errors.New("skipped candidate")

	rs, _, err := c.Subscribe(&host{}, d.discover)
	assert.ErrorIs(t, err, d.err)
	assert.Len(t, rs, 1)
}

func TestSubscribe_InvalidHost(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	for _, h := range []any{nil, host{}, (*host)(nil), 3} {
		_, _, err := c.Subscribe(h, d.discover)
		assert.ErrorIs(t, err, ErrInvalidHost)
		_, _, err = c.Unsubscribe(h)
		assert.ErrorIs(t, err, ErrInvalidHost)
	}
	assert.Equal(t, 0, d.runs)
}

func TestSubscribe_ZeroSizeHostsShareEntry(t *testing.T) {
	c := New(4)
	d := newDiscoverer()

	first, was, err := c.Subscribe(&stateless{}, d.discover)
	require.NoError(t, err)
	assert.False(t, was)

	second, was, err := c.Subscribe(&stateless{}, d.discover)
	require.NoError(t, err)
	assert.True(t, was)
	assert.True(t, receiver.Equal(first[0], second[0]))
	assert.Equal(t, 1, d.runs)

	runtime.GC()
	assert.Zero(t, c.Prune(), "shared entries have no host to collect")

	rs, was, err := c.Unsubscribe(&stateless{})
	require.NoError(t, err)
	assert.True(t, was)
	assert.Len(t, rs, 1)
}

func TestMark(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	h := &host{}

	c.Mark(h, true)
	assert.Zero(t, c.Len(), "unknown host")

	c.Subscribe(h, d.discover)
	c.Mark(h, false)
	_, was, err := c.Subscribe(h, d.discover)
	require.NoError(t, err)
	assert.False(t, was)

	c.Mark(h, true)
	_, was, err = c.Unsubscribe(h)
	require.NoError(t, err)
	assert.True(t, was)
	assert.Equal(t, 1, d.runs)
}

func TestClear(t *testing.T) {
	c := New(4)
	d := newDiscoverer()
	h := &host{}
	c.Subscribe(h, d.discover)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, was, _ := c.Subscribe(h, d.discover)
	assert.False(t, was)
	assert.Equal(t, 2, d.runs)
}

func subscribeGarbage(c *Cache, d *discoverer, n int) {
	for i := 0; i < n; i++ {
		c.Subscribe(&host{name: "tmp"}, d.discover)
	}
}

func TestPrune_CollectedHosts(t *testing.T) {
	c := New(64)
	d := newDiscoverer()
	keep := &host{name: "keep"}
	c.Subscribe(keep, d.discover)
	subscribeGarbage(c, d, 10)

	pruned := 0
	for i := 0; i < 10 && c.Len() > 1; i++ {
		runtime.GC()
		pruned += c.Prune()
	}
	assert.Equal(t, 10, pruned)
	assert.Equal(t, 1, c.Len())

	_, was, err := c.Subscribe(keep, d.discover)
	require.NoError(t, err)
	assert.True(t, was)
	runtime.KeepAlive(keep)
}

func TestInsert_PrunesWhenFull(t *testing.T) {
	c := New(2)
	d := newDiscoverer()
	subscribeGarbage(c, d, 2)
	for i := 0; i < 3; i++ {
		runtime.GC()
	}

	next := &host{name: "next"}
	c.Subscribe(next, d.discover)
	assert.Equal(t, 1, c.Len())
	runtime.KeepAlive(next)
}
