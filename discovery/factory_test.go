package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/dshills/post/adapter"
	"github.com/dshills/post/config"
	"github.com/dshills/post/receiver"
)

type loginFailed struct{ User string }

type auditor struct {
	calls []string

	Fallback func(loginFailed)       `post:"priority=-10"`
	Strict   func(loginFailed) error `post:"priority=10"`
	Listener receiver.Receiver       `post:""`
	Ignored  func(string)            `post:"-"`
	Untagged func(string)
}

func (a *auditor) OnLogin(e loginFailed) error {
	a.calls = append(a.calls, "method:"+e.User)
	return nil
}

func (a *auditor) OnText(s string) { a.calls = append(a.calls, "text:"+s) }

// Not receivers: lower-case letter after the prefix, or no prefix.
func (a *auditor) Once(string)   {}
func (a *auditor) Handle(string) {}

func (a *auditor) ReceiverPriorities() map[string]int {
	return map[string]int{"OnLogin": 5}
}

func newAuditor() *auditor {
	a := &auditor{}
	a.Fallback = func(e loginFailed) { a.calls = append(a.calls, "fallback") }
	a.Strict = func(e loginFailed) error { a.calls = append(a.calls, "strict"); return nil }
	a.Listener = receiver.New[int]().Priority(7).Perform(func(int) { a.calls = append(a.calls, "listener") }).MustBuild()
	a.Ignored = func(string) { a.calls = append(a.calls, "ignored") }
	a.Untagged = func(string) { a.calls = append(a.calls, "untagged") }
	return a
}

type summary struct {
	topic    string
	priority int
}

func summarize(rs []receiver.Receiver) []summary {
	out := make([]summary, len(rs))
	for i, r := range rs {
		out[i] = summary{r.Topic().String(), r.Priority()}
	}
	return out
}

func TestLookInto_MethodsThenFields(t *testing.T) {
	f := New(adapter.NewGenerator())
	rs, err := f.LookInto(newAuditor(), config.Default())
	require.NoError(t, err)

	assert.Equal(t, []summary{
		{"discovery.loginFailed", 5},
		{"string", 0},
		{"discovery.loginFailed", -10},
		{"discovery.loginFailed", 10},
		{"int", 7},
	}, summarize(rs))

	for _, r := range rs {
		assert.IsType(t, &adapter.Adapter{}, r)
	}
}

func TestLookInto_ReceiversCallHost(t *testing.T) {
	a := newAuditor()
	rs, err := New(nil).LookInto(a, config.Default())
	require.NoError(t, err)

	for _, r := range rs {
		var msg any
		switch r.Topic() {
		case receiver.TopicFor[loginFailed]():
			msg = loginFailed{User: "eve"}
		case receiver.TopicFor[string]():
			msg = "hello"
		case receiver.TopicFor[int]():
			msg = 1
		}
		require.NoError(t, r.Receive(msg))
	}
	assert.Equal(t, []string{"method:eve", "text:hello", "fallback", "strict", "listener"}, a.calls)
}

func TestLookInto_Deterministic(t *testing.T) {
	f := New(adapter.NewGenerator())
	a := newAuditor()
	first, err := f.LookInto(a, config.Default())
	require.NoError(t, err)
	second, err := f.LookInto(a, config.Default())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, receiver.Equal(first[i], second[i]), "receiver %d", i)
	}
	assert.Equal(t, 5, f.Generator().Len())
}

func TestLookInto_CustomPrefixAndTag(t *testing.T) {
	type host struct {
		H func(string) `evt:"priority=3"`
		P func(string) `post:"priority=4"`
	}
	cfg := config.Default()
	cfg.MethodPrefix = "Handle"
	cfg.TagName = "evt"

	h := &host{H: func(string) {}, P: func(string) {}}
	rs, err := New(adapter.NewGenerator()).LookInto(h, cfg)
	require.NoError(t, err)
	assert.Equal(t, []summary{{"string", 3}}, summarize(rs))
}

type broken struct {
	OK      func(string)      `post:"priority=1"`
	BadTag  func(string)      `post:"priority=high"`
	BadOpt  func(string)      `post:"async"`
	NilFunc func(string)      `post:""`
	TwoArgs func(string, int) `post:""`
	NotFunc int               `post:""`
	private func(string)      `post:""`
}

func (b *broken) OnPair(string, int) {}
func (b *broken) OnValue(int) int    { return 0 }

func TestLookInto_SkipsAndReportsBadCandidates(t *testing.T) {
	b := &broken{OK: func(string) {}, BadTag: func(string) {}, BadOpt: func(string) {}, private: func(string) {}}
	rs, err := New(adapter.NewGenerator()).LookInto(b, config.Default())

	assert.Equal(t, []summary{{"string", 1}}, summarize(rs))

	errs := multierr.Errors(err)
	members := make([]string, 0, len(errs))
	for _, e := range errs {
		var ce *CandidateError
		require.ErrorAs(t, e, &ce)
		members = append(members, ce.Member)
	}
	assert.ElementsMatch(t, []string{"OnPair", "OnValue", "BadTag", "BadOpt", "NilFunc", "TwoArgs", "NotFunc", "private"}, members)

	assert.True(t, errors.Is(err, ErrInvalidTag))
	assert.True(t, errors.Is(err, ErrUnsupportedField))
	assert.True(t, errors.Is(err, adapter.ErrNilBehavior))
	assert.True(t, errors.Is(err, adapter.ErrSignature))
	assert.True(t, errors.Is(err, adapter.ErrUnexported))
}

type provided struct {
	rs []receiver.Receiver
}

func (p *provided) Receivers() []receiver.Receiver { return p.rs }

func TestLookInto_Provider(t *testing.T) {
	calls := 0
	p := &provided{rs: []receiver.Receiver{
		receiver.New[string]().Priority(2).Perform(func(string) { calls++ }).MustBuild(),
		nil,
	}}
	rs, err := New(adapter.NewGenerator()).LookInto(p, config.Default())

	assert.Equal(t, []summary{{"string", 2}}, summarize(rs))
	assert.ErrorIs(t, err, adapter.ErrNilBehavior)

	require.NoError(t, rs[0].Receive("x"))
	assert.Equal(t, 1, calls)
}

func TestLookInto_InvalidHost(t *testing.T) {
	f := New(adapter.NewGenerator())
	for _, h := range []any{nil, auditor{}, (*auditor)(nil)} {
		_, err := f.LookInto(h, config.Default())
		assert.ErrorIs(t, err, adapter.ErrInvalidHost)
	}
}

func TestLookInto_EmbeddedMethodsAndFields(t *testing.T) {
	type base struct {
		Base func(int) `post:"priority=1"`
	}
	type derived struct {
		*auditor
		base
	}
	d := &derived{auditor: newAuditor(), base: base{Base: func(int) {}}}
	rs, err := New(adapter.NewGenerator()).LookInto(d, config.Default())
	require.NoError(t, err)

	got := summarize(rs)
	assert.Contains(t, got, summary{"discovery.loginFailed", 5}, "promoted method and priorities")
	assert.Contains(t, got, summary{"int", 1}, "promoted field")
	assert.Contains(t, got, summary{"int", 7}, "promoted receiver field")
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		raw     string
		want    fieldTag
		wantErr bool
	}{
		{"", fieldTag{}, false},
		{"-", fieldTag{skip: true}, false},
		{"priority=10", fieldTag{priority: 10}, false},
		{" priority = -3 ", fieldTag{priority: -3}, false},
		{"priority=x", fieldTag{}, true},
		{"priority", fieldTag{}, true},
		{"async", fieldTag{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTag(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTag)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
