package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/dshills/post/dispatch"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, dispatch.FailFast, cfg.Mode())
	assert.False(t, cfg.Deferred())
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.Equal(t, 20, cfg.InitialTopicCapacity)
	assert.Equal(t, 8, cfg.InitialReceiverCapacity)
	assert.Equal(t, "On", cfg.MethodPrefix)
	assert.Equal(t, "post", cfg.TagName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"error mode", func(c *Config) { c.ErrorMode = "sometimes" }},
		{"lower-case prefix", func(c *Config) { c.MethodPrefix = "on" }},
		{"empty prefix", func(c *Config) { c.MethodPrefix = "" }},
		{"empty tag", func(c *Config) { c.TagName = "" }},
		{"tag with colon", func(c *Config) { c.TagName = "a:b" }},
		{"topic capacity", func(c *Config) { c.InitialTopicCapacity = -1 }},
		{"receiver capacity", func(c *Config) { c.InitialReceiverCapacity = -1 }},
		{"mutation", func(c *Config) { c.Mutation = "lazy" }},
		{"queue size", func(c *Config) { c.QueueSize = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.QueueSize = -1
	cfg.Mutation = "lazy"
	assert.Len(t, multierr.Errors(cfg.Validate()), 2)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "post.toml", `
error_mode = "isolate"
recover_panics = true
queue_size = 16
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Isolate, cfg.Mode())
	assert.True(t, cfg.RecoverPanics)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, "On", cfg.MethodPrefix, "absent keys keep defaults")
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "post.yml", "mutation: deferred\nlog_level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Deferred())
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""), YAML)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeFile(t, "post.toml", `error_mod = "isolate"`))
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = Load(writeFile(t, "post.yaml", "error_mod: isolate\n"))
	assert.ErrorAs(t, err, &pe)
}

func TestLoad_SyntaxErrorPosition(t *testing.T) {
	_, err := Load(writeFile(t, "post.toml", "queue_size = 1\nerror_mode = \n"))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)
	assert.Contains(t, pe.Error(), "line 2")
}

func TestLoad_UnknownFormat(t *testing.T) {
	_, err := Load("post.json")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = LoadFromReader(strings.NewReader(""), Format("ini"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("POST_ERROR_MODE", "isolate")
	t.Setenv("POST_RECOVER_PANICS", "yes")
	t.Setenv("POST_QUEUE_SIZE", "32")
	t.Setenv("POST_INITIAL_TOPIC_CAPACITY", "not-a-number")

	cfg := Default()
	err := cfg.ApplyEnv(DefaultEnvPrefix)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POST_INITIAL_TOPIC_CAPACITY")

	assert.Equal(t, "isolate", cfg.ErrorMode)
	assert.True(t, cfg.RecoverPanics)
	assert.Equal(t, 32, cfg.QueueSize)
	assert.Equal(t, 20, cfg.InitialTopicCapacity)
}

func TestApplyEnv_Unset(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv("POST_TEST_UNSET_"))
	assert.Equal(t, Default(), cfg)
}

func TestWatch_Reloads(t *testing.T) {
	path := writeFile(t, "post.toml", `error_mode = "fail-fast"`)

	var (
		mu   sync.Mutex
		last Config
		errs []error
	)
	w, err := Watch(path, func(cfg Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		last = cfg
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`error_mode = "isolate"`), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.ErrorMode == "isolate"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`error_mode = "sometimes"`), 0o644))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_CallsOneAtATime(t *testing.T) {
	path := writeFile(t, "post.toml", `queue_size = 1`)

	var calls, running, overlaps atomic.Int32
	w, err := Watch(path, func(Config, error) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		calls.Add(1)
	}, WithDebounce(0))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`queue_size = 2`), 0o644))
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	after := calls.Load()
	assert.Zero(t, running.Load(), "no reload in progress after Close")

	require.NoError(t, os.WriteFile(path, []byte(`queue_size = 3`), 0o644))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.Zero(t, overlaps.Load())
}

func TestWatch_Close(t *testing.T) {
	path := writeFile(t, "post.yaml", "queue_size: 2\n")
	w, err := Watch(path, func(Config, error) {})
	require.NoError(t, err)

	assert.Equal(t, path, w.Path())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
}

func TestWatch_UnknownFormat(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "post.ini"), func(Config, error) {})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
