package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.False(t, cfg.Has("anything"))

	cfg = New(map[string]any{"a": 1})
	assert.True(t, cfg.Has("a"))
}

func TestString(t *testing.T) {
	cfg := New(map[string]any{"name": "sensor0", "num": 3})

	assert.Equal(t, "sensor0", cfg.String("name", "x"))
	assert.Equal(t, "x", cfg.String("missing", "x"))
	assert.Equal(t, "x", cfg.String("num", "x"))
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "5ms", 5 * time.Millisecond},
		{"int_seconds", 2, 2 * time.Second},
		{"int64_seconds", int64(3), 3 * time.Second},
		{"float_seconds", 0.5, 500 * time.Millisecond},
		{"duration", 7 * time.Millisecond, 7 * time.Millisecond},
		{"bad_string", "nope", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", time.Second))
		})
	}
	assert.Equal(t, time.Second, New(nil).Duration("d", time.Second))
}

func TestIntAndInt64(t *testing.T) {
	cfg := New(map[string]any{
		"i":     42,
		"i64":   int64(99),
		"whole": 7.0,
		"frac":  7.5,
	})

	assert.Equal(t, 42, cfg.Int("i", 0))
	assert.Equal(t, 99, cfg.Int("i64", 0))
	assert.Equal(t, 7, cfg.Int("whole", 0))
	assert.Equal(t, 1, cfg.Int("frac", 1))
	assert.Equal(t, int64(42), cfg.Int64("i", 0))
	assert.Equal(t, int64(99), cfg.Int64("i64", 0))
	assert.Equal(t, int64(5), cfg.Int64("missing", 5))
}

func TestSection(t *testing.T) {
	cfg := New(map[string]any{
		"engine": map[string]any{"history_capacity": 8},
		"flat":   "value",
	})

	assert.Equal(t, 8, cfg.Section("engine").Int("history_capacity", 0))
	assert.False(t, cfg.Section("missing").Has("anything"))
	assert.False(t, cfg.Section("flat").Has("anything"))
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
engine:
  history_capacity: 64
  poll_interval: 2ms
  response_budget_bytes: 4096
  history_path: /tmp/regflow.db
`))
	require.NoError(t, err)

	opts := Engine(cfg)
	assert.Equal(t, 64, opts.HistoryCapacity)
	assert.Equal(t, 2*time.Millisecond, opts.PollInterval)
	assert.Equal(t, int64(4096), opts.ResponseBudgetBytes)
	assert.Equal(t, "/tmp/regflow.db", opts.HistoryPath)
}

func TestEngineDefaults(t *testing.T) {
	opts := Engine(New(nil))
	assert.Equal(t, 32, opts.HistoryCapacity)
	assert.Equal(t, time.Millisecond, opts.PollInterval)
	assert.Equal(t, int64(0), opts.ResponseBudgetBytes)
	assert.Empty(t, opts.HistoryPath)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("engine:\n  history_capacity: 16\n"), 0o644))
	cfg, err := FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 16, Engine(cfg).HistoryCapacity)

	jsonPath := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"engine":{"history_capacity":24}}`), 0o644))
	cfg, err = FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 24, Engine(cfg).HistoryCapacity)

	_, err = FromFile(filepath.Join(dir, "cfg.toml"))
	assert.Error(t, err)

	_, err = FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEngine(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  poll_interval: 4ms\n"), 0o644))

	opts, err := LoadEngine(path)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Millisecond, opts.PollInterval)
	assert.Equal(t, 32, opts.HistoryCapacity)

	_, err = LoadEngine(filepath.Join(dir, "engine.ini"))
	assert.Error(t, err)
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte("engine: [unbalanced"))
	assert.Error(t, err)

	_, err = FromJSON([]byte("{bad"))
	assert.Error(t, err)
}
