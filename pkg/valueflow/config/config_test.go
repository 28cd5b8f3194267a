package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/config"
)

// TestString verifies string extraction with defaults.
func TestString(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		key        string
		defaultVal string
		want       string
	}{
		{"key exists", map[string]any{"name": "coop"}, "name", "default", "coop"},
		{"key missing", map[string]any{"other": "value"}, "name", "default", "default"},
		{"empty string", map[string]any{"name": ""}, "name", "default", ""},
		{"wrong type int", map[string]any{"name": 123}, "name", "default", "default"},
		{"nil map", nil, "name", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(tt.data)
			assert.Equal(t, tt.want, cfg.String(tt.key, tt.defaultVal))
		})
	}
}

// TestDecimal verifies decimal extraction from the types decoders produce.
func TestDecimal(t *testing.T) {
	def := decimal.NewFromInt(-1)
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string exact", "33.335", "33.335"},
		{"int", 60, "60"},
		{"int64", int64(40), "40"},
		{"float64", 12.5, "12.5"},
		{"decimal", decimal.RequireFromString("0.01"), "0.01"},
		{"bad string", "sixty", "-1"},
		{"wrong type", true, "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"pct": tt.value})
			assert.Equal(t, tt.want, cfg.Decimal("pct", def).String())
		})
	}

	_, ok := config.New(nil).RequireDecimal("pct")
	assert.False(t, ok)
	d, ok := config.New(map[string]any{"pct": "7"}).RequireDecimal("pct")
	assert.True(t, ok)
	assert.Equal(t, "7", d.String())
}

// TestDuration verifies duration extraction with various input types.
func TestDuration(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"string", "30s", 30 * time.Second},
		{"int seconds", 60, 60 * time.Second},
		{"int64 seconds", int64(45), 45 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"duration", 5 * time.Minute, 5 * time.Minute},
		{"invalid string", "soon", 10 * time.Second},
		{"wrong type", true, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"d": tt.value})
			assert.Equal(t, tt.want, cfg.Duration("d", 10*time.Second))
		})
	}
}

// TestTime verifies date parsing.
func TestTime(t *testing.T) {
	def := time.Unix(0, 0).UTC()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value any
		want  time.Time
	}{
		{"rfc3339", "2024-03-01T12:00:00Z", at},
		{"date only", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"time value", at, at},
		{"garbage", "yesterday", def},
		{"wrong type", 5, def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.New(map[string]any{"t": tt.value})
			assert.True(t, tt.want.Equal(cfg.Time("t", def)), "got %v", cfg.Time("t", def))
		})
	}
}

// TestBoolIntSlice verifies the remaining scalar accessors.
func TestBoolIntSlice(t *testing.T) {
	cfg := config.New(map[string]any{
		"live":    true,
		"seq":     3,
		"seq64":   int64(4),
		"seqf":    5.0,
		"frac":    5.5,
		"ids":     []any{"a", "b"},
		"mixed":   []any{"a", 1},
		"strings": []string{"x"},
	})

	assert.True(t, cfg.Bool("live", false))
	assert.True(t, cfg.Bool("missing", true))
	assert.Equal(t, 3, cfg.Int("seq", 0))
	assert.Equal(t, 4, cfg.Int("seq64", 0))
	assert.Equal(t, 5, cfg.Int("seqf", 0))
	assert.Equal(t, 9, cfg.Int("frac", 9))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("ids", nil))
	assert.Nil(t, cfg.StringSlice("mixed", nil))
	assert.Equal(t, []string{"x"}, cfg.StringSlice("strings", nil))
	assert.True(t, cfg.Has("live"))
	assert.False(t, cfg.Has("nope"))
	assert.Equal(t, "fallback", cfg.Any("nope", "fallback"))
	assert.Len(t, cfg.Raw(), 8)
}

// TestSections verifies nested maps and lists of maps.
func TestSections(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
id: ve-1
owner:
  id: coop
buckets:
  - id: b1
    percentage: "60"
  - id: b2
    percentage: 40
`))
	require.NoError(t, err)

	owner, ok := cfg.Section("owner")
	require.True(t, ok)
	assert.Equal(t, "coop", owner.String("id", ""))

	_, ok = cfg.Section("id")
	assert.False(t, ok, "scalar is not a section")
	_, ok = cfg.Section("missing")
	assert.False(t, ok)

	buckets, ok := cfg.Sections("buckets")
	require.True(t, ok)
	require.Len(t, buckets, 2)
	assert.Equal(t, "b1", buckets[0].String("id", ""))
	assert.Equal(t, "60", buckets[0].Decimal("percentage", decimal.Zero).String())
	assert.Equal(t, "40", buckets[1].Decimal("percentage", decimal.Zero).String())

	none, ok := cfg.Sections("rules")
	assert.True(t, ok, "missing list is empty, not invalid")
	assert.Empty(t, none)

	_, ok = cfg.Sections("id")
	assert.False(t, ok)

	mixed := config.New(map[string]any{"list": []any{map[string]any{"id": "x"}, "y"}})
	got, ok := mixed.Sections("list")
	assert.False(t, ok)
	assert.Len(t, got, 1)

	anyKeys := config.New(map[string]any{"m": map[any]any{"id": "z"}})
	sec, ok := anyKeys.Section("m")
	require.True(t, ok)
	assert.Equal(t, "z", sec.String("id", ""))
}

// TestFromJSON verifies JSON parsing.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"name": "ve", "percentage": 33.335, "count": 2}`))
	require.NoError(t, err)
	assert.Equal(t, "ve", cfg.String("name", ""))
	assert.Equal(t, "33.335", cfg.Decimal("percentage", decimal.Zero).String())
	assert.Equal(t, 2, cfg.Int("count", 0))

	_, err = config.FromJSON([]byte(`{invalid json}`))
	assert.Error(t, err)
}

// TestFromYAML_Invalid verifies YAML errors are wrapped.
func TestFromYAML_Invalid(t *testing.T) {
	_, err := config.FromYAML([]byte(`invalid: yaml: content:`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")

	cfg, err := config.FromYAML(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Has("anything"))
}

// TestFromFile verifies file loading with extension detection.
func TestFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "equation.YAML")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`name: fromyaml`), 0o644))
	jsonPath := filepath.Join(tmpDir, "equation.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"name": "fromjson"}`), 0o644))
	txtPath := filepath.Join(tmpDir, "equation.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("content"), 0o644))

	tests := []struct {
		name   string
		path   string
		want   string
		errMsg string
	}{
		{"yaml upper-case extension", yamlPath, "fromyaml", ""},
		{"json file", jsonPath, "fromjson", ""},
		{"unsupported extension", txtPath, "", "unsupported config file extension"},
		{"file not found", filepath.Join(tmpDir, "nope.yaml"), "", "read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.FromFile(tt.path)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.String("name", ""))
		})
	}
}
