package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if s, ok := v.(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Time returns the time value for key, or defaultVal if missing or invalid.
// Strings are parsed as RFC 3339 or as a plain date (2006-01-02).
func (c Config) Time(key string, defaultVal time.Time) time.Time {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		for _, layout := range []string{time.RFC3339, time.DateOnly} {
			if t, err := time.Parse(layout, val); err == nil {
				return t
			}
		}
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
// A float64 is accepted only when it has no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Decimal returns the decimal value for key, or defaultVal if missing or not
// convertible.
//
// Accepts:
//   - string: parsed exactly ("33.335")
//   - int, int64: converted exactly
//   - float64: converted using its shortest representation
//   - decimal.Decimal: used directly
//
// Money should be written as strings in documents; YAML and JSON floats are
// binary and may not round-trip.
func (c Config) Decimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	d, ok := c.decimal(key)
	if !ok {
		return defaultVal
	}
	return d
}

// RequireDecimal is like Decimal but reports whether a valid value was found.
func (c Config) RequireDecimal(key string) (decimal.Decimal, bool) {
	return c.decimal(key)
}

func (c Config) decimal(key string) (decimal.Decimal, bool) {
	v, ok := c.data[key]
	if !ok {
		return decimal.Zero, false
	}
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case float64:
		return decimal.NewFromFloat(val), true
	case decimal.Decimal:
		return val, true
	}
	return decimal.Zero, false
}

// StringSlice returns the string slice for key, or defaultVal if missing or not convertible.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	}
	return defaultVal
}

// Section returns the nested map at key as a Config. The second result is
// false when the key is missing or not a map.
func (c Config) Section(key string) (Config, bool) {
	v, ok := c.data[key]
	if !ok {
		return New(nil), false
	}
	m, ok := asMap(v)
	if !ok {
		return New(nil), false
	}
	return New(m), true
}

// Sections returns the list of maps at key as Configs. Elements that are not
// maps are skipped; ok is false if any were.
func (c Config) Sections(key string) (sections []Config, ok bool) {
	v, found := c.data[key]
	if !found {
		return nil, true
	}
	items, isList := v.([]any)
	if !isList {
		return nil, false
	}
	ok = true
	for _, item := range items {
		m, isMap := asMap(item)
		if !isMap {
			ok = false
			continue
		}
		sections = append(sections, New(m))
	}
	return sections, ok
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	}
	return nil, false
}

// Any returns the raw value for key, or defaultVal if missing.
func (c Config) Any(key string, defaultVal any) any {
	v, ok := c.data[key]
	if !ok {
		return defaultVal
	}
	return v
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
