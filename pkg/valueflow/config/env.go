package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Settings are process-level options read from the environment.
type Settings struct {
	// DatabasePath is the SQLite file; ":memory:" keeps everything in memory.
	DatabasePath string `env:"VALUEFLOW_DB_PATH" envDefault:":memory:"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"VALUEFLOW_LOG_LEVEL" envDefault:"info"`
	// MetricsEnabled turns on OpenTelemetry metrics.
	MetricsEnabled bool `env:"VALUEFLOW_METRICS_ENABLED" envDefault:"false"`
	// TracingEnabled turns on OpenTelemetry spans.
	TracingEnabled bool `env:"VALUEFLOW_TRACING_ENABLED" envDefault:"false"`
	// CurrencyResourceTypeID is the resource type used for payment accounts.
	CurrencyResourceTypeID string `env:"VALUEFLOW_CURRENCY_RESOURCE_TYPE" envDefault:"usd"`
	// TransferAttempts bounds payment rail retries.
	TransferAttempts int `env:"VALUEFLOW_TRANSFER_ATTEMPTS" envDefault:"3"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	if s.TransferAttempts < 1 {
		return Settings{}, fmt.Errorf("VALUEFLOW_TRANSFER_ATTEMPTS must be positive, got %d", s.TransferAttempts)
	}
	return s, nil
}

// SlogLevel maps LogLevel onto a slog.Level. Unknown values map to Info.
func (s Settings) SlogLevel() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
