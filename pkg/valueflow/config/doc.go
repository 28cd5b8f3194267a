/*
Package config provides type-safe configuration extraction from map[string]any
and process settings from the environment.

# Documents

Config wraps a decoded YAML or JSON document and returns defaults for missing
keys and type mismatches:

	cfg, err := config.FromFile("equation.yaml")
	if err != nil {
	    return err
	}
	pct := cfg.Decimal("percentage", decimal.Zero)
	buckets, ok := cfg.Sections("buckets")

Write money as strings ("33.335") so it is parsed exactly. Decimal also
accepts integers and floats.

# Environment

Settings holds database, logging and telemetry options:

	settings, err := config.LoadSettings()
	logger := slog.New(slog.NewJSONHandler(os.Stderr,
	    &slog.HandlerOptions{Level: settings.SlogLevel()}))

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
