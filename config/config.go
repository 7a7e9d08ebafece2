package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaults applied by setDefaults when a field's zero value means "use the
// built-in default" rather than "explicitly configured as zero".
const (
	defaultConnectTimeout   = 10 * time.Second
	defaultRetryInterval    = 2 * time.Second
	defaultRetryLimit       = 5
	defaultTrackerExpiry    = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultAwaitInterval    = 250 * time.Millisecond
	defaultNonceSweep       = 1000
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultLogOutput        = "stdout"
)

// LoadFromFile reads and parses a YAML configuration file, applying
// defaults afterward. Grounded on the teacher's config.LoadFromFile,
// trimmed to YAML only since brypt has no JSON config surface.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile marshals cfg to YAML and writes it to path, mirroring the
// teacher's config.SaveToFile.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// setDefaults fills in zero-valued fields that mean "unset" rather than
// "explicitly zero", the same shape as the teacher's config.setDefaults.
func setDefaults(cfg *Config) {
	if cfg.Identifier == "" {
		cfg.Identifier = IdentifierEphemeral
	}
	if cfg.Security == "" {
		cfg.Security = "classic"
	}
	if cfg.Runtime == "" {
		cfg.Runtime = RuntimeForeground
	}

	if cfg.Timeouts.ConnectTimeout == 0 {
		cfg.Timeouts.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Timeouts.RetryInterval == 0 {
		cfg.Timeouts.RetryInterval = defaultRetryInterval
	}
	if cfg.Timeouts.RetryLimit == 0 {
		cfg.Timeouts.RetryLimit = defaultRetryLimit
	}
	if cfg.Timeouts.TrackerExpiry == 0 {
		cfg.Timeouts.TrackerExpiry = defaultTrackerExpiry
	}
	if cfg.Timeouts.HandshakeTimeout == 0 {
		cfg.Timeouts.HandshakeTimeout = defaultHandshakeTimeout
	}
	cfg.Timeouts.Clamp()

	if cfg.Scheduler.AwaitInterval == 0 {
		cfg.Scheduler.AwaitInterval = defaultAwaitInterval
	}
	if cfg.Scheduler.NonceSweepFrames == 0 {
		cfg.Scheduler.NonceSweepFrames = defaultNonceSweep
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogOutput
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}

// Validate checks invariants LoadFromFile's YAML unmarshal cannot enforce
// on its own: at least one endpoint, a recognized identifier type and
// runtime policy, timeouts within the 24-hour ceiling.
func Validate(cfg *Config) error {
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("config: at least one endpoint is required")
	}
	switch cfg.Identifier {
	case IdentifierEphemeral, IdentifierPersistent:
	default:
		return fmt.Errorf("config: unrecognized identifier_type %q", cfg.Identifier)
	}
	switch cfg.Runtime {
	case RuntimeForeground, RuntimeBackground:
	default:
		return fmt.Errorf("config: unrecognized runtime_policy %q", cfg.Runtime)
	}
	if cfg.Timeouts.ConnectTimeout > maxTimeout || cfg.Timeouts.RetryInterval > maxTimeout ||
		cfg.Timeouts.TrackerExpiry > maxTimeout || cfg.Timeouts.HandshakeTimeout > maxTimeout {
		return fmt.Errorf("config: timeouts must not exceed %s", maxTimeout)
	}
	return nil
}
