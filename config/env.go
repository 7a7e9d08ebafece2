package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file into the process environment (via
// godotenv, ignoring a missing file), parses the YAML config at path, and
// overlays BRYPT_*-prefixed environment variables on top — the same
// three-stage precedence the teacher's config.Load applies (file,
// substitution, env override), minus the teacher's inline ${VAR} template
// syntax, which brypt has no use for since every override here has a
// single well-known env var name.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironmentOverrides lets deployment environments override a
// handful of commonly-tuned fields without editing the YAML file,
// mirroring the teacher's config.applyEnvironmentOverrides.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("BRYPT_DISPLAY_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv("BRYPT_IDENTIFIER_TYPE"); v != "" {
		cfg.Identifier = IdentifierType(v)
	}
	if v := os.Getenv("BRYPT_SECURITY_STRATEGY"); v != "" {
		cfg.Security = v
	}
	if v := os.Getenv("BRYPT_RUNTIME_POLICY"); v != "" {
		cfg.Runtime = RuntimePolicy(v)
	}
	if v := os.Getenv("BRYPT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BRYPT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BRYPT_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("BRYPT_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("BRYPT_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeouts.ConnectTimeout = d
		}
	}
	if v := os.Getenv("BRYPT_HANDSHAKE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeouts.HandshakeTimeout = d
		}
	}
	if v := os.Getenv("BRYPT_BOOTSTRAP"); v != "" {
		cfg.Bootstrap = append(cfg.Bootstrap, parseBootstrapList(v)...)
	}
	cfg.Timeouts.Clamp()
}

// parseBootstrapList parses a "tcp=127.0.0.1:9000,ws=127.0.0.1:9001"
// style comma-separated BRYPT_BOOTSTRAP value into entries, skipping any
// malformed term rather than failing the whole load.
func parseBootstrapList(raw string) []BootstrapEntry {
	var entries []BootstrapEntry
	for _, term := range strings.Split(raw, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		protocol, address, ok := strings.Cut(term, "=")
		if !ok || protocol == "" || address == "" {
			continue
		}
		entries = append(entries, BootstrapEntry{Protocol: protocol, Address: address})
	}
	return entries
}

// Environment returns the deployment environment name from BRYPT_ENV,
// defaulting to "development", mirroring the teacher's GetEnvironment.
func Environment() string {
	if v := os.Getenv("BRYPT_ENV"); v != "" {
		return strings.ToLower(v)
	}
	return "development"
}

// IsProduction reports whether Environment() is "production".
func IsProduction() bool { return Environment() == "production" }
