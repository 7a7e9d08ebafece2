// Package config defines brypt's persisted configuration record: the
// "persisted state" spec.md §6 says the core consumes but never produces
// itself. Loading and env overlay live here; the on-disk file format
// remains a thin collaborator concern (YAML in, struct out).
package config

import "time"

// IdentifierType selects how a node's identifier is minted at startup,
// per spec.md §6's identifier-type field.
type IdentifierType string

const (
	IdentifierEphemeral  IdentifierType = "ephemeral"
	IdentifierPersistent IdentifierType = "persistent"
)

// RuntimePolicy selects whether the node's scheduler loop runs on the
// caller's goroutine or a spawned worker, per spec.md §4.9.
type RuntimePolicy string

const (
	RuntimeForeground RuntimePolicy = "foreground"
	RuntimeBackground RuntimePolicy = "background"
)

// maxTimeout is spec.md §5's 24-hour ceiling on connection timeout, retry
// interval, and tracker expiry.
const maxTimeout = 24 * time.Hour

// EndpointConfig describes one transport binding or dial target, per
// spec.md §6's "endpoint definitions".
type EndpointConfig struct {
	Protocol      string `yaml:"protocol" json:"protocol"`
	BindAddress   string `yaml:"bind_address,omitempty" json:"bind_address,omitempty"`
	Bootstrapable bool   `yaml:"bootstrapable" json:"bootstrapable"`
}

// BootstrapEntry is one address the network manager should dial at
// startup, keyed by protocol per spec.md §6.
type BootstrapEntry struct {
	Protocol string `yaml:"protocol" json:"protocol"`
	Address  string `yaml:"address" json:"address"`
}

// TimeoutConfig groups the configurable durations spec.md §5 bounds to a
// 24-hour ceiling: connection timeout, retry interval, tracker expiry
// (the awaitable request deadline), and handshake timeout (how long a
// mediator may stay Unauthorized before it's flagged as failed).
type TimeoutConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval" json:"retry_interval"`
	RetryLimit       int           `yaml:"retry_limit" json:"retry_limit"`
	TrackerExpiry    time.Duration `yaml:"tracker_expiry" json:"tracker_expiry"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
}

// Clamp caps every duration field at the 24-hour ceiling, leaving zero
// values (meaning "use the built-in default") untouched.
func (t *TimeoutConfig) Clamp() {
	if t.ConnectTimeout > maxTimeout {
		t.ConnectTimeout = maxTimeout
	}
	if t.RetryInterval > maxTimeout {
		t.RetryInterval = maxTimeout
	}
	if t.TrackerExpiry > maxTimeout {
		t.TrackerExpiry = maxTimeout
	}
	if t.HandshakeTimeout > maxTimeout {
		t.HandshakeTimeout = maxTimeout
	}
}

// SchedulerConfig tunes the built-in TaskService's housekeeping
// intervals, per spec.md §4.8. AwaitInterval is defaulted to 250ms but
// the runtime loop does not read it; the loop's idle wait is fixed.
type SchedulerConfig struct {
	AwaitInterval    time.Duration `yaml:"await_interval" json:"await_interval"`
	NonceSweepFrames uint64        `yaml:"nonce_sweep_frames" json:"nonce_sweep_frames"`
}

// LoggingConfig mirrors the teacher's logging block: level, format and
// output target only, since brypt's ambient logger has no file-rotation
// concern.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig mirrors the teacher's metrics block.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig mirrors the teacher's health block.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// Config is brypt's complete persisted configuration record, per spec.md
// §6's "persisted state": endpoint definitions, identifier type, security
// strategy, timeouts/retries, node display name/description, log level,
// plus the ambient logging/metrics/health/scheduler/runtime knobs that
// supplement it.
type Config struct {
	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	Identifier IdentifierType `yaml:"identifier_type" json:"identifier_type"`
	Security   string         `yaml:"security_strategy" json:"security_strategy"`
	Runtime    RuntimePolicy  `yaml:"runtime_policy" json:"runtime_policy"`

	Endpoints []EndpointConfig  `yaml:"endpoints" json:"endpoints"`
	Bootstrap []BootstrapEntry  `yaml:"bootstrap" json:"bootstrap"`
	Timeouts  TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Scheduler SchedulerConfig   `yaml:"scheduler" json:"scheduler"`
	Logging   LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health    HealthConfig      `yaml:"health" json:"health"`
}
