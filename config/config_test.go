package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
display_name: leaf-node
endpoints:
  - protocol: tcp
    bind_address: 127.0.0.1:0
    bootstrapable: false
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "leaf-node", cfg.DisplayName)
	assert.Equal(t, IdentifierEphemeral, cfg.Identifier)
	assert.Equal(t, "classic", cfg.Security)
	assert.Equal(t, RuntimeForeground, cfg.Runtime)
	assert.Equal(t, defaultConnectTimeout, cfg.Timeouts.ConnectTimeout)
	assert.Equal(t, defaultRetryLimit, cfg.Timeouts.RetryLimit)
	assert.Equal(t, defaultHandshakeTimeout, cfg.Timeouts.HandshakeTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestLoadFromFilePreservesExplicitValues(t *testing.T) {
	path := writeConfigFile(t, `
display_name: explicit-node
identifier_type: persistent
security_strategy: circl-hpke
runtime_policy: background
timeouts:
  connect_timeout: 5s
  retry_limit: 2
  handshake_timeout: 3s
endpoints:
  - protocol: tcp
    bind_address: 127.0.0.1:0
    bootstrapable: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, IdentifierPersistent, cfg.Identifier)
	assert.Equal(t, "circl-hpke", cfg.Security)
	assert.Equal(t, RuntimeBackground, cfg.Runtime)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.ConnectTimeout)
	assert.Equal(t, 2, cfg.Timeouts.RetryLimit)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.HandshakeTimeout)
}

func TestLoadFromFileReturnsErrorOnMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadFromFileReturnsErrorOnMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "endpoints: [this is not valid: yaml: at all")
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestTimeoutConfigClampEnforcesTwentyFourHourCeiling(t *testing.T) {
	tc := TimeoutConfig{
		ConnectTimeout:   48 * time.Hour,
		RetryInterval:    25 * time.Hour,
		TrackerExpiry:    30 * time.Hour,
		HandshakeTimeout: 26 * time.Hour,
	}
	tc.Clamp()

	assert.Equal(t, maxTimeout, tc.ConnectTimeout)
	assert.Equal(t, maxTimeout, tc.RetryInterval)
	assert.Equal(t, maxTimeout, tc.TrackerExpiry)
	assert.Equal(t, maxTimeout, tc.HandshakeTimeout)
}

func TestValidateRejectsConfigWithNoEndpoints(t *testing.T) {
	cfg := &Config{Identifier: IdentifierEphemeral, Runtime: RuntimeForeground}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestValidateRejectsUnrecognizedIdentifierType(t *testing.T) {
	cfg := &Config{
		Identifier: "bogus",
		Runtime:    RuntimeForeground,
		Endpoints:  []EndpointConfig{{Protocol: "tcp"}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identifier_type")
}

func TestValidateRejectsUnrecognizedRuntimePolicy(t *testing.T) {
	cfg := &Config{
		Identifier: IdentifierEphemeral,
		Runtime:    "eventually",
		Endpoints:  []EndpointConfig{{Protocol: "tcp"}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime_policy")
}

func TestSaveToFileRoundTripsThroughLoadFromFile(t *testing.T) {
	original := &Config{
		DisplayName: "round-trip-node",
		Identifier:  IdentifierPersistent,
		Security:    "secp256k1",
		Runtime:     RuntimeBackground,
		Endpoints:   []EndpointConfig{{Protocol: "tcp", BindAddress: "127.0.0.1:9000", Bootstrapable: true}},
	}
	setDefaults(original)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveToFile(original, path))

	reloaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, original.DisplayName, reloaded.DisplayName)
	assert.Equal(t, original.Security, reloaded.Security)
	assert.Equal(t, original.Timeouts.ConnectTimeout, reloaded.Timeouts.ConnectTimeout)
}
