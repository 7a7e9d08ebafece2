package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnvironmentOverridesSetsStringFields(t *testing.T) {
	t.Setenv("BRYPT_DISPLAY_NAME", "env-node")
	t.Setenv("BRYPT_SECURITY_STRATEGY", "circl-hpke")
	t.Setenv("BRYPT_LOG_LEVEL", "debug")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "env-node", cfg.DisplayName)
	assert.Equal(t, "circl-hpke", cfg.Security)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvironmentOverridesParsesDurationAndBool(t *testing.T) {
	t.Setenv("BRYPT_CONNECT_TIMEOUT", "3s")
	t.Setenv("BRYPT_METRICS_ENABLED", "true")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, 3*time.Second, cfg.Timeouts.ConnectTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestApplyEnvironmentOverridesSetsHandshakeTimeout(t *testing.T) {
	t.Setenv("BRYPT_HANDSHAKE_TIMEOUT", "7s")

	cfg := &Config{}
	setDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, 7*time.Second, cfg.Timeouts.HandshakeTimeout)
}

func TestApplyEnvironmentOverridesIgnoresMalformedDuration(t *testing.T) {
	t.Setenv("BRYPT_CONNECT_TIMEOUT", "not-a-duration")

	cfg := &Config{}
	setDefaults(cfg)
	before := cfg.Timeouts.ConnectTimeout
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, before, cfg.Timeouts.ConnectTimeout)
}

func TestApplyEnvironmentOverridesParsesBootstrapList(t *testing.T) {
	t.Setenv("BRYPT_BOOTSTRAP", "tcp=127.0.0.1:9000, ws=127.0.0.1:9001,malformed")

	cfg := &Config{}
	applyEnvironmentOverrides(cfg)

	require.Len(t, cfg.Bootstrap, 2)
	assert.Equal(t, BootstrapEntry{Protocol: "tcp", Address: "127.0.0.1:9000"}, cfg.Bootstrap[0])
	assert.Equal(t, BootstrapEntry{Protocol: "ws", Address: "127.0.0.1:9001"}, cfg.Bootstrap[1])
}

func TestLoadOverlaysEnvironmentOnTopOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
display_name: file-node
endpoints:
  - protocol: tcp
    bind_address: 127.0.0.1:0
`), 0o644))

	t.Setenv("BRYPT_DISPLAY_NAME", "overridden-node")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "overridden-node", cfg.DisplayName)
}

func TestLoadReturnsValidationErrorWhenNoEndpointsConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`display_name: empty-node`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv("BRYPT_ENV", "")
	assert.Equal(t, "development", Environment())
	assert.False(t, IsProduction())
}

func TestEnvironmentReadsProductionCaseInsensitively(t *testing.T) {
	t.Setenv("BRYPT_ENV", "PRODUCTION")
	assert.Equal(t, "production", Environment())
	assert.True(t, IsProduction())
}
