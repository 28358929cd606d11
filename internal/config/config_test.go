package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_MatchesDocumentedValues(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "localhost", d.BrokerHost)
	assert.Equal(t, 4222, d.BrokerPort)
	assert.Equal(t, "pump01", d.AssetID)
	assert.Equal(t, "digital_twin", d.BaseTopic)
	assert.Equal(t, 60, d.HistoryCapacity)
	assert.Equal(t, 20, d.ChatTurnCap)
	assert.Equal(t, 256, d.FaultEventCap)
	assert.Equal(t, 10000, d.SessionCap)
	assert.Equal(t, "gpt-4o-mini", d.LLMModel)
	assert.Equal(t, "text-embedding-3-small", d.EmbedModel)
	assert.Equal(t, ":8080", d.HTTPAddr)
	assert.Equal(t, "prom", d.MetricsBackend)
}

func TestLoad_NoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker_host: broker.internal\nbroker_port: 4333\nasset_id: pump02\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.internal", cfg.BrokerHost)
	assert.Equal(t, 4333, cfg.BrokerPort)
	assert.Equal(t, "pump02", cfg.AssetID)
	// untouched fields keep their defaults
	assert.Equal(t, "digital_twin", cfg.BaseTopic)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker_host: broker.internal\n"), 0o644))

	t.Setenv("BROKER_HOST", "broker.env")
	t.Setenv("BROKER_PORT", "5555")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.env", cfg.BrokerHost)
	assert.Equal(t, 5555, cfg.BrokerPort)
}

func TestLoad_EnvironmentOverridesDefaultsWithNoFile(t *testing.T) {
	t.Setenv("ASSET_ID", "pump99")
	t.Setenv("LLM_API_KEY", "secret-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pump99", cfg.AssetID)
	assert.Equal(t, "secret-key", cfg.LLMAPIKey)
}

func TestLoad_MalformedIntEnvVarIsIgnored(t *testing.T) {
	t.Setenv("BROKER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().BrokerPort, cfg.BrokerPort)
}

func TestLoad_MalformedYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker_host: [unterminated\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
