package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.config.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 131072, cfg.Buffer.ObservationBufferSize)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Storage.DataDirectory)

	// the written file loads back to the same values
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.config.yaml")
	content := `
buffer:
  observationBufferSize: 16
processing:
  validationLevel: strict
adapters:
  - device: Mill
    host: 127.0.0.1
    port: 7878
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Buffer.ObservationBufferSize)
	assert.Equal(t, 1024, cfg.Buffer.AssetBufferSize, "unset keys keep defaults")
	assert.Equal(t, ValidationStrict, cfg.Processing.ValidationLevel)
	require.Len(t, cfg.Adapters, 1)
	assert.Equal(t, 7878, cfg.Adapters[0].Port)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	t.Setenv("PORT", "7000")
	t.Setenv("DEVICES_FILE", "/etc/mtc/devices.xml")
	t.Setenv("MTCONNECT_LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/etc/mtc/devices.xml", cfg.Storage.DevicesFile)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, "0.0.0.0:7000", cfg.GetServerAddr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*AppConfig)
	}{
		{"port", func(c *AppConfig) { c.Server.Port = 0 }},
		{"buffer", func(c *AppConfig) { c.Buffer.ObservationBufferSize = 0 }},
		{"validation level", func(c *AppConfig) { c.Processing.ValidationLevel = "loose" }},
		{"adapter", func(c *AppConfig) { c.Adapters = []AdapterConfig{{Device: "Mill"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
