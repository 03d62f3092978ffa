package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	// Default supplies every knob except the required endpoint and token.
	cfg := Default()
	cfg.Gateway.BaseURL = "https://pithos.example.com"
	cfg.Gateway.Token = "tok"
	require.NoError(t, Validate(cfg))
}

func TestValidate_RejectsMissingBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "tok"
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidate_RejectsNonPositivePoolSize(t *testing.T) {
	cfg := Default()
	cfg.Gateway.BaseURL = "https://pithos.example.com"
	cfg.Gateway.Token = "tok"
	cfg.Scheduler.PoolSize = 0
	assert.Error(t, Validate(cfg))
}

func TestLoad_ReadsYAMLFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("gateway:\n  base_url: https://pithos.example.com\n  token: secret\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://pithos.example.com", cfg.Gateway.BaseURL)
	assert.Equal(t, "secret", cfg.Gateway.Token)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 5, cfg.Scheduler.PoolSize)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("gateway:\n  base_url: https://pithos.example.com\n  token: secret\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("KAMAKI_GATEWAY_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Gateway.Token)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
