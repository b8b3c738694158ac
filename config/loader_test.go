package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 8081, cfg.ControlPlane.Port)
	assert.Equal(t, "gateway.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, "gateway.db", cfg.Database.Path)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  host: "0.0.0.0"
  read_timeout: 60s

gateway:
  port: 9000

control_plane:
  port: 9001

database:
  path: "/tmp/test-gateway.db"

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, 9001, cfg.ControlPlane.Port)
	assert.Equal(t, "/tmp/test-gateway.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"GATEWAYD_GATEWAY_PORT":       "7777",
		"GATEWAYD_CONTROL_PLANE_PORT": "7778",
		"GATEWAYD_LOG_LEVEL":          "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, 7778, cfg.ControlPlane.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_FlatEnvOverrides(t *testing.T) {
	os.Setenv("PORT", "6000")
	os.Setenv("API_PORT", "6001")
	os.Setenv("DATABASE_PATH", "/tmp/flat.db")
	os.Setenv("LOG_LEVEL", "error")
	os.Setenv("SESSION_TIMEOUT_MS", "60000")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("API_PORT")
		os.Unsetenv("DATABASE_PATH")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("SESSION_TIMEOUT_MS")
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Gateway.Port)
	assert.Equal(t, 6001, cfg.ControlPlane.Port)
	assert.Equal(t, "/tmp/flat.db", cfg.Database.Path)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 60*time.Second, cfg.Session.TTL)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
gateway:
  port: 8888
log:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("GATEWAYD_GATEWAY_PORT", "9999")
	defer os.Unsetenv("GATEWAYD_GATEWAY_PORT")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	// YAML-only value survives.
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_GATEWAY_PORT", "6666")
	defer os.Unsetenv("MYAPP_GATEWAY_PORT")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Gateway.Port)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Gateway.Port < 1024 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("GATEWAYD_GATEWAY_PORT", "80")
	defer os.Unsetenv("GATEWAYD_GATEWAY_PORT")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Gateway.Port)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}, wantErr: false},
		{
			name:    "invalid gateway port (negative)",
			modify:  func(c *Config) { c.Gateway.Port = -1 },
			wantErr: true,
		},
		{
			name:    "invalid control plane port (too large)",
			modify:  func(c *Config) { c.ControlPlane.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			modify:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "non-positive request timeout",
			modify:  func(c *Config) { c.Server.RequestTimeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
gateway:
  port: 8080
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Gateway.Port)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("GATEWAYD_LOG_LEVEL", "debug")
	defer os.Unsetenv("GATEWAYD_LOG_LEVEL")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
