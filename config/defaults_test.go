package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, GatewayConfig{}, cfg.Gateway)
	assert.NotEqual(t, ControlPlaneConfig{}, cfg.ControlPlane)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, SessionConfig{}, cfg.Session)
	assert.NotEqual(t, StreamingConfig{}, cfg.Streaming)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
}

func TestDefaultGatewayConfig(t *testing.T) {
	cfg := DefaultGatewayConfig()
	assert.Equal(t, 8080, cfg.Port)
}

func TestDefaultControlPlaneConfig(t *testing.T) {
	cfg := DefaultControlPlaneConfig()
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, 8082, cfg.WebChatPort)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadinessPoll)
	assert.Equal(t, 15*time.Second, cfg.ReadinessDeadline)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "gateway.db", cfg.Path)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, 1, cfg.MaxOpenConns)
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, 30*time.Minute, cfg.TTL)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
}

func TestDefaultStreamingConfig(t *testing.T) {
	cfg := DefaultStreamingConfig()
	assert.Equal(t, 64, cfg.BufferSize)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "gatewayd", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
