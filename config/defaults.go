// =============================================================================
// 📦 Gateway 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig returns the gateway's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Gateway:      DefaultGatewayConfig(),
		ControlPlane: DefaultControlPlaneConfig(),
		Database:     DefaultDatabaseConfig(),
		Session:      DefaultSessionConfig(),
		Streaming:    DefaultStreamingConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		WebChat:      DefaultWebChatConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "127.0.0.1",
		Port:            8080,
		CORSOrigin:      "",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestTimeout:  120 * time.Second,
	}
}

// DefaultGatewayConfig returns the default gateway (role G) configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Port: 8080,
	}
}

// DefaultControlPlaneConfig returns the default control-plane (role C)
// configuration.
func DefaultControlPlaneConfig() ControlPlaneConfig {
	return ControlPlaneConfig{
		Port:              8081,
		WebChatPort:        8082,
		ReadinessPoll:      500 * time.Millisecond,
		ReadinessDeadline:  15 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Path:         "gateway.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:           30 * time.Minute,
		SweepInterval: 10 * time.Minute,
	}
}

// DefaultStreamingConfig returns the default streaming configuration.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		BufferSize: 64,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultWebChatConfig returns the default web-chat bridge configuration.
// UpstreamBaseURL is intentionally empty: it has no safe default and the
// bridge refuses to start without one set via config file or env var.
func DefaultWebChatConfig() WebChatConfig {
	return WebChatConfig{
		Host:    "127.0.0.1",
		Port:    8082,
		Timeout: 60 * time.Second,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "gatewayd",
		SampleRate:   0.1,
	}
}
