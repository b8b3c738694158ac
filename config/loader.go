// =============================================================================
// 📦 Gateway 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GATEWAYD").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config is the gateway's complete runtime configuration. It covers only
// the bootstrap concerns a process needs before it can reach the database:
// everything that can instead live in the settings table (active provider,
// critical request-handling knobs) is read through storage.SettingRepository
// at runtime rather than here, so operators can change it without a restart.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Gateway      GatewayConfig      `yaml:"gateway" env:"GATEWAY"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane" env:"CONTROL_PLANE"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Session      SessionConfig      `yaml:"session" env:"SESSION"`
	Streaming    StreamingConfig    `yaml:"streaming" env:"STREAMING"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	WebChat      WebChatConfig      `yaml:"webchat" env:"WEBCHAT"`
}

// ServerConfig holds the listen address and HTTP timeouts shared by the
// gateway and control-plane binaries.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	CORSOrigin      string        `yaml:"cors_origin" env:"CORS_ORIGIN"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// GatewayConfig configures the OpenAI-compatible front end (role G).
type GatewayConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// ControlPlaneConfig configures the REST + push control surface (role C)
// and the child processes it supervises.
type ControlPlaneConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	WebChatPort     int           `yaml:"webchat_port" env:"WEBCHAT_PORT"`
	ReadinessPoll   time.Duration `yaml:"readiness_poll" env:"READINESS_POLL"`
	ReadinessDeadline time.Duration `yaml:"readiness_deadline" env:"READINESS_DEADLINE"`
}

// DatabaseConfig is SQLite-only: the gateway never speaks to anything else
// (spec Non-goals rule out horizontal scale-out, so there is no pooled
// network database to configure).
type DatabaseConfig struct {
	Path         string        `yaml:"path" env:"PATH"`
	BusyTimeout  time.Duration `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// SessionConfig configures the session manager's TTL and sweep cadence.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// StreamingConfig configures SSE back-pressure.
type StreamingConfig struct {
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// WebChatConfig points the web-chat bridge (role W) at the upstream chat
// service it fronts. It is read only by the webchat binary; G and C never
// dial the upstream service directly.
type WebChatConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	UpstreamBaseURL string        `yaml:"upstream_base_url" env:"UPSTREAM_BASE_URL"`
	DefaultModel    string        `yaml:"default_model" env:"DEFAULT_MODEL"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TelemetryConfig configures the OTel tracer provider.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader is a Builder-pattern config loader.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GATEWAYD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the final config: defaults, then YAML file, then environment
// variables, then the flat env vars named explicitly in the flat env-var layer, then
// validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	applyFlatEnvOverrides(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// applyFlatEnvOverrides applies the flat, un-prefixed environment variables
// the flat env-var layer names explicitly (PORT, API_PORT, CORS_ORIGIN, DATABASE_PATH,
// SESSION_TIMEOUT_MS, SESSION_CLEANUP_INTERVAL_MS, REQUEST_TIMEOUT_MS,
// LOG_LEVEL). These take precedence over the GATEWAYD_-prefixed form
// above, matching how operators actually invoke the binary in a container
// (a single flat env block, not a nested GATEWAYD_SERVER_PORT one).
func applyFlatEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if v := os.Getenv("API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ControlPlane.Port = p
		}
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SESSION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Session.TTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SESSION_CLEANUP_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Session.SweepInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Server.RequestTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WEBCHAT_UPSTREAM_BASE_URL"); v != "" {
		cfg.WebChat.UpstreamBaseURL = v
	}
}

// MustLoad loads config from path, panicking on failure. Used by tests and
// one-shot tooling where there is no sensible error path.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config using only defaults and environment variables.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the bootstrap invariants the binary cannot run without.
// Settings-table-backed values (critical settings) are
// validated where they're written, not here.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.ControlPlane.Port <= 0 || c.ControlPlane.Port > 65535 {
		errs = append(errs, "control_plane.port must be between 1 and 65535")
	}
	if c.Server.Host != "" {
		if ip := net.ParseIP(c.Server.Host); ip == nil && c.Server.Host != "localhost" {
			if _, err := net.LookupHost(c.Server.Host); err != nil {
				// Not fatal: DNS may be unavailable in a sandboxed test
				// environment. A malformed literal is still rejected below.
				if strings.ContainsAny(c.Server.Host, " \t/\\") {
					errs = append(errs, "server.host is not a valid hostname or IP")
				}
			}
		}
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
