package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment variables that override file values.
const envPrefix = "MCP_BASE64_"

// Config represents the complete mcp-base64 configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Tools      ToolsConfig      `yaml:"tools"`
	Limits     LimitsConfig     `yaml:"limits"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the implementation info advertised during the handshake.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TransportConfig selects and configures the serving transport.
type TransportConfig struct {
	// Type is one of "stdio", "http", or "sse".
	Type string `yaml:"type"`
	// HTTPAddr is the listen address for the http and sse transports.
	HTTPAddr string `yaml:"http_addr"`
}

// ToolsConfig holds tool-level limits.
type ToolsConfig struct {
	MaxTextBytes int `yaml:"max_text_bytes"`
}

// LimitsConfig holds per-connection call limits.
type LimitsConfig struct {
	CallTimeout time.Duration `yaml:"-"`
	MaxInflight int           `yaml:"max_inflight"`

	// Raw string value for YAML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// MiddlewareConfig enables and tunes the tool-call middlewares.
type MiddlewareConfig struct {
	Logging   bool            `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
}

// RateLimitConfig holds rate-limiting middleware settings.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// CacheConfig holds result-cache middleware settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	Size    int  `yaml:"size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "mcp-base64-server",
			Version: "1.0.0",
		},
		Transport: TransportConfig{
			Type:     "stdio",
			HTTPAddr: "0.0.0.0:8080",
		},
		Tools: ToolsConfig{
			MaxTextBytes: 1 << 20,
		},
		Limits: LimitsConfig{
			CallTimeout: 30 * time.Second,
			MaxInflight: 64,
		},
		Middleware: MiddlewareConfig{
			Logging: true,
			RateLimit: RateLimitConfig{
				RPS:   50,
				Burst: 100,
			},
			Cache: CacheConfig{
				Size: 256,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded inside the file, and
// MCP_BASE64_* variables override individual values afterwards. An empty path yields
// the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw YAML content
		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Limits.CallTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Limits.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("invalid limits.call_timeout %q: %w", cfg.Limits.CallTimeoutRaw, err)
		}
		cfg.Limits.CallTimeout = d
	}
	return nil
}

// applyEnvOverrides lets MCP_BASE64_* variables override individual values without a
// config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "SERVER_NAME"); v != "" {
		cfg.Server.Name = v
	}
	if v := os.Getenv(envPrefix + "SERVER_VERSION"); v != "" {
		cfg.Server.Version = v
	}
	if v := os.Getenv(envPrefix + "TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv(envPrefix + "HTTP_ADDR"); v != "" {
		cfg.Transport.HTTPAddr = v
	}
	if v := os.Getenv(envPrefix + "MAX_TEXT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tools.MaxTextBytes = n
		}
	}
	if v := os.Getenv(envPrefix + "CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Limits.CallTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "MAX_INFLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxInflight = n
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.Server.Version == "" {
		return fmt.Errorf("server.version is required")
	}

	switch c.Transport.Type {
	case "stdio", "http", "sse":
	default:
		return fmt.Errorf("transport.type must be stdio, http, or sse, got %q", c.Transport.Type)
	}
	if c.Transport.Type != "stdio" && c.Transport.HTTPAddr == "" {
		return fmt.Errorf("transport.http_addr is required for the %s transport", c.Transport.Type)
	}

	if c.Tools.MaxTextBytes <= 0 {
		return fmt.Errorf("tools.max_text_bytes must be positive")
	}
	if c.Limits.CallTimeout <= 0 {
		return fmt.Errorf("limits.call_timeout must be positive")
	}
	if c.Limits.MaxInflight <= 0 {
		return fmt.Errorf("limits.max_inflight must be positive")
	}

	if c.Middleware.RateLimit.Enabled {
		if c.Middleware.RateLimit.RPS <= 0 {
			return fmt.Errorf("middleware.rate_limit.rps must be positive")
		}
		if c.Middleware.RateLimit.Burst <= 0 {
			return fmt.Errorf("middleware.rate_limit.burst must be positive")
		}
	}
	if c.Middleware.Cache.Enabled && c.Middleware.Cache.Size <= 0 {
		return fmt.Errorf("middleware.cache.size must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
