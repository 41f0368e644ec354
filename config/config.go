// Package config loads the throttle service configuration from defaults, an
// optional YAML file and THROTTLE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/pkg/throttle"
)

// ErrInvalidConfig is returned when the loaded configuration is invalid
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend kinds
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Logging  LoggingConfig            `yaml:"logging"`
	Backend  BackendConfig            `yaml:"backend"`
	Tracing  TracingConfig            `yaml:"tracing"`
	Metrics  MetricsConfig            `yaml:"metrics"`
	Limiters map[string]LimiterConfig `yaml:"limiters"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CleanupInterval is how often idle in-memory entries are swept; 0 disables
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level    string `yaml:"level"`  // debug, info, warn, error
	Format   string `yaml:"format"` // json, text
	Output   string `yaml:"output"` // stdout, stderr, file
	FilePath string `yaml:"file_path"`
}

type BackendConfig struct {
	Kind  string      `yaml:"kind"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
	PoolSize int           `yaml:"pool_size"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LimiterConfig is the YAML form of a limiter policy.
type LimiterConfig struct {
	MaxTokens      int           `yaml:"max_tokens"`
	RefillRate     float64       `yaml:"refill_rate"`
	RefillInterval time.Duration `yaml:"refill_interval,omitempty"`
	TTL            time.Duration `yaml:"ttl,omitempty"`

	// KeyExtractor is an optional extractor spec for HTTP middleware,
	// e.g. "ip", "header:X-User-ID", "email:email"
	KeyExtractor string `yaml:"key_extractor,omitempty"`
}

// ToCore converts to the policy used by the token bucket.
func (l LimiterConfig) ToCore() core.Config {
	return core.Config{
		MaxTokens:      l.MaxTokens,
		RefillRate:     l.RefillRate,
		RefillInterval: l.RefillInterval,
		TTL:            l.TTL,
	}
}

func fromCore(c core.Config) LimiterConfig {
	return LimiterConfig{
		MaxTokens:      c.MaxTokens,
		RefillRate:     c.RefillRate,
		RefillInterval: c.RefillInterval,
		TTL:            c.TTL,
	}
}

// Default returns the configuration used when nothing is overridden.
// Limiters default to the platform's built-in policies.
func Default() *Config {
	limiters := make(map[string]LimiterConfig)
	for name, policy := range throttle.Policies() {
		limiters[name] = fromCore(policy)
	}

	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CleanupInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Backend: BackendConfig{
			Kind: BackendMemory,
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Prefix:  "throttle:",
				Timeout: time.Second,
			},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "throttle",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Limiters: limiters,
	}
}

// Load loads configuration from file and environment variables.
// An empty path skips the file. Limiters named in the file replace the
// built-in policy of the same name; the others keep their defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		if err := loadFromFile(config, path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFromFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	defaults := config.Limiters
	config.Limiters = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if config.Limiters == nil {
		config.Limiters = make(map[string]LimiterConfig)
	}
	for name, limiter := range defaults {
		if _, ok := config.Limiters[name]; !ok {
			config.Limiters[name] = limiter
		}
	}
	return nil
}

func loadFromEnvironment(config *Config) error {
	if port := os.Getenv("THROTTLE_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("THROTTLE_PORT: %w", err)
		}
		config.Server.Port = p
	}
	if host := os.Getenv("THROTTLE_HOST"); host != "" {
		config.Server.Host = host
	}

	if kind := os.Getenv("THROTTLE_BACKEND"); kind != "" {
		config.Backend.Kind = strings.ToLower(kind)
	}
	if addr := os.Getenv("THROTTLE_REDIS_ADDR"); addr != "" {
		config.Backend.Redis.Addr = addr
	}
	if password := os.Getenv("THROTTLE_REDIS_PASSWORD"); password != "" {
		config.Backend.Redis.Password = password
	}
	if db := os.Getenv("THROTTLE_REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("THROTTLE_REDIS_DB: %w", err)
		}
		config.Backend.Redis.DB = n
	}

	if level := os.Getenv("THROTTLE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("THROTTLE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	if tracing := os.Getenv("THROTTLE_TRACING_ENABLED"); tracing != "" {
		config.Tracing.Enabled = strings.ToLower(tracing) == "true"
	}
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port must be between 1 and 65535, got %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup interval cannot be negative", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unsupported log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unsupported log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("%w: log file path is required when output is file", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported log output %q", ErrInvalidConfig, c.Logging.Output)
	}

	switch c.Backend.Kind {
	case BackendMemory:
	case BackendRedis:
		if c.Backend.Redis.Addr == "" {
			return fmt.Errorf("%w: redis address is required for the redis backend", ErrInvalidConfig)
		}
		if c.Backend.Redis.Timeout <= 0 {
			return fmt.Errorf("%w: redis timeout must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported backend %q", ErrInvalidConfig, c.Backend.Kind)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("%w: unsupported trace exporter %q", ErrInvalidConfig, c.Tracing.Exporter)
	}

	for _, name := range c.LimiterNames() {
		limiter := c.Limiters[name]
		if err := limiter.ToCore().Validate(); err != nil {
			return fmt.Errorf("%w: limiter %s: %w", ErrInvalidConfig, name, err)
		}
		if limiter.KeyExtractor != "" {
			if _, err := throttle.ParseKeyExtractorConfig(limiter.KeyExtractor); err != nil {
				return fmt.Errorf("%w: limiter %s: %v", ErrInvalidConfig, name, err)
			}
		}
	}
	return nil
}

// Limiter returns the policy configured for name.
func (c *Config) Limiter(name string) (core.Config, error) {
	limiter, ok := c.Limiters[name]
	if !ok {
		return core.Config{}, fmt.Errorf("%w: %s", throttle.ErrUnknownPolicy, name)
	}
	return limiter.ToCore(), nil
}

// LimiterNames returns the configured limiter names in sorted order.
func (c *Config) LimiterNames() []string {
	names := make([]string, 0, len(c.Limiters))
	for name := range c.Limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
