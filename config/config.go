// Package config loads the federation daemon configuration from YAML with
// environment variable overrides. Precedence: defaults, then file, then
// GODEL_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidkimai/godel-sub021/balancer"
	"github.com/davidkimai/godel-sub021/cluster"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "GODEL_"

// Config is the full federation daemon configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Local    LocalConfig          `yaml:"local"`
	Health   cluster.HealthConfig `yaml:"health"`
	Balancer balancer.Config      `yaml:"balancer"`
	Remote   RemoteConfig         `yaml:"remote"`
	Redis    RedisConfig          `yaml:"redis"`
	Log      LogConfig            `yaml:"log"`
}

// ServerConfig configures the daemon's own listeners.
type ServerConfig struct {
	// MetricsPort serves the Prometheus endpoint.
	MetricsPort int `yaml:"metrics_port"`
}

// LocalConfig configures the local runtime backend.
type LocalConfig struct {
	// MaxAgents caps concurrent local agents.
	MaxAgents int `yaml:"max_agents"`
	// GPU declares local GPU availability.
	GPU bool `yaml:"gpu"`
}

// RemoteConfig configures the HTTP clients used to reach clusters.
type RemoteConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Insecure          bool          `yaml:"insecure"`
}

// RedisConfig configures the optional catalog snapshot store.
type RedisConfig struct {
	// Enabled turns the snapshot store on.
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{MetricsPort: 9090},
		Local:    LocalConfig{MaxAgents: 8},
		Health:   cluster.DefaultHealthConfig(),
		Balancer: balancer.DefaultConfig(),
		Remote: RemoteConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 50,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads the configuration: defaults, optional YAML file, environment
// overrides. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the keys most commonly set per deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MetricsPort = n
		}
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Local.MaxAgents = n
		}
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_GPU"); v != "" {
		c.Local.GPU = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "LOCAL_CAPACITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Balancer.LocalCapacityThreshold = f
		}
	}
	if v := os.Getenv(EnvPrefix + "ENABLE_MIGRATION"); v != "" {
		c.Balancer.EnableMigration = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Balancer.LocalCapacityThreshold <= 0 || c.Balancer.LocalCapacityThreshold > 1 {
		return fmt.Errorf("local capacity threshold must be in (0,1]: %f", c.Balancer.LocalCapacityThreshold)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	return nil
}
