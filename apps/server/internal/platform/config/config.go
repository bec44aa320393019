package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Notifier dispatch modes.
const (
	NotifierModeHTTP  = "http"
	NotifierModeRedis = "redis"
)

// Config holds the server configuration. Values are resolved in order:
// defaults, then the optional YAML file, then environment variables.
type Config struct {
	HTTPAddr string `yaml:"httpAddr"`

	Temporal struct {
		HostPort  string `yaml:"hostPort"`
		Namespace string `yaml:"namespace"`
	} `yaml:"temporal"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	// Postgres is optional; when URL is empty the event store and metrics
	// endpoints are disabled.
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	Notifier struct {
		// Mode selects how steps are dispatched to migrators: "http" posts
		// directly to the migrator URL, "redis" publishes on a per-migrator
		// pub/sub channel named <channelPrefix>:<migratorApp>.
		Mode          string `yaml:"mode"`
		ChannelPrefix string `yaml:"channelPrefix"`
	} `yaml:"notifier"`

	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// Load reads configuration from the given YAML file path (skipped when empty
// or missing) and applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file; defaults plus env are enough.
		case err != nil:
			return nil, fmt.Errorf("read config %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Notifier.Mode != NotifierModeHTTP && cfg.Notifier.Mode != NotifierModeRedis {
		return nil, fmt.Errorf("invalid notifier mode %q", cfg.Notifier.Mode)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{HTTPAddr: ":8080"}
	cfg.Temporal.HostPort = "localhost:7233"
	cfg.Temporal.Namespace = "default"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Notifier.Mode = NotifierModeHTTP
	cfg.Notifier.ChannelPrefix = "loom:dispatch"
	return cfg
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setFromEnv(&cfg.Temporal.HostPort, "TEMPORAL_HOSTPORT")
	setFromEnv(&cfg.Temporal.Namespace, "TEMPORAL_NAMESPACE")
	setFromEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	setFromEnv(&cfg.Postgres.URL, "DATABASE_URL")
	setFromEnv(&cfg.Notifier.Mode, "NOTIFIER_MODE")
	setFromEnv(&cfg.Notifier.ChannelPrefix, "NOTIFIER_CHANNEL_PREFIX")
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
