package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	UnhandledConsume = "consume"
	UnhandledHold    = "hold"
)

// Config models brigade.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Relay RelayConfig `yaml:"relay"`
	HTTP  struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// RelayConfig controls the outbox relay. Durations are expressed in milliseconds.
type RelayConfig struct {
	Enabled          *bool  `yaml:"enabled"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	BatchSize        int    `yaml:"batch_size"`
	Unhandled        string `yaml:"unhandled"`
	MaxAttempts      int    `yaml:"max_attempts"`
	HandlerTimeoutMS int    `yaml:"handler_timeout_ms"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled reports whether the relay should run; it defaults to on.
func (r RelayConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r RelayConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

func (r RelayConfig) HandlerTimeout() time.Duration {
	return time.Duration(r.HandlerTimeoutMS) * time.Millisecond
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if c.Relay.PollIntervalMS <= 0 {
		return fmt.Errorf("config.relay.poll_interval_ms must be positive")
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("config.relay.batch_size must be positive")
	}
	switch c.Relay.Unhandled {
	case UnhandledConsume, UnhandledHold:
	default:
		return fmt.Errorf("config.relay.unhandled must be %q or %q", UnhandledConsume, UnhandledHold)
	}
	if c.Relay.MaxAttempts < 0 {
		return fmt.Errorf("config.relay.max_attempts must not be negative")
	}
	if c.Relay.HandlerTimeoutMS < 0 {
		return fmt.Errorf("config.relay.handler_timeout_ms must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "brigade.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with brigade config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults, then validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

relay:
  enabled: true
  poll_interval_ms: 5000
  batch_size: 20
  # consume: events without a handler are marked processed (logged as a warning).
  # hold: events without a handler stay pending until one is registered.
  unhandled: consume
  # 0 retries a failing batch forever; N quarantines an event after N failed attempts.
  max_attempts: 0
  handler_timeout_ms: 0

http:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: json

webhooks: []
`
