package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "shiftdrop.yml"

// Config models shiftdrop.yml.
type Config struct {
	Database struct {
		Driver    string `yaml:"driver"`
		DSN       string `yaml:"dsn"`
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Links struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"links"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Server     struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
}

type OutboxConfig struct {
	PollInterval    time.Duration   `yaml:"poll_interval"`
	BatchSize       int             `yaml:"batch_size"`
	DispatchTimeout time.Duration   `yaml:"dispatch_timeout"`
	Backoff         []time.Duration `yaml:"backoff"`
	Janitor         struct {
		Schedule  string        `yaml:"schedule"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"janitor"`
}

type DispatcherConfig struct {
	Kind    string `yaml:"kind"`
	Webhook struct {
		URL     string        `yaml:"url"`
		Secret  string        `yaml:"secret"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"webhook"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Throttle ThrottleConfig `yaml:"throttle"`
}

type ThrottleConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Limit         int64         `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres", "mysql":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of sqlite, postgres, mysql")
	}
	if c.Links.BaseURL != "" {
		if u, err := url.Parse(c.Links.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("links.base_url must be an absolute url")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be json or text")
	}
	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox.poll_interval must be positive")
	}
	if c.Outbox.BatchSize < 1 || c.Outbox.BatchSize > 1000 {
		return fmt.Errorf("outbox.batch_size must be between 1 and 1000")
	}
	if c.Outbox.DispatchTimeout <= 0 {
		return fmt.Errorf("outbox.dispatch_timeout must be positive")
	}
	if len(c.Outbox.Backoff) == 0 {
		return fmt.Errorf("outbox.backoff must list at least one delay")
	}
	for i, d := range c.Outbox.Backoff {
		if d <= 0 {
			return fmt.Errorf("outbox.backoff[%d] must be positive", i)
		}
	}
	if c.Outbox.Janitor.Retention <= 0 {
		return fmt.Errorf("outbox.janitor.retention must be positive")
	}
	switch c.Dispatcher.Kind {
	case "log":
	case "webhook":
		if strings.TrimSpace(c.Dispatcher.Webhook.URL) == "" {
			return fmt.Errorf("dispatcher.webhook.url is required for kind webhook")
		}
	case "amqp":
		if strings.TrimSpace(c.Dispatcher.AMQP.URL) == "" {
			return fmt.Errorf("dispatcher.amqp.url is required for kind amqp")
		}
	default:
		return fmt.Errorf("dispatcher.kind must be one of log, webhook, amqp")
	}
	if t := c.Dispatcher.Throttle; t.Enabled {
		if strings.TrimSpace(t.RedisAddr) == "" {
			return fmt.Errorf("dispatcher.throttle.redis_addr is required when throttling")
		}
		if t.Limit <= 0 || t.Window <= 0 {
			return fmt.Errorf("dispatcher.throttle.limit and window must be positive")
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads the workspace config, falling back to defaults when there is no file.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string { return defaultTemplate }

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// a backoff list in the file replaces the default one; an explicit empty list is rejected by Validate
	cfg.Outbox.Backoff = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Outbox.Backoff == nil {
		cfg.Outbox.Backoff = Default().Outbox.Backoff
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

// Render encodes the config back to YAML.
func (c *Config) Render() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""
  workspace: .

links:
  base_url: http://localhost:8080

log:
  level: info
  format: json

outbox:
  poll_interval: 5s
  batch_size: 10
  dispatch_timeout: 30s
  backoff: [10s, 30s, 1m, 5m, 15m]
  janitor:
    schedule: "@hourly"
    retention: 168h

dispatcher:
  kind: log
  webhook:
    timeout: 5s
  amqp:
    exchange: shiftdrop.notifications
  throttle:
    enabled: false
    redis_addr: localhost:6379
    limit: 5
    window: 1m

server:
  addr: 127.0.0.1:8080
  base_path: /v1
`
