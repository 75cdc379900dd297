package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingTimeFormat is returned by Validate when a timestamp format is unset.
var ErrMissingTimeFormat = errors.New("timestamp format not configured")

type Config struct {
	API            APIConfig      `yaml:"api"`
	Sync           SyncConfig     `yaml:"sync"`
	Ledger         LedgerConfig   `yaml:"ledger"`
	RabbitMQ       RabbitMQConfig `yaml:"rabbitmq"`
	SupportedSites []string       `yaml:"supported_sites"`
	FicTimeFormat  string         `yaml:"fic_up_time_format"`
	DBTimeFormat   string         `yaml:"db_up_time_format"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Automated bool          `yaml:"automated"`
	Retry     RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Force    bool          `yaml:"force"`

	// KeepLedger leaves output.log in place after a batch in which every
	// URL succeeded. By default it is removed so the next run starts over.
	KeepLedger bool `yaml:"keep_ledger"`
}

type LedgerConfig struct {
	Output string `yaml:"output"`
	Errors string `yaml:"errors"`
}

// RabbitMQConfig is optional; publishing is disabled while URL is empty.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

func (r RabbitMQConfig) Enabled() bool {
	return r.URL != ""
}

// DefaultPath is the per-user config location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "fichub_cli", "config.yaml")
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a config with defaults only. Timestamp formats stay empty.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Validate checks the settings needed to format timestamps.
func (c *Config) Validate() error {
	if c.FicTimeFormat == "" {
		return fmt.Errorf("fic_up_time_format: %w", ErrMissingTimeFormat)
	}
	if c.DBTimeFormat == "" {
		return fmt.Errorf("db_up_time_format: %w", ErrMissingTimeFormat)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://fichub.net/api/v0/epub"
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "fichub_metadata/0.2.0"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 5 * time.Minute
	}
	if c.API.Retry.MaxAttempts == 0 {
		c.API.Retry.MaxAttempts = 2
	}
	if c.API.Retry.InitialBackoff == 0 {
		c.API.Retry.InitialBackoff = 3 * time.Second
	}
	if c.API.Retry.MaxBackoff == 0 {
		c.API.Retry.MaxBackoff = 3 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 24 * time.Hour
	}
	if c.Ledger.Output == "" {
		c.Ledger.Output = "output.log"
	}
	if c.Ledger.Errors == "" {
		c.Ledger.Errors = "err.log"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "fichub_metadata"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "metadata"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "fichub_metadata"
	}
	if len(c.SupportedSites) == 0 {
		c.SupportedSites = DefaultSupportedSites()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

// DefaultSupportedSites lists the hosts the metadata API can resolve.
func DefaultSupportedSites() []string {
	return []string{
		"fanfiction.net",
		"fictionpress.com",
		"archiveofourown.org",
		"spacebattles.com",
		"sufficientvelocity.com",
		"questionablequesting.com",
		"royalroad.com",
		"harrypotterfanfiction.com",
		"siye.co.uk",
		"fanfics.me",
		"fiction.live",
		"scribblehub.com",
		"adult-fanfiction.org",
		"portkey-archive.org",
	}
}
