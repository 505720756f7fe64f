// Package config loads the YAML service configuration, following the same
// flat-struct-plus-yaml.v3 pattern as the teacher's stellar-query-api config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	RuleProvider RuleProviderConfig `yaml:"rule_provider"`
	ExchangeRate ExchangeRateConfig `yaml:"exchange_rate"`
	Exposure     ExposureConfig     `yaml:"exposure"`
	Notify       NotifyConfig       `yaml:"notify"`
}

type ServiceConfig struct {
	Name                string `yaml:"name"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type RuleProviderConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	TimeoutSeconds    int           `yaml:"timeout_seconds"`
}

type ExchangeRateConfig struct {
	Endpoint               string        `yaml:"endpoint"`
	RefreshInterval        time.Duration `yaml:"refresh_interval"`
	TimeoutSeconds         int           `yaml:"timeout_seconds"`
	FailOnMissingRate      bool          `yaml:"fail_on_missing_rate"`
}

type ExposureConfig struct {
	// DefaultLimitUSD is the MVP fixed exposure limit applied to every
	// counterparty (spec.md §4.5). A future counterparty-keyed table is an
	// explicit Open Question left to implementers; this is the MVP choice.
	DefaultLimitUSD string `yaml:"default_limit_usd"`
}

type NotifyConfig struct {
	WebhookURL      string        `yaml:"webhook_url"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Port == 0 {
		cfg.Service.Port = 8080
	}
	if cfg.Service.ReadTimeoutSeconds == 0 {
		cfg.Service.ReadTimeoutSeconds = 15
	}
	if cfg.Service.WriteTimeoutSeconds == 0 {
		cfg.Service.WriteTimeoutSeconds = 15
	}
	if cfg.RuleProvider.RefreshInterval == 0 {
		cfg.RuleProvider.RefreshInterval = 5 * time.Minute
	}
	if cfg.RuleProvider.TimeoutSeconds == 0 {
		cfg.RuleProvider.TimeoutSeconds = 5
	}
	if cfg.ExchangeRate.RefreshInterval == 0 {
		cfg.ExchangeRate.RefreshInterval = 5 * time.Minute
	}
	if cfg.ExchangeRate.TimeoutSeconds == 0 {
		cfg.ExchangeRate.TimeoutSeconds = 5
	}
	if cfg.Exposure.DefaultLimitUSD == "" {
		cfg.Exposure.DefaultLimitUSD = "500000000.00"
	}
	if cfg.Notify.TimeoutSeconds == 0 {
		cfg.Notify.TimeoutSeconds = 5
	}
	if cfg.Notify.MaxElapsed == 0 {
		cfg.Notify.MaxElapsed = 30 * time.Second
	}
}
