package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mzsync/mzsync/internal/types"
)

type MaterializeConfig struct {
	DSN        string `yaml:"dsn"`
	SQL        string `yaml:"sql"`
	FetchBatch int    `yaml:"fetch_batch"`
}

type RedisConfig struct {
	Addr         string `yaml:"addr"`
	DB           int    `yaml:"db"`
	Password     string `yaml:"password"`
	WatermarkKey string `yaml:"watermark_key"`
	KeyPrefix    string `yaml:"key_prefix"`
}

type ChangelogConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (c ChangelogConfig) Enabled() bool { return len(c.Brokers) > 0 }

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Materialize MaterializeConfig `yaml:"materialize"`
	Redis       RedisConfig       `yaml:"redis"`
	Changelog   ChangelogConfig   `yaml:"changelog"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return Config{}, errors.New("CONFIG_PATH is not set")
	}
	return Load(path)
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}

	// Apply defaults
	if c.Materialize.FetchBatch <= 0 {
		c.Materialize.FetchBatch = 100
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	// Stored keys are "prefix:key"; a trailing separator on the configured
	// prefix would double up.
	c.Redis.KeyPrefix = strings.TrimRight(c.Redis.KeyPrefix, ":")

	return c, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Materialize.DSN == "" {
		missing = append(missing, "dsn")
	}
	if c.Materialize.SQL == "" {
		missing = append(missing, "sql")
	}
	if len(missing) > 0 {
		return &types.ConfigError{Section: "materialize", Missing: missing}
	}

	if c.Redis.Addr == "" {
		return &types.ConfigError{Section: "redis", Missing: []string{"addr"}}
	}

	if c.Changelog.Enabled() && c.Changelog.Topic == "" {
		return &types.ConfigError{Section: "changelog", Missing: []string{"topic"}}
	}

	return nil
}
