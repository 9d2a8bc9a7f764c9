// Package config holds the CLI's YAML configuration: portal credentials,
// freshness intervals, and the optional SQLite/MQTT integrations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	BaseURL            string `yaml:"base_url,omitempty"`
	TimeoutSeconds     int    `yaml:"timeout_seconds,omitempty"`
	RefreshIntervalMin int    `yaml:"refresh_interval_minutes,omitempty"`
	CheckIntervalMin   int    `yaml:"check_interval_minutes,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`

	DaysToFetch int `yaml:"days_to_fetch,omitempty"`

	MQTT MQTTConfig `yaml:"mqtt,omitempty"`
}

// MQTTConfig holds the broker settings for publishing readings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// Load reads the config file. A missing file yields an empty config.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file.
func Save(configPath string, cfg *Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory).
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetTimeout returns the request timeout with a default of 30 seconds.
func (c *Config) GetTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRefreshInterval returns the full-reload cadence with a default of
// 60 minutes, matching how often the portal itself updates meter data.
func (c *Config) GetRefreshInterval() time.Duration {
	if c.RefreshIntervalMin <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.RefreshIntervalMin) * time.Minute
}

// GetCheckInterval returns the staleness-check cadence with a default of
// 15 minutes.
func (c *Config) GetCheckInterval() time.Duration {
	if c.CheckIntervalMin <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.CheckIntervalMin) * time.Minute
}

// GetDaysToFetch returns the number of days to fetch with a default of 7.
func (c *Config) GetDaysToFetch() int {
	if c.DaysToFetch <= 0 {
		return 7
	}
	return c.DaysToFetch
}

// GetTopicPrefix returns the MQTT topic prefix with a default of "usms".
func (m MQTTConfig) GetTopicPrefix() string {
	if m.TopicPrefix == "" {
		return "usms"
	}
	return m.TopicPrefix
}

// GetClientID returns the MQTT client ID with a default of "usms".
func (m MQTTConfig) GetClientID() string {
	if m.ClientID == "" {
		return "usms"
	}
	return m.ClientID
}
