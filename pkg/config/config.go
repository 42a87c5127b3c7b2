package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Edition gates optional features. Community installs cap the number of
// enabled devices.
const (
	EditionCommunity  = "community"
	EditionEnterprise = "enterprise"

	// DefaultDeviceLimit applies to community edition when
	// PANFM_DEVICE_LIMIT is unset.
	DefaultDeviceLimit = 3
)

// DBConfig holds TimescaleDB connection parameters.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, c.Database, c.SSLMode)
}

// SMTPConfig holds the email channel defaults. Relational channel rows
// override these when present.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	STARTTLS bool     `yaml:"starttls"`
}

// Config is the process configuration, loaded once at startup from the
// environment and optionally overridden by a YAML file. It is passed into
// constructors; nothing reads the environment after Load.
type Config struct {
	DB   DBConfig   `yaml:"database"`
	Port int        `yaml:"port"`
	SMTP SMTPConfig `yaml:"smtp"`

	WebhookURL      string `yaml:"webhook_url"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`

	Edition     string `yaml:"edition"`
	DeviceLimit int    `yaml:"device_limit"`
	APIToken    string `yaml:"api_token"`

	DataDir string `yaml:"data_dir"`
}

// Load builds a Config from the environment, applying defaults for anything
// unset.
func Load() *Config {
	cfg := &Config{
		DB: DBConfig{
			Host:     envStr("TIMESCALE_HOST", "localhost"),
			Port:     envInt("TIMESCALE_PORT", 5432),
			User:     envStr("TIMESCALE_USER", "postgres"),
			Password: envStr("TIMESCALE_PASSWORD", ""),
			Database: envStr("TIMESCALE_DB", "panfm"),
			SSLMode:  envStr("TIMESCALE_SSLMODE", "disable"),
		},
		Port: envInt("PORT", 8080),
		SMTP: SMTPConfig{
			Host:     envStr("SMTP_HOST", ""),
			Port:     envInt("SMTP_PORT", 587),
			Username: envStr("SMTP_USERNAME", ""),
			Password: envStr("SMTP_PASSWORD", ""),
			From:     envStr("SMTP_FROM", ""),
			To:       envList("SMTP_TO"),
			STARTTLS: envBool("SMTP_STARTTLS", true),
		},
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		SlackWebhookURL: envStr("SLACK_WEBHOOK_URL", ""),
		Edition:         envStr("PANFM_EDITION", EditionCommunity),
		DeviceLimit:     envInt("PANFM_DEVICE_LIMIT", DefaultDeviceLimit),
		APIToken:        envStr("PANFM_API_TOKEN", ""),
		DataDir:         envStr("PANFM_DATA_DIR", "/var/lib/panfm"),
	}
	return cfg
}

// ApplyFile overlays values from a YAML file onto the Config. Fields absent
// from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// MaxEnabledDevices returns the enabled-device cap, or 0 for unlimited.
func (c *Config) MaxEnabledDevices() int {
	if c.Edition == EditionEnterprise {
		return 0
	}
	if c.DeviceLimit <= 0 {
		return DefaultDeviceLimit
	}
	return c.DeviceLimit
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
