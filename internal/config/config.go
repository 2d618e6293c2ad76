// Package config provides YAML-based configuration loading for Parley.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Parley configuration, loaded once at process
// start. Nothing here is re-read at runtime.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	API         APIConfig         `yaml:"api"`
	Session     SessionConfig     `yaml:"session"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// DatabaseConfig holds MySQL connection settings for the session store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

// RedisConfig holds connection settings for the level-queue backend and
// the marketplace token cache.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	TokenDB  int    `yaml:"token_db"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// SessionConfig holds the orchestration policy knobs.
type SessionConfig struct {
	// MaxInactiveMinutes is the default inactivity window after which a
	// live session is superseded.
	MaxInactiveMinutes int `yaml:"max_inactive_minutes"`
	// DefaultLevel is the queue level used when a create request does not
	// name one ("level1".."level5").
	DefaultLevel string `yaml:"default_level"`
	// OperatorNicknames is the allow-list of human-operated account
	// nicknames consulted by the intervention detector.
	OperatorNicknames []string `yaml:"operator_nicknames"`
	// SweepCron, when set, schedules a background pass that times out
	// stale live sessions (5-field cron expression). Empty disables it.
	SweepCron string `yaml:"sweep_cron"`
}

// MarketplaceConfig holds the signed-gateway client settings.
type MarketplaceConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	AppKey     string `yaml:"app_key"`
	AppSecret  string `yaml:"app_secret"`
	// SubAccounts maps seller sub-user ids to the chat credentials used
	// when resolving send URLs for their orders.
	SubAccounts map[int64]SubAccountConfig `yaml:"sub_accounts"`
}

// SubAccountConfig holds one seller sub-account's chat credentials.
type SubAccountConfig struct {
	LoginName string `yaml:"login_name"`
	Password  string `yaml:"password"`
}

// NotifyConfig selects and configures the hand-off notification channel.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notifier credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord notifier credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if c.Session.MaxInactiveMinutes == 0 {
		c.Session.MaxInactiveMinutes = 120
	}
	if c.Session.DefaultLevel == "" {
		c.Session.DefaultLevel = "level3"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.Name == "" {
		errs = append(errs, "database.name is required")
	}
	if !validLevel(c.Session.DefaultLevel) {
		errs = append(errs, fmt.Sprintf("session.default_level %q is not one of level1..level5", c.Session.DefaultLevel))
	}
	if c.Session.MaxInactiveMinutes < 0 {
		errs = append(errs, "session.max_inactive_minutes must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validLevel(level string) bool {
	switch level {
	case "level1", "level2", "level3", "level4", "level5":
		return true
	}
	return false
}
