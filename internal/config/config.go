package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Storage
	DatabasePath string `envconfig:"DATABASE_PATH" default:"daybook.db"`

	// Auth
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`

	// AI provider (optional — server runs without AI endpoints when unset)
	AnthropicAPIKey    string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel     string        `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5"`
	AnthropicMaxTokens int           `envconfig:"ANTHROPIC_MAX_TOKENS" default:"4096"`
	AIRequestTimeout   time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"120s"`

	// Rate limiting
	RateLimitEnabled    bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitPolicyPath string        `envconfig:"RATE_LIMIT_POLICY_PATH"`
	RateLimitSweepEvery time.Duration `envconfig:"RATE_LIMIT_SWEEP_EVERY" default:"5m"`

	// Daily briefing
	BriefingCacheTTL time.Duration `envconfig:"BRIEFING_CACHE_TTL" default:"30m"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL"`

	// GitHub import (optional)
	GitHubToken string `envconfig:"GITHUB_TOKEN"`
}

// AIEnabled returns true if an AI provider key is configured.
func (c *Config) AIEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// GitHubEnabled returns true if GitHub issue import is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != ""
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
