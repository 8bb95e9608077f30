// Package config tests.
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "daybook.db", cfg.DatabasePath)
	assert.Equal(t, 24*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, "claude-sonnet-4-5", cfg.AnthropicModel)
	assert.Equal(t, 4096, cfg.AnthropicMaxTokens)
	assert.True(t, cfg.RateLimitEnabled)
	assert.Equal(t, 30*time.Minute, cfg.BriefingCacheTTL)
}

func TestLoad_Custom(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DATABASE_PATH", "/tmp/db.sqlite")
	t.Setenv("ACCESS_TOKEN_TTL", "1h")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "/tmp/db.sqlite", cfg.DatabasePath)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
}

func TestLoadWithPrefix(t *testing.T) {
	os.Clearenv()
	t.Setenv("DAYBOOK_HTTP_PORT", "9090")
	t.Setenv("HTTP_PORT", "7070")

	cfg, err := LoadWithPrefix("DAYBOOK")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort, "prefixed variable wins over the bare fallback")

	// Empty prefix reads the bare names, same as Load.
	cfg, err = LoadWithPrefix("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTPPort)
}

func TestConfig_EnabledFlags(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.AIEnabled())
	assert.False(t, cfg.SlackEnabled())
	assert.False(t, cfg.GitHubEnabled())

	cfg.AnthropicAPIKey = "sk-ant-test"
	assert.True(t, cfg.AIEnabled())

	cfg.SlackBotToken = "xoxb-test"
	assert.False(t, cfg.SlackEnabled(), "needs a channel too")
	cfg.SlackChannel = "#daybook"
	assert.True(t, cfg.SlackEnabled())

	cfg.GitHubToken = "ghp_test"
	assert.True(t, cfg.GitHubEnabled())
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{HTTPPort: 8080}
	assert.Error(t, cfg.Validate(), "missing JWT secret")

	cfg.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.HTTPPort = 0
	assert.Error(t, cfg.Validate())
}
