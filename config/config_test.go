package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no stray config.yaml is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4", cfg.LLM.Model)
	assert.Equal(t, 10, cfg.Chat.MaxTurns)
	assert.True(t, cfg.Chat.PinFirstTurn)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, time.Second, cfg.Telegram.EditInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("LLM_BASE_URL", "http://localhost:1234/v1/")
	t.Setenv("CHAT_MAX_TURNS", "4")
	t.Setenv("TELEGRAM_SECRET", "  token  ")
	t.Setenv("TELEGRAM_ALLOWED_USER_ID", "42")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 4, cfg.Chat.MaxTurns)
	assert.Equal(t, "token", cfg.Telegram.Secret)
	assert.Equal(t, int64(42), cfg.Telegram.AllowedUserID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "gochat.yaml")
	content := []byte(`
server:
  addr: "127.0.0.1:9000"
chat:
  max_turns: 6
  pin_first_turn: false
session:
  idle_timeout: 5m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 6, cfg.Chat.MaxTurns)
	assert.False(t, cfg.Chat.PinFirstTurn)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, "gpt-4", cfg.LLM.Model)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	dir := chdirTemp(t)

	_, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no model", mutate: func(c *Config) { c.LLM.Model = "" }, wantErr: true},
		{name: "no base url", mutate: func(c *Config) { c.LLM.BaseURL = "" }, wantErr: true},
		{name: "zero cap", mutate: func(c *Config) { c.Chat.MaxTurns = 0 }, wantErr: true},
		{name: "pinned cap of one", mutate: func(c *Config) { c.Chat.MaxTurns = 1 }, wantErr: true},
		{name: "unpinned cap of one", mutate: func(c *Config) {
			c.Chat.MaxTurns = 1
			c.Chat.PinFirstTurn = false
		}},
		{name: "negative idle", mutate: func(c *Config) { c.Session.IdleTimeout = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				LLM:  LLMConfig{BaseURL: "http://x", Model: "m"},
				Chat: ChatConfig{MaxTurns: 10, PinFirstTurn: true},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
