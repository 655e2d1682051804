package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from an optional config file and environment variables.
// Environment keys replace dots with underscores, e.g. LLM_MODEL or TELEGRAM_SECRET.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Session  SessionConfig  `mapstructure:"session"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
// There is no API key here: every session supplies its own.
type LLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type ChatConfig struct {
	MaxTurns     int  `mapstructure:"max_turns"`      // conversation cap
	PinFirstTurn bool `mapstructure:"pin_first_turn"` // evict index 1 instead of index 0
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TelegramConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Secret        string        `mapstructure:"secret"`
	AllowedUserID int64         `mapstructure:"allowed_user_id"`
	EditInterval  time.Duration `mapstructure:"edit_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4")

	v.SetDefault("chat.max_turns", 10)
	v.SetDefault("chat.pin_first_turn", true)

	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.sweep_interval", "1m")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.secret", "")
	v.SetDefault("telegram.allowed_user_id", 0)
	v.SetDefault("telegram.edit_interval", "1s")

	v.SetDefault("log.level", "info")
}

// LoadConfig reads configuration from the given file (if any) and the environment.
// An empty configPath looks for config.yaml in the working directory and tolerates its absence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	cfg.Telegram.Secret = strings.TrimSpace(cfg.Telegram.Secret)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings the services cannot run with.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model is required")
	}
	if c.Chat.MaxTurns < 1 {
		return fmt.Errorf("chat.max_turns must be at least 1, got %d", c.Chat.MaxTurns)
	}
	if c.Chat.PinFirstTurn && c.Chat.MaxTurns < 2 {
		return errors.New("chat.max_turns must be at least 2 when chat.pin_first_turn is set")
	}
	if c.Session.IdleTimeout < 0 || c.Session.SweepInterval < 0 {
		return errors.New("session durations must not be negative")
	}
	return nil
}
