package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken   string        `yaml:"discord_token"`
	SettingsPath   string        `yaml:"settings_path"`
	LogLevel       string        `yaml:"log_level"`
	CommandGuildID string        `yaml:"command_guild_id"`
	Health         HealthConfig  `yaml:"health"`
	Welcome        WelcomeConfig `yaml:"welcome"`
	EmbedColors    EmbedColors   `yaml:"embed_colors"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type WelcomeConfig struct {
	DelaySeconds   int `yaml:"delay_seconds"`
	RetentionHours int `yaml:"retention_hours"`
}

type EmbedColors struct {
	Prompt  int `yaml:"prompt"`
	Success int `yaml:"success"`
	Deny    int `yaml:"deny"`
	Help    int `yaml:"help"`
	Welcome int `yaml:"welcome"`
}

func DefaultConfig() Config {
	return Config{
		SettingsPath: "data/settings.json",
		LogLevel:     "info",
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		Welcome:      WelcomeConfig{DelaySeconds: 30, RetentionHours: 24},
		EmbedColors: EmbedColors{
			Prompt:  0x3B82F6,
			Success: 0x22C55E,
			Deny:    0xEF4444,
			Help:    0xF59E0B,
			Welcome: 0x5865F2,
		},
	}
}

// Load reads the optional YAML file named by path (or CONFIG_PATH, or
// config.yaml) and applies environment overrides on top of it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Welcome.DelaySeconds < 0 {
		cfg.Welcome.DelaySeconds = 0
	}
	return cfg, nil
}

func (c WelcomeConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

func (c WelcomeConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.SettingsPath = envString("SETTINGS_PATH", cfg.SettingsPath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.CommandGuildID = envString("COMMAND_GUILD_ID", cfg.CommandGuildID)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Welcome.DelaySeconds = envInt("WELCOME_DELAY_SECONDS", cfg.Welcome.DelaySeconds)
	cfg.Welcome.RetentionHours = envInt("WELCOME_RETENTION_HOURS", cfg.Welcome.RetentionHours)
	cfg.EmbedColors.Prompt = envInt("EMBED_COLOR_PROMPT", cfg.EmbedColors.Prompt)
	cfg.EmbedColors.Success = envInt("EMBED_COLOR_SUCCESS", cfg.EmbedColors.Success)
	cfg.EmbedColors.Deny = envInt("EMBED_COLOR_DENY", cfg.EmbedColors.Deny)
	cfg.EmbedColors.Help = envInt("EMBED_COLOR_HELP", cfg.EmbedColors.Help)
	cfg.EmbedColors.Welcome = envInt("EMBED_COLOR_WELCOME", cfg.EmbedColors.Welcome)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
			return int(parsed)
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
