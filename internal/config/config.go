package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Retention RetentionConfig `mapstructure:"retention"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// StoreConfig locates the sqlite state database and the key used to
// seal target credentials at rest.
type StoreConfig struct {
	Path          string `mapstructure:"path"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

type SchedulerConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
}

type ArtifactsConfig struct {
	LocalPath string         `mapstructure:"local_path"`
	Mirrors   []MirrorConfig `mapstructure:"mirrors"`
}

// MirrorConfig describes one secondary artifact destination. Which
// fields apply depends on Type ("s3" or "gdrive").
type MirrorConfig struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type RetentionConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "bastion")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("store.path", "bastion.db")
	v.SetDefault("scheduler.tick_interval", 30*time.Second)
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.execution_timeout", 30*time.Minute)
	v.SetDefault("scheduler.shutdown_grace", 30*time.Second)
	v.SetDefault("retention.schedule", "0 0 3 * * *")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Store.EncryptionKey == "" {
		return fmt.Errorf("store.encryption_key is required (generate one with -genkey)")
	}

	if c.Artifacts.LocalPath == "" {
		return fmt.Errorf("artifacts.local_path is required")
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}

	for i, m := range c.Artifacts.Mirrors {
		switch m.Type {
		case "s3":
			if m.Enabled && (m.Bucket == "" || m.Region == "") {
				return fmt.Errorf("mirror[%d]: s3 requires bucket and region", i)
			}
		case "gdrive":
			if m.Enabled && m.CredentialsFile == "" {
				return fmt.Errorf("mirror[%d]: gdrive requires credentials_file", i)
			}
		default:
			return fmt.Errorf("mirror[%d]: unknown type %q", i, m.Type)
		}
	}

	if c.Notifier.Telegram.Enabled {
		if c.Notifier.Telegram.BotToken == "" || c.Notifier.Telegram.ChatID == "" {
			return fmt.Errorf("notifier.telegram requires bot_token and chat_id when enabled")
		}
	}

	return nil
}

func (c *Config) GetEnabledMirrors() []MirrorConfig {
	var enabled []MirrorConfig
	for _, m := range c.Artifacts.Mirrors {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled
}
