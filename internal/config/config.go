package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port int `yaml:"port" envconfig:"PORT"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"` // postgres | sqlite
	DSN    string `yaml:"url" envconfig:"URL"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host" envconfig:"SMTP_HOST"`
	SMTPPort     int    `yaml:"smtp_port" envconfig:"SMTP_PORT"`
	SMTPUser     string `yaml:"smtp_user" envconfig:"SMTP_USER"`
	SMTPPassword string `yaml:"smtp_password" envconfig:"SMTP_PASSWORD"`
	FromEmail    string `yaml:"from_email" envconfig:"FROM_EMAIL"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token" envconfig:"BOT_TOKEN"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

type SchedulerConfig struct {
	Interval  time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	BatchSize int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
}

type WatcherConfig struct {
	QueueSize int `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Email     EmailConfig     `yaml:"email" envconfig:"EMAIL"`
	Telegram  TelegramConfig  `yaml:"telegram" envconfig:"TELEGRAM"`
	Auth      AuthConfig      `yaml:"auth" envconfig:"AUTH"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
	Watcher   WatcherConfig   `yaml:"watcher" envconfig:"WATCHER"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

// LoadConfig reads the YAML file at path (a missing file is allowed) and then
// applies PRINTFLOW_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := envconfig.Process("PRINTFLOW", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = 60 * time.Second
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Watcher.QueueSize <= 0 {
		c.Watcher.QueueSize = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	return nil
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.Email.SMTPHost != "" && c.Email.FromEmail != ""
}
