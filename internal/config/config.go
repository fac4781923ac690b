// Package config loads the service configuration from YAML with sane
// defaults for every knob.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sofianedjerbi/rouse/internal/alert"
)

// Config is the full service configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Grouping  GroupingConfig  `mapstructure:"grouping"`
	Retention RetentionConfig `mapstructure:"retention"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Routing   RoutingConfig   `mapstructure:"routing"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type DispatchConfig struct {
	EscalationInterval   time.Duration `mapstructure:"escalation_interval"`
	NotificationInterval time.Duration `mapstructure:"notification_interval"`
	ClaimVisibility      time.Duration `mapstructure:"claim_visibility"`
	MaxRetries           int           `mapstructure:"max_retries"`
	Backoff              BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type GroupingConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type RetentionConfig struct {
	// Schedule is a cron expression for the cleanup sweep
	Schedule string `mapstructure:"schedule"`
	// Window is how long finished queue rows are kept
	Window time.Duration `mapstructure:"window"`
}

type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RoutingConfig struct {
	DefaultPolicyID string       `mapstructure:"default_policy_id"`
	Rules           []alert.Rule `mapstructure:"rules"`
}

// Load reads config.yaml from the given directory. A missing file is not
// an error: every setting has a default.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rouse")
	v.SetDefault("database.path", "rouse.db")

	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)

	v.SetDefault("dispatch.escalation_interval", time.Second)
	v.SetDefault("dispatch.notification_interval", time.Second)
	v.SetDefault("dispatch.claim_visibility", 5*time.Minute)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.backoff.initial_delay", 30*time.Second)
	v.SetDefault("dispatch.backoff.max_delay", 5*time.Minute)
	v.SetDefault("dispatch.backoff.multiplier", 2.0)

	v.SetDefault("grouping.window", 5*time.Minute)

	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.window", 30*24*time.Hour)

	v.SetDefault("webhook.timeout", 10*time.Second)
}
