package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment override. A double underscore separates nesting levels,
// so BID_DATABASE__URL sets database.url.
const EnvPrefix = "BID_"

type Config struct {
	Environment string          `koanf:"environment" validate:"required,oneof=development test staging production"`
	LogLevel    string          `koanf:"log_level" validate:"required,oneof=debug info warn error"`
	InstanceID  string          `koanf:"instance_id"`
	Server      ServerConfig    `koanf:"server"`
	Database    DatabaseConfig  `koanf:"database"`
	RabbitMQ    RabbitMQConfig  `koanf:"rabbitmq"`
	Redis       RedisConfig     `koanf:"redis"`
	Auth        AuthConfig      `koanf:"auth"`
	Bidding     BiddingConfig   `koanf:"bidding"`
	Gateway     GatewayConfig   `koanf:"gateway"`
	Scheduler   SchedulerConfig `koanf:"scheduler"`
	Outbox      OutboxConfig    `koanf:"outbox"`
}

type ServerConfig struct {
	Addr              string        `koanf:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	// URL empty selects the in-memory store (development only).
	URL         string        `koanf:"url"`
	LockTimeout time.Duration `koanf:"lock_timeout" validate:"gt=0"`
	MaxConns    int32         `koanf:"max_conns" validate:"gte=0"`
}

type RabbitMQConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange" validate:"required"`
}

type RedisConfig struct {
	// Addr empty keeps fan-out local to this instance.
	Addr          string `koanf:"addr"`
	Password      string `koanf:"password"`
	DB            int    `koanf:"db" validate:"gte=0"`
	ChannelPrefix string `koanf:"channel_prefix" validate:"required"`
}

type AuthConfig struct {
	Issuer         string `koanf:"issuer" validate:"required"`
	PublicKeyPath  string `koanf:"public_key_path" validate:"required"`
	PrivateKeyPath string `koanf:"private_key_path"`
}

type BiddingConfig struct {
	LockTimeout          time.Duration `koanf:"lock_timeout" validate:"gt=0"`
	DefaultMaxExtensions int           `koanf:"default_max_extensions" validate:"gte=0"`
	RecentBids           int           `koanf:"recent_bids" validate:"gt=0,lte=200"`
}

type GatewayConfig struct {
	WriteWait      time.Duration `koanf:"write_wait" validate:"gt=0"`
	PongWait       time.Duration `koanf:"pong_wait" validate:"gt=0"`
	PingPeriod     time.Duration `koanf:"ping_period" validate:"gt=0,ltfield=PongWait"`
	MaxMessageSize int64         `koanf:"max_message_size" validate:"gt=0"`
	MailboxSize    int           `koanf:"mailbox_size" validate:"gt=0"`
	RateLimit      float64       `koanf:"rate_limit" validate:"gt=0"`
	RateBurst      int           `koanf:"rate_burst" validate:"gt=0"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

type SchedulerConfig struct {
	Interval           time.Duration `koanf:"interval" validate:"gt=0"`
	TimeUpdateInterval time.Duration `koanf:"time_update_interval" validate:"gt=0"`
}

type OutboxConfig struct {
	BatchSize   int           `koanf:"batch_size" validate:"gt=0"`
	Interval    time.Duration `koanf:"interval" validate:"gt=0"`
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=0"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Database: DatabaseConfig{
			LockTimeout: 3 * time.Second,
			MaxConns:    20,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "auction.events",
		},
		Redis: RedisConfig{
			ChannelPrefix: "gavel.fanout.",
		},
		Auth: AuthConfig{
			Issuer:        "gavel-auth-service",
			PublicKeyPath: "keys/public.pem",
		},
		Bidding: BiddingConfig{
			LockTimeout:          2 * time.Second,
			DefaultMaxExtensions: 10,
			RecentBids:           20,
		},
		Gateway: GatewayConfig{
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 4096,
			MailboxSize:    256,
			RateLimit:      5,
			RateBurst:      10,
		},
		Scheduler: SchedulerConfig{
			Interval:           time.Second,
			TimeUpdateInterval: 10 * time.Second,
		},
		Outbox: OutboxConfig{
			BatchSize:   10,
			Interval:    time.Second,
			MaxAttempts: 10,
		},
	}
}

// Load layers defaults, the optional YAML file at path and BID_ environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
