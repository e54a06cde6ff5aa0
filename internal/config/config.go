// Package config loads the service configuration from defaults, an
// optional file and DUKKANI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dukkani/dukkani/internal/ratelimit"
)

const EnvPrefix = "DUKKANI"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	// Addr empty disables the gRPC listener.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type RateLimitConfig struct {
	Backend       string        `mapstructure:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IPHeaders     []string      `mapstructure:"ip_headers"`
}

type TelegramConfig struct {
	Token           string        `mapstructure:"token"`
	BotUsername     string        `mapstructure:"bot_username"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	APIURL          string        `mapstructure:"api_url"`
	MinSendInterval time.Duration `mapstructure:"min_send_interval"`
	StateBackend    string        `mapstructure:"state_backend"`
	StatePath       string        `mapstructure:"state_path"`
	NotifyWorkers   int           `mapstructure:"notify_workers"`
	NotifyQueueSize int           `mapstructure:"notify_queue_size"`
}

type DashboardConfig struct {
	LowStockThreshold int `mapstructure:"low_stock_threshold"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	v.SetDefault("ratelimit.ip_headers", ratelimit.DefaultIPHeaders)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.bot_username", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("telegram.webhook_url", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.min_send_interval", 50*time.Millisecond)
	v.SetDefault("telegram.state_backend", "memory")
	v.SetDefault("telegram.state_path", "dukkani-telegram.db")
	v.SetDefault("telegram.notify_workers", 4)
	v.SetDefault("telegram.notify_queue_size", 1000)

	v.SetDefault("dashboard.low_stock_threshold", 5)
}

// Load reads file (if non-empty) over the defaults and applies the
// environment on top.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be memory, mysql or postgres, got %q", c.Database.Driver))
	}

	// The sweeper runs for every backend and also expires bolt state.
	if c.RateLimit.SweepInterval <= 0 {
		errs = append(errs, errors.New("ratelimit.sweep_interval must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("ratelimit.backend redis needs redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	switch c.Telegram.StateBackend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("telegram.state_backend redis needs redis.addr"))
		}
	case "bolt":
		if c.Telegram.StatePath == "" {
			errs = append(errs, errors.New("telegram.state_path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("telegram.state_backend must be memory, redis or bolt, got %q", c.Telegram.StateBackend))
	}

	if c.Telegram.NotifyWorkers < 1 {
		errs = append(errs, errors.New("telegram.notify_workers must be at least 1"))
	}
	if c.Telegram.NotifyQueueSize < 1 {
		errs = append(errs, errors.New("telegram.notify_queue_size must be at least 1"))
	}
	if c.Dashboard.LowStockThreshold < 0 {
		errs = append(errs, errors.New("dashboard.low_stock_threshold cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
