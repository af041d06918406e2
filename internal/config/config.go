package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Business  BusinessConfig  `mapstructure:"business"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Health    HealthConfig    `mapstructure:"health"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type SchedulerConfig struct {
	SweepSchedule string `mapstructure:"SWEEP_SCHEDULE"`
	Timezone      string `mapstructure:"SCHEDULER_TIMEZONE"`
	LockTTL       string `mapstructure:"SWEEP_LOCK_TTL"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	FineMultiplier     string `mapstructure:"FINE_MULTIPLIER"`
	ReminderWindowDays int    `mapstructure:"REMINDER_WINDOW_DAYS"`
	SessionTTL         string `mapstructure:"SESSION_TTL"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	WebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	SuccessURL    string `mapstructure:"STRIPE_SUCCESS_URL"`
	CancelURL     string `mapstructure:"STRIPE_CANCEL_URL"`
	Timeout       string `mapstructure:"GATEWAY_TIMEOUT"`
}

type TelegramConfig struct {
	BotToken   string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	APIBaseURL string `mapstructure:"TELEGRAM_API_BASE_URL"`
	Timeout    string `mapstructure:"DISPATCH_TIMEOUT"`
	MaxRetries int    `mapstructure:"DISPATCH_MAX_RETRIES"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"JWT_SECRET"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("SERVER_READ_TIMEOUT", "15s")
	viper.SetDefault("SERVER_WRITE_TIMEOUT", "15s")
	viper.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("FINE_MULTIPLIER", "1.0")
	viper.SetDefault("REMINDER_WINDOW_DAYS", 1)
	viper.SetDefault("SESSION_TTL", "24h")
	viper.SetDefault("SWEEP_SCHEDULE", "0 0 * * * *")
	viper.SetDefault("SWEEP_LOCK_TTL", "10m")
	viper.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	viper.SetDefault("GATEWAY_TIMEOUT", "10s")
	viper.SetDefault("DISPATCH_TIMEOUT", "5s")
	viper.SetDefault("DISPATCH_MAX_RETRIES", 3)
	viper.SetDefault("TELEGRAM_API_BASE_URL", "https://api.telegram.org")
	viper.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read from .env file (optional)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Business.ReminderWindowDays < 0 {
		return fmt.Errorf("REMINDER_WINDOW_DAYS must not be negative")
	}

	if _, err := decimal.NewFromString(c.Business.FineMultiplier); err != nil {
		return fmt.Errorf("FINE_MULTIPLIER must be a valid decimal: %w", err)
	}

	if _, err := time.ParseDuration(c.Business.SessionTTL); err != nil {
		return fmt.Errorf("SESSION_TTL must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Scheduler.LockTTL); err != nil {
		return fmt.Errorf("SWEEP_LOCK_TTL must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Stripe.Timeout); err != nil {
		return fmt.Errorf("GATEWAY_TIMEOUT must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Telegram.Timeout); err != nil {
		return fmt.Errorf("DISPATCH_TIMEOUT must be a valid duration: %w", err)
	}

	if _, err := time.ParseDuration(c.Health.Timeout); err != nil {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be a valid duration: %w", err)
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetFineMultiplier returns the overdue fine multiplier as decimal
func (c *Config) GetFineMultiplier() decimal.Decimal {
	m, _ := decimal.NewFromString(c.Business.FineMultiplier)
	return m
}

// GetSessionTTL returns the checkout session lifetime as duration
func (c *Config) GetSessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Business.SessionTTL)
	return d
}

// GetSweepLockTTL returns the sweep leader lock lifetime as duration
func (c *Config) GetSweepLockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.LockTTL)
	return d
}

// GetGatewayTimeout returns the checkout gateway call timeout as duration
func (c *Config) GetGatewayTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Stripe.Timeout)
	return d
}

// GetDispatchTimeout returns the notification delivery timeout as duration
func (c *Config) GetDispatchTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Telegram.Timeout)
	return d
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Health.Timeout)
	return d
}
