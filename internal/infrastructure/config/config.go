package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment    string               `mapstructure:"environment"`
	LogLevel       string               `mapstructure:"log_level"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Fees           FeeConfig            `mapstructure:"fees"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Workers        WorkerConfig         `mapstructure:"workers"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GatewayConfig contains the external payment rail configuration
type GatewayConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
	Timeout         int    `mapstructure:"timeout"`           // request timeout in seconds
	TokenTTL        int    `mapstructure:"token_ttl"`         // auth token cache TTL in seconds
	BalanceCacheTTL int    `mapstructure:"balance_cache_ttl"` // aggregate balance cache TTL in seconds
}

// FeeConfig contains withdrawal fee parameters. The percentage applies to
// both the gateway and platform components; each is clamped independently.
type FeeConfig struct {
	PercentBps     int    `mapstructure:"percent_bps"` // fee rate in basis points (50 = 0.5%)
	GatewayFeeMin  string `mapstructure:"gateway_fee_min"`
	GatewayFeeMax  string `mapstructure:"gateway_fee_max"`
	PlatformFeeMin string `mapstructure:"platform_fee_min"`
	PlatformFeeMax string `mapstructure:"platform_fee_max"`
	MinWithdrawal  string `mapstructure:"min_withdrawal"`
}

// ReconciliationConfig contains reconciliation engine configuration
type ReconciliationConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"`              // cron expression
	ResultCacheTTL     int    `mapstructure:"result_cache_ttl"`      // seconds
	SweepSchedule      string `mapstructure:"sweep_schedule"`        // cron expression for stale-processing sweep
	StaleAfterHours    int    `mapstructure:"stale_after_hours"`     // age bound for the processing sweep
	AggregateAlertUnit string `mapstructure:"aggregate_alert_limit"` // currency units before high-severity flag
}

// NotificationConfig contains outbound email configuration
type NotificationConfig struct {
	Provider  string `mapstructure:"provider"` // "sendgrid" or "log"
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	JobTimeout int `mapstructure:"job_timeout"` // seconds
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "wallet_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("gateway.timeout", 30)
	viper.SetDefault("gateway.token_ttl", 60)
	viper.SetDefault("gateway.balance_cache_ttl", 120)

	viper.SetDefault("fees.percent_bps", 50)
	viper.SetDefault("fees.gateway_fee_min", "20")
	viper.SetDefault("fees.gateway_fee_max", "100")
	viper.SetDefault("fees.platform_fee_min", "5")
	viper.SetDefault("fees.platform_fee_max", "50")
	viper.SetDefault("fees.min_withdrawal", "100")

	viper.SetDefault("reconciliation.enabled", true)
	viper.SetDefault("reconciliation.schedule", "*/30 * * * *")
	viper.SetDefault("reconciliation.result_cache_ttl", 300)
	viper.SetDefault("reconciliation.sweep_schedule", "0 * * * *")
	viper.SetDefault("reconciliation.stale_after_hours", 24)
	viper.SetDefault("reconciliation.aggregate_alert_limit", "10000")

	viper.SetDefault("notification.provider", "log")
	viper.SetDefault("notification.from_email", "no-reply@vaultpay.io")
	viper.SetDefault("notification.from_name", "VaultPay")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	viper.SetDefault("workers.job_timeout", 300)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		viper.Set("database.url", url)
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		// host:port form only; password/db come from their own vars
		if host, portStr, ok := strings.Cut(strings.TrimPrefix(url, "redis://"), ":"); ok {
			viper.Set("redis.host", host)
			if p, err := strconv.Atoi(portStr); err == nil {
				viper.Set("redis.port", p)
			}
		}
	}
	if key := os.Getenv("GATEWAY_CLIENT_SECRET"); key != "" {
		viper.Set("gateway.client_secret", key)
	}
	if key := os.Getenv("GATEWAY_WEBHOOK_SECRET"); key != "" {
		viper.Set("gateway.webhook_secret", key)
	}
	if key := os.Getenv("SENDGRID_API_KEY"); key != "" {
		viper.Set("notification.api_key", key)
	}
}

func validate(cfg *Config) error {
	if cfg.Environment == "production" {
		if cfg.Gateway.ClientSecret == "" {
			return fmt.Errorf("gateway.client_secret is required in production")
		}
		if cfg.Gateway.WebhookSecret == "" {
			return fmt.Errorf("gateway.webhook_secret is required in production")
		}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	return nil
}
