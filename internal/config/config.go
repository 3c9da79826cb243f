package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the global configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Credit   CreditConfig   `mapstructure:"credit"`
	Job      JobConfig      `mapstructure:"job"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig selects the ledger store. "mysql" is the production driver;
// "sqlite" serves single-node installs where Path is the database file.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"` // silent, error, warn, info
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvents string `mapstructure:"credit_events"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CreditConfig holds the cooperative's lending policy.
type CreditConfig struct {
	InterestEnabled         bool    `mapstructure:"interest_enabled"`
	InterestMonthlyRate     float64 `mapstructure:"interest_monthly_rate"` // percent per month
	InterestGraceDays       int     `mapstructure:"interest_grace_days"`
	InstallmentIntervalDays int     `mapstructure:"installment_interval_days"`
	LockTTLSeconds          int     `mapstructure:"lock_ttl_seconds"`
	LockRetryMillis         int     `mapstructure:"lock_retry_millis"`
	LockMaxRetries          int     `mapstructure:"lock_max_retries"`
}

func (c CreditConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c CreditConfig) LockRetryInterval() time.Duration {
	return time.Duration(c.LockRetryMillis) * time.Millisecond
}

type JobConfig struct {
	AccrualIntervalSeconds int `mapstructure:"accrual_interval_seconds"`
	AuditIntervalSeconds   int `mapstructure:"audit_interval_seconds"`
	OutboxIntervalMillis   int `mapstructure:"outbox_interval_millis"`
	BatchSize              int `mapstructure:"batch_size"`
	MaxRetryCount          int `mapstructure:"max_retry_count"`
}

// SetDefaults registers the values used when neither the config file nor the
// environment provides one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "coopcredit")
	v.SetDefault("database.path", "coopcredit.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.credit_events", "coop-credit-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("credit.interest_enabled", false)
	v.SetDefault("credit.interest_monthly_rate", 1.5)
	v.SetDefault("credit.interest_grace_days", 30)
	v.SetDefault("credit.installment_interval_days", 30)
	v.SetDefault("credit.lock_ttl_seconds", 30)
	v.SetDefault("credit.lock_retry_millis", 100)
	v.SetDefault("credit.lock_max_retries", 30)

	v.SetDefault("job.accrual_interval_seconds", 3600)
	v.SetDefault("job.audit_interval_seconds", 900)
	v.SetDefault("job.outbox_interval_millis", 500)
	v.SetDefault("job.batch_size", 100)
	v.SetDefault("job.max_retry_count", 5)
}

// LoadConfig reads the yaml file at configPath (if it exists) and applies
// COOP_* environment overrides, e.g. COOP_DATABASE_HOST.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("COOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Credit.InterestMonthlyRate < 0 {
		return fmt.Errorf("credit.interest_monthly_rate must not be negative")
	}
	if c.Credit.InterestGraceDays < 0 {
		return fmt.Errorf("credit.interest_grace_days must not be negative")
	}
	if c.Credit.InstallmentIntervalDays <= 0 {
		return fmt.Errorf("credit.installment_interval_days must be positive")
	}
	return nil
}
