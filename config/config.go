package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Investment InvestmentConfig `mapstructure:"investment"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"` // read and write timeout
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RatesConfig struct {
	Source             string        `mapstructure:"source"` // static, http
	BaseCurrency       string        `mapstructure:"base_currency"`
	StaticFile         string        `mapstructure:"static_file"`
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	QuoteValidity      time.Duration `mapstructure:"quote_validity"`
	MaxSourceAge       time.Duration `mapstructure:"max_source_age"`
	RefetchAttempts    int           `mapstructure:"refetch_attempts"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

type LedgerConfig struct {
	LockTimeout       time.Duration  `mapstructure:"lock_timeout"`
	IdempotencyTTL    time.Duration  `mapstructure:"idempotency_ttl"`
	CurrencyPrecision map[string]int `mapstructure:"currency_precision"`
}

// Precision returns the number of minor-unit digits for a currency (default 2).
func (l LedgerConfig) Precision(currency string) int32 {
	if p, ok := l.CurrencyPrecision[strings.ToLower(currency)]; ok {
		return int32(p)
	}
	if p, ok := l.CurrencyPrecision[strings.ToUpper(currency)]; ok {
		return int32(p)
	}
	return 2
}

type ExchangeConfig struct {
	FeePercentage string `mapstructure:"fee_percentage"`
	MinimumFee    string `mapstructure:"minimum_fee"`
}

// Fee returns the parsed fee percentage and minimum fee.
func (e ExchangeConfig) Fee() (pct decimal.Decimal, minimum decimal.Decimal, err error) {
	if pct, err = decimal.NewFromString(e.FeePercentage); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("exchange.fee_percentage: %w", err)
	}
	if minimum, err = decimal.NewFromString(e.MinimumFee); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("exchange.minimum_fee: %w", err)
	}
	return pct, minimum, nil
}

type InvestmentConfig struct {
	EarlyWithdrawalPenalty string        `mapstructure:"early_withdrawal_penalty"`
	PayoutPollInterval     time.Duration `mapstructure:"payout_poll_interval"`
	PayoutBatchSize        int           `mapstructure:"payout_batch_size"`
	// PayoutLease is how long a payout may stay PROCESSING before another
	// run treats it as abandoned.
	PayoutLease time.Duration `mapstructure:"payout_lease"`
}

// Penalty returns the parsed early withdrawal penalty percentage.
func (i InvestmentConfig) Penalty() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(i.EarlyWithdrawalPenalty)
	if err != nil {
		return decimal.Zero, fmt.Errorf("investment.early_withdrawal_penalty: %w", err)
	}
	return d, nil
}

// Load reads configuration from .env, file and environment variables.
// Environment variables override file values. Prefix: LEDGER_.
// Nested keys use underscore: LEDGER_DATABASE_HOST, LEDGER_JWT_SECRET, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.op_timeout", "500ms")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "ledger-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "ledger.events")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("rates.source", "static")
	v.SetDefault("rates.base_currency", "USD")
	v.SetDefault("rates.static_file", "")
	v.SetDefault("rates.base_url", "")
	v.SetDefault("rates.timeout", "3s")
	v.SetDefault("rates.quote_validity", "30s")
	v.SetDefault("rates.max_source_age", "24h")
	v.SetDefault("rates.refetch_attempts", 2)
	v.SetDefault("rates.breaker_max_failures", 5)
	v.SetDefault("rates.breaker_open_timeout", "30s")
	v.SetDefault("ledger.lock_timeout", "2s")
	v.SetDefault("ledger.idempotency_ttl", "24h")
	v.SetDefault("ledger.currency_precision", map[string]int{"jpy": 0, "krw": 0, "bhd": 3, "kwd": 3})
	v.SetDefault("exchange.fee_percentage", "0.5")
	v.SetDefault("exchange.minimum_fee", "1.00")
	v.SetDefault("investment.early_withdrawal_penalty", "5")
	v.SetDefault("investment.payout_poll_interval", "1m")
	v.SetDefault("investment.payout_batch_size", 100)
	v.SetDefault("investment.payout_lease", "5m")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// LEDGER_DATABASE_HOST -> database.host
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	switch c.Rates.Source {
	case "static":
	case "http":
		if c.Rates.BaseURL == "" {
			return fmt.Errorf("rates.base_url is required for the http rate source")
		}
	default:
		return fmt.Errorf("rates.source: unsupported source %q", c.Rates.Source)
	}
	if c.Ledger.LockTimeout <= 0 {
		return fmt.Errorf("ledger.lock_timeout must be positive")
	}
	if c.Rates.QuoteValidity <= 0 {
		return fmt.Errorf("rates.quote_validity must be positive")
	}
	if c.Investment.PayoutPollInterval <= 0 {
		return fmt.Errorf("investment.payout_poll_interval must be positive")
	}
	if c.Investment.PayoutBatchSize <= 0 {
		return fmt.Errorf("investment.payout_batch_size must be positive")
	}
	if c.Investment.PayoutLease <= 0 {
		return fmt.Errorf("investment.payout_lease must be positive")
	}
	if _, _, err := c.Exchange.Fee(); err != nil {
		return err
	}
	if _, err := c.Investment.Penalty(); err != nil {
		return err
	}
	return nil
}
