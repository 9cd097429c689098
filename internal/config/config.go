// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBOT_* environment variables.
type Config struct {
	Exchanges      map[string]ExchangeConfig `toml:"exchanges"`
	MasterExchange string                    `toml:"master_exchange"`
	TradePairs     []string                  `toml:"trade_pairs"`
	Jobs           JobsConfig                `toml:"jobs"`
	Compare        CompareConfig             `toml:"compare"`
	Replenish      ReplenishConfig           `toml:"replenish"`
	Rates          RatesConfig               `toml:"rates"`
	Postgres       PostgresConfig            `toml:"postgres"`
	Redis          RedisConfig               `toml:"redis"`
	S3             S3Config                  `toml:"s3"`
	Archive        ArchiveConfig             `toml:"archive"`
	Notify         NotifyConfig              `toml:"notify"`
	Mode           string                    `toml:"mode"`
	LogLevel       string                    `toml:"log_level"`
}

// ExchangeConfig holds one venue's API credentials. The secret is either given
// raw or read from an encrypted file unlocked with secret_password.
type ExchangeConfig struct {
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// JobsConfig holds the job queue's scheduling cadences.
type JobsConfig struct {
	CompareInterval  duration `toml:"compare_interval"`
	DispatchInterval duration `toml:"dispatch_interval"`
	ReapInterval     duration `toml:"reap_interval"`
	ReapGrace        duration `toml:"reap_grace"`
	// Disabled lists job types the dispatcher skips. TRANSACT and REPLENISH
	// stay disabled by default so a fresh deployment runs dry.
	Disabled []string `toml:"disabled"`
}

// CompareConfig holds the arbitrage detector's thresholds.
type CompareConfig struct {
	// ArbitrageMinimum is the fiat profit floor per opportunity.
	ArbitrageMinimum float64 `toml:"arbitrage_minimum"`
	// MaxFiatExposure caps the fiat value committed to a single trade.
	MaxFiatExposure   float64  `toml:"max_fiat_exposure"`
	ReplenishLookback duration `toml:"replenish_lookback"`
	// RequestsPerSecond and RequestsPerMinute are per-venue API ceilings,
	// claimed before every outbound adapter call.
	RequestsPerSecond int `toml:"requests_per_second"`
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// ReplenishConfig holds balance top-up parameters.
type ReplenishConfig struct {
	// FiatAmount is the target transfer size in the reporting fiat.
	FiatAmount      float64  `toml:"fiat_amount"`
	ReserveCurrency string   `toml:"reserve_currency"`
	RetryDelay      duration `toml:"retry_delay"`
}

// RatesConfig holds fiat conversion rate parameters.
type RatesConfig struct {
	Fiat            string   `toml:"fiat"`
	RefreshInterval duration `toml:"refresh_interval"`
	MaxAge          duration `toml:"max_age"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds audit archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchanges:      map[string]ExchangeConfig{},
		MasterExchange: "binance",
		TradePairs:     []string{"ETH-BTC", "LTC-BTC", "XRP-BTC"},
		Jobs: JobsConfig{
			CompareInterval:  duration{5 * time.Second},
			DispatchInterval: duration{1 * time.Second},
			ReapInterval:     duration{3 * time.Second},
			ReapGrace:        duration{30 * time.Second},
			Disabled:         []string{"TRANSACT", "REPLENISH"},
		},
		Compare: CompareConfig{
			ArbitrageMinimum:  0,
			MaxFiatExposure:   500,
			ReplenishLookback: duration{1 * time.Hour},
			RequestsPerSecond: 10,
			RequestsPerMinute: 60,
		},
		Replenish: ReplenishConfig{
			FiatAmount:      1000,
			ReserveCurrency: "BTC",
			RetryDelay:      duration{20 * time.Second},
		},
		Rates: RatesConfig{
			Fiat:            "GBP",
			RefreshInterval: duration{10 * time.Minute},
			MaxAge:          duration{15 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"cycle_detected", "worker_error", "error"},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"compare": true,
	"multi":   true,
	"watch":   true,
	"setup":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validJobTypes enumerates the job types accepted in jobs.disabled.
var validJobTypes = map[string]bool{
	"COMPARE":        true,
	"TRANSACT":       true,
	"REPLENISH":      true,
	"CONVERT":        true,
	"WITHDRAWAL_FEE": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, compare, multi, watch, setup)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchanges: at least two venues are needed for a comparison, and every
	// venue needs a resolvable secret.
	if len(c.Exchanges) < 2 && c.Mode != "setup" {
		errs = append(errs, fmt.Sprintf("exchanges: at least 2 venues are required, got %d", len(c.Exchanges)))
	}
	for name, ex := range c.Exchanges {
		if ex.ApiKey == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: api_key must not be empty", name))
		}
		if ex.ApiSecret == "" && ex.EncryptedSecretPath == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: either api_secret or encrypted_secret_path must be set", name))
		}
		if ex.EncryptedSecretPath != "" && ex.SecretPassword == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s: secret_password is required when encrypted_secret_path is set", name))
		}
	}
	if c.MasterExchange == "" {
		errs = append(errs, "master_exchange must not be empty")
	} else if len(c.Exchanges) > 0 {
		if _, ok := c.Exchanges[c.MasterExchange]; !ok {
			errs = append(errs, fmt.Sprintf("master_exchange %q is not in the exchanges table", c.MasterExchange))
		}
	}

	// Trade pairs
	if len(c.TradePairs) == 0 && (c.Mode == "run" || c.Mode == "compare") {
		errs = append(errs, "trade_pairs must not be empty for mode "+c.Mode)
	}
	for _, p := range c.TradePairs {
		if !strings.Contains(p, "-") {
			errs = append(errs, fmt.Sprintf("trade_pairs: %q must be BASE-QUOTE, e.g. \"ETH-BTC\"", p))
		}
	}

	// Jobs
	if c.Jobs.CompareInterval.Duration <= 0 {
		errs = append(errs, "jobs: compare_interval must be > 0")
	}
	if c.Jobs.DispatchInterval.Duration <= 0 {
		errs = append(errs, "jobs: dispatch_interval must be > 0")
	}
	if c.Jobs.ReapInterval.Duration <= 0 {
		errs = append(errs, "jobs: reap_interval must be > 0")
	}
	for _, t := range c.Jobs.Disabled {
		if !validJobTypes[t] {
			errs = append(errs, fmt.Sprintf("jobs: unknown disabled type %q", t))
		}
	}

	// Compare
	if c.Compare.ArbitrageMinimum < 0 {
		errs = append(errs, "compare: arbitrage_minimum must be >= 0")
	}
	if c.Compare.MaxFiatExposure <= 0 {
		errs = append(errs, "compare: max_fiat_exposure must be > 0")
	}
	if c.Compare.RequestsPerSecond < 1 {
		errs = append(errs, "compare: requests_per_second must be >= 1")
	}
	if c.Compare.RequestsPerMinute < 1 {
		errs = append(errs, "compare: requests_per_minute must be >= 1")
	}

	// Replenish
	if c.Replenish.FiatAmount <= 0 {
		errs = append(errs, "replenish: fiat_amount must be > 0")
	}
	if c.Replenish.ReserveCurrency == "" {
		errs = append(errs, "replenish: reserve_currency must not be empty")
	}

	// Rates
	if c.Rates.Fiat == "" {
		errs = append(errs, "rates: fiat must not be empty")
	}
	if c.Rates.RefreshInterval.Duration <= 0 {
		errs = append(errs, "rates: refresh_interval must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
