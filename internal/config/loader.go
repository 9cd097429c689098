package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchanges ──
	// Per-venue credentials: ARBOT_EXCHANGE_<NAME>_API_KEY etc., where <NAME>
	// is the upper-cased table key from [exchanges.<name>].
	for name, ex := range cfg.Exchanges {
		prefix := "ARBOT_EXCHANGE_" + strings.ToUpper(name) + "_"
		setStr(&ex.ApiKey, prefix+"API_KEY")
		setStr(&ex.ApiSecret, prefix+"API_SECRET")
		setStr(&ex.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&ex.SecretPassword, prefix+"SECRET_PASSWORD")
		cfg.Exchanges[name] = ex
	}

	// ── Jobs ──
	setDuration(&cfg.Jobs.CompareInterval, "ARBOT_JOBS_COMPARE_INTERVAL")
	setDuration(&cfg.Jobs.DispatchInterval, "ARBOT_JOBS_DISPATCH_INTERVAL")
	setDuration(&cfg.Jobs.ReapInterval, "ARBOT_JOBS_REAP_INTERVAL")
	setDuration(&cfg.Jobs.ReapGrace, "ARBOT_JOBS_REAP_GRACE")
	setStringSlice(&cfg.Jobs.Disabled, "ARBOT_JOBS_DISABLED")

	// ── Compare ──
	setFloat64(&cfg.Compare.ArbitrageMinimum, "ARBOT_COMPARE_ARBITRAGE_MINIMUM")
	setFloat64(&cfg.Compare.MaxFiatExposure, "ARBOT_COMPARE_MAX_FIAT_EXPOSURE")
	setDuration(&cfg.Compare.ReplenishLookback, "ARBOT_COMPARE_REPLENISH_LOOKBACK")
	setInt(&cfg.Compare.RequestsPerSecond, "ARBOT_COMPARE_REQUESTS_PER_SECOND")
	setInt(&cfg.Compare.RequestsPerMinute, "ARBOT_COMPARE_REQUESTS_PER_MINUTE")

	// ── Replenish ──
	setFloat64(&cfg.Replenish.FiatAmount, "ARBOT_REPLENISH_FIAT_AMOUNT")
	setStr(&cfg.Replenish.ReserveCurrency, "ARBOT_REPLENISH_RESERVE_CURRENCY")
	setDuration(&cfg.Replenish.RetryDelay, "ARBOT_REPLENISH_RETRY_DELAY")

	// ── Rates ──
	setStr(&cfg.Rates.Fiat, "ARBOT_RATES_FIAT")
	setDuration(&cfg.Rates.RefreshInterval, "ARBOT_RATES_REFRESH_INTERVAL")
	setDuration(&cfg.Rates.MaxAge, "ARBOT_RATES_MAX_AGE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ARBOT_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.MasterExchange, "ARBOT_MASTER_EXCHANGE")
	setStringSlice(&cfg.TradePairs, "ARBOT_TRADE_PAIRS")
	setStr(&cfg.Mode, "ARBOT_MODE")
	setStr(&cfg.LogLevel, "ARBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
