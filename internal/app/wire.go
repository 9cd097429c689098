package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbot/internal/blob/s3"
	"github.com/alanyoungcy/arbot/internal/cache/redis"
	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/crypto"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/exchange"
	"github.com/alanyoungcy/arbot/internal/notify"
	"github.com/alanyoungcy/arbot/internal/rates"
	"github.com/alanyoungcy/arbot/internal/store/postgres"

	// Venue adapters register their factories on import.
	_ "github.com/alanyoungcy/arbot/internal/exchange/binance"
	_ "github.com/alanyoungcy/arbot/internal/exchange/hitbtc"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	JobStore      domain.JobStore
	QueueStatus   domain.QueueStatusStore
	AuditStore    domain.AuditStore
	BalanceStore  domain.BalanceStore
	FiatRateStore domain.FiatRateStore
	TradeStore    domain.TradeStore
	MarketStore   domain.MarketStore

	// Coordination
	LockManager domain.MethodLockManager
	RateLimiter domain.RateLimiter

	// Venues
	Exchanges *exchange.Registry
	Master    exchange.Withdrawer

	// Rates
	Rates *rates.Service

	// Archival
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "run", "compare", "setup":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that require locks and rate limits.
func needsRedis(mode string) bool {
	switch mode {
	case "run", "compare":
		return true
	default:
		return false
	}
}

// needsExchanges returns true for modes that talk to venues. Setup only needs
// them when some are configured, to refresh the market listings.
func needsExchanges(mode string) bool {
	switch mode {
	case "run", "compare", "multi", "setup":
		return true
	default:
		return false
	}
}

// needsMaster returns true for modes that move funds through the master venue.
func needsMaster(mode string) bool {
	switch mode {
	case "run", "compare", "multi":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Setup mode always migrates; other modes follow the config flag.
		if cfg.Postgres.RunMigrations || cfg.Mode == "setup" {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.JobStore = postgres.NewJobStore(pool)
		deps.QueueStatus = postgres.NewQueueStatusStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.BalanceStore = postgres.NewBalanceStore(pool)
		deps.FiatRateStore = postgres.NewFiatRateStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.MarketStore = postgres.NewMarketStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewMethodLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Venue adapters ---
	if needsExchanges(cfg.Mode) {
		registry := exchange.NewRegistry()
		for name, exCfg := range cfg.Exchanges {
			secret, err := crypto.LoadSecret(crypto.SecretConfig{
				RawSecret:           exCfg.ApiSecret,
				EncryptedSecretPath: exCfg.EncryptedSecretPath,
				Password:            exCfg.SecretPassword,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: exchange %s secret: %w", name, err)
			}
			ex, err := exchange.Build(name, exchange.Credentials{
				APIKey:    exCfg.ApiKey,
				APISecret: secret,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: exchange %s: %w", name, err)
			}
			// Every adapter call claims its rate-limit slots at the boundary.
			ex = exchange.Limit(ex, deps.RateLimiter, exchange.Limits{
				PerSecond: cfg.Compare.RequestsPerSecond,
				PerMinute: cfg.Compare.RequestsPerMinute,
			})
			registry.Add(ex)
		}
		deps.Exchanges = registry

		if needsMaster(cfg.Mode) {
			master, err := registry.Get(cfg.MasterExchange)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: master exchange: %w", err)
			}
			withdrawer, ok := master.(exchange.Withdrawer)
			if !ok {
				cleanup()
				return nil, nil, fmt.Errorf("wire: master exchange %q does not support withdrawals", cfg.MasterExchange)
			}
			deps.Master = withdrawer
		}
	}

	// --- Fiat rates ---
	if deps.FiatRateStore != nil {
		deps.Rates = rates.NewService(
			rates.NewCoinGecko(""),
			deps.FiatRateStore,
			cfg.Rates.Fiat,
			cfg.Rates.MaxAge.Duration,
			logger,
		)
	}

	// --- S3 audit archival ---
	if cfg.Archive.Enabled && deps.AuditStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			cfg.Archive.RetentionDays,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
