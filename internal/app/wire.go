package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantele/crossarb/internal/blob/s3"
	"github.com/quantele/crossarb/internal/cache/redis"
	"github.com/quantele/crossarb/internal/config"
	"github.com/quantele/crossarb/internal/crypto"
	"github.com/quantele/crossarb/internal/domain"
	"github.com/quantele/crossarb/internal/exchange"
	"github.com/quantele/crossarb/internal/notify"
	"github.com/quantele/crossarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores, nil in mirror mode.
	OrderStore    domain.OrderStore
	DecisionStore domain.DecisionStore

	// Redis-backed shared state.
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage, nil unless S3 is enabled.
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter

	// Exchange is the local venue's REST client, nil in mirror mode.
	Exchange *exchange.Client

	// Own-order sources for the stranger views. LocalOrders follows
	// exchange.own_orders_source; RemoteOrders always reads the order
	// store, since the counterpart exposes no API to us.
	LocalOrders  domain.OwnOrderSource
	RemoteOrders domain.OwnOrderSource

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist orders and decisions.
func needsPostgres(mode string) bool {
	return mode == "run"
}

// needsExchange returns true for modes that place orders.
func needsExchange(mode string) bool {
	return mode == "run"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
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
	var orderStore *postgres.OrderStore
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

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		orderStore = postgres.NewOrderStore(pool)
		deps.OrderStore = orderStore
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.RemoteOrders = orderStore
	}

	// --- Redis ---
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

	deps.BookCache = redis.NewBookCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader // same type implements BlobDeleter
	}

	// --- Venue REST client ---
	if needsExchange(cfg.Mode) {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:        cfg.Exchange.ApiSecret,
			EncryptedKeyPath: cfg.Exchange.EncryptedKeyPath,
			KeyPassword:      cfg.Exchange.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
		}

		deps.Exchange = exchange.New(exchange.ClientConfig{
			Venue:             cfg.Venue.Name,
			BaseURL:           cfg.Exchange.BaseURL,
			Key:               cfg.Exchange.ApiKey,
			Secret:            secret,
			Passphrase:        cfg.Exchange.ApiPassphrase,
			Timeout:           cfg.Exchange.Timeout.Duration,
			RequestsPerMinute: cfg.Exchange.RequestsPerMinute,
		}, deps.RateLimiter)

		switch cfg.Exchange.OwnOrdersSource {
		case "postgres":
			deps.LocalOrders = orderStore
		default:
			deps.LocalOrders = deps.Exchange
		}
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
