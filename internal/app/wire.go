package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/deedmarket/deedmarket/internal/blob/s3"
	"github.com/deedmarket/deedmarket/internal/cache/redis"
	"github.com/deedmarket/deedmarket/internal/config"
	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/ledger"
	"github.com/deedmarket/deedmarket/internal/market"
	"github.com/deedmarket/deedmarket/internal/store/postgres"
	"github.com/deedmarket/deedmarket/internal/vault"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	EventStore domain.EventStore

	Vault  *vault.Vault
	Ledger *ledger.Service
	Market *market.Service

	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	Archiver domain.Archiver
}

// needsS3 reports whether the mode requires object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || cfg.Mode == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	ledgerStore := postgres.NewLedgerStore(pgClient)
	listingStore := postgres.NewListingStore(pgClient)
	ownershipStore := postgres.NewOwnershipStore(pgClient)
	eventStore := postgres.NewEventStore(pgClient)
	vaultStore := postgres.NewVaultStore(pgClient)
	deps.EventStore = eventStore

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
	deps.Redis = redisClient

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Vault and services ---
	deps.Vault = vault.New(vaultStore, cfg.Admin.Address, cfg.Vault.Seed, cfg.Vault.KeyPassword)
	deps.Ledger = ledger.NewService(ledgerStore, eventStore, pgClient, deps.SignalBus, deps.Vault, logger)
	deps.Market = market.NewService(
		listingStore, ownershipStore, ledgerStore, eventStore, pgClient,
		deps.Ledger, deps.Vault, deps.LockManager, deps.RateLimiter, deps.SignalBus,
		market.Config{
			PlatformFee:   cfg.Market.PlatformFee,
			LockTTL:       cfg.LockTTL(),
			RatePerMinute: cfg.Market.RateLimitPerMinute,
		},
		logger,
	)

	// --- S3 blob storage (only when archiving is in play) ---
	if needsS3(cfg) {
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

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), eventStore, logger)
	}

	return deps, cleanup, nil
}
