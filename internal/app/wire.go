package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/eden-finance/nigerian-money-market/internal/blob/s3"
	"github.com/eden-finance/nigerian-money-market/internal/bus"
	"github.com/eden-finance/nigerian-money-market/internal/cache/redis"
	"github.com/eden-finance/nigerian-money-market/internal/config"
	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/notify"
	"github.com/eden-finance/nigerian-money-market/internal/store/memory"
	"github.com/eden-finance/nigerian-money-market/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore    domain.PositionStore
	TransactionStore domain.TransactionStore
	MultisigStore    domain.MultisigStore
	MarketStore      domain.MarketStore
	AuditStore       domain.AuditStore

	// Collaborators
	Bank        domain.ValueTransfer
	Tokens      domain.OwnershipToken
	Caps        domain.CapabilityGateway
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	BlobWriter  domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
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

	// --- Storage backend ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TransactionStore = postgres.NewTransactionStore(pool)
		deps.MultisigStore = postgres.NewMultisigStore(pool)
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Bank = postgres.NewBankStore(pool)
		deps.Tokens = postgres.NewTokenStore(pool)
		deps.Caps = postgres.NewCapabilityStore(pool)

	case "memory":
		deps.PositionStore = memory.NewPositionStore()
		deps.TransactionStore = memory.NewTransactionStore()
		deps.MultisigStore = memory.NewMultisigStore()
		deps.MarketStore = memory.NewMarketStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.Bank = memory.NewBank()
		deps.Tokens = memory.NewTokenRegistry()
		deps.Caps = memory.NewCapabilityGateway()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend)
	}

	// --- Signal bus and locks ---
	if cfg.Redis.Enabled {
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

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		deps.SignalBus = bus.NewLocalBus()
	}

	// --- S3 blob storage (for report archival, opt-in via bucket) ---
	if cfg.S3.Bucket != "" {
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
