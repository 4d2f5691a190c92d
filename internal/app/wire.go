package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/AMRITESH240304/AgentMint/internal/asset"
	s3blob "github.com/AMRITESH240304/AgentMint/internal/blob/s3"
	"github.com/AMRITESH240304/AgentMint/internal/cache/local"
	"github.com/AMRITESH240304/AgentMint/internal/cache/redis"
	"github.com/AMRITESH240304/AgentMint/internal/config"
	"github.com/AMRITESH240304/AgentMint/internal/crypto"
	"github.com/AMRITESH240304/AgentMint/internal/domain"
	"github.com/AMRITESH240304/AgentMint/internal/notify"
	"github.com/AMRITESH240304/AgentMint/internal/platform/ledger"
	"github.com/AMRITESH240304/AgentMint/internal/platform/settlement"
	"github.com/AMRITESH240304/AgentMint/internal/server/handler"
	"github.com/AMRITESH240304/AgentMint/internal/store/memory"
	"github.com/AMRITESH240304/AgentMint/internal/store/postgres"
	"github.com/AMRITESH240304/AgentMint/internal/wallet"
)

// Dependencies bundles every collaborator the engine and the API need. It is
// constructed by Wire and torn down by the returned cleanup function. Fields
// documented as optional are nil when their backend is not configured.
type Dependencies struct {
	// Stores
	Settlements    domain.SettlementStore
	Audit          domain.AuditStore
	Authorizations domain.AuthorizationStore

	// Coordination
	Locks   domain.LockManager // optional, needs redis
	Limiter domain.RateLimiter // optional, needs redis
	Bus     domain.SignalBus

	// Remote services
	Ledger    *ledger.Client
	Authority *settlement.Client // optional

	// Asset metadata archive, optional
	Metadata *asset.Publisher

	Notifier *notify.Notifier

	// Signer is the local bidder's wallet. Nil in watch mode.
	Signer *crypto.Signer

	// Checks probe the configured backends for the health endpoint.
	Checks map[string]handler.Check

	Clock clockwork.Clock
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{
		Clock:  clockwork.NewRealClock(),
		Checks: make(map[string]handler.Check),
	}

	// --- Wallet ---
	if cfg.Bidder() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			return fail("wire: wallet signer: %w", err)
		}
		deps.Signer = signer
	}
	verifier := proofVerifier(cfg.Wallet.Verifier)

	// --- PostgreSQL, or in-memory stores ---
	if cfg.Postgres.Enabled {
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
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, func() { _ = pgClient.Close() })

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.Warn("postgres disabled; settlement progress is kept in memory")
		deps.Settlements = memory.NewSettlementStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis, or process-local coordination ---
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
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		locks := redis.NewLockManager(redisClient)
		locks.OnUnlockError(func(key string, err error) {
			logger.Warn("release lock failed", slog.String("key", key), slog.String("error", err.Error()))
		})
		deps.Locks = locks
		deps.Limiter = redis.NewRateLimiter(redisClient, deps.Clock)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Authorizations = redis.NewAuthorizationStore(redisClient, verifier, deps.Clock, logger)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = local.NewSignalBus()
		deps.Authorizations = wallet.NewStore(verifier, deps.Clock, logger)
	}

	// --- Remote services ---
	deps.Ledger = ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout.Duration, deps.Clock)
	if cfg.Settlement.BaseURL != "" {
		deps.Authority = settlement.NewClient(cfg.Settlement.BaseURL, cfg.Settlement.Timeout.Duration, &crypto.HMACAuth{
			Key:    cfg.Settlement.APIKey,
			Secret: cfg.Settlement.APISecret,
		})
	}

	// --- S3 metadata archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Metadata = asset.NewPublisher(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), logger)
		deps.Checks["s3"] = s3Client.Health
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

func proofVerifier(name string) domain.ProofVerifier {
	if name == "format" {
		return wallet.FormatVerifier{}
	}
	return wallet.SignatureVerifier{}
}
