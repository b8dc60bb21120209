package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/rangebet/internal/blob/s3"
	"github.com/alanyoungcy/rangebet/internal/cache/redis"
	solanachain "github.com/alanyoungcy/rangebet/internal/chain/solana"
	"github.com/alanyoungcy/rangebet/internal/config"
	"github.com/alanyoungcy/rangebet/internal/crypto"
	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
	"github.com/alanyoungcy/rangebet/internal/metrics"
	"github.com/alanyoungcy/rangebet/internal/notify"
	"github.com/alanyoungcy/rangebet/internal/oracle/pyth"
	"github.com/alanyoungcy/rangebet/internal/server/handler"
	"github.com/alanyoungcy/rangebet/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is built by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OrderStore    domain.OrderStore
	UserStore     domain.UserStore
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	AuditStore    domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Oracle
	Oracle domain.Oracle
	Quotes domain.QuoteSource

	// Chain; nil for modes that never sign.
	Vault *solanachain.Vault

	// Cold storage; nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Emitter  *events.Emitter
	Metrics  *metrics.Metrics

	// Checks are the readiness probes served on /readyz.
	Checks map[string]handler.Check
}

// needsS3 reports whether the mode archives to object storage.
func needsS3(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Mode)
	return mode == "archive" || (mode == "full" && cfg.Archive.Enabled)
}

// Wire constructs the concrete implementations from cfg. The cleanup
// function releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, cfg.Supabase)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.UserStore = postgres.NewUserStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	// --- Redis ---
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Pyth.QuoteTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Pyth.RequestsPerSec, time.Second)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	// --- Pyth ---
	hermes, err := pyth.NewClient(cfg.Pyth, deps.RateLimiter, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: pyth: %w", err)
	}
	deps.Oracle = hermes
	deps.Quotes = pyth.NewCached(hermes, deps.PriceCache, cfg.Pyth.FeedID, cfg.Pyth.QuoteTTL.Duration, logger)

	// --- Notifications and events ---
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

	var notifier domain.Notifier
	if deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	deps.Emitter = events.NewEmitter(deps.EventBus, deps.AuditStore, notifier, logger)

	// --- Solana ---
	if cfg.NeedsSigner() {
		signer, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Solana.PrivateKey,
			EncryptedKeyPath: cfg.Solana.EncryptedKeyPath,
			KeyPassword:      cfg.Solana.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		vault, err := solanachain.NewVault(cfg.Solana, signer, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: vault: %w", err)
		}
		deps.Vault = vault
		deps.Checks["solana"] = vault.Health
		logger.InfoContext(ctx, "vault ready",
			slog.String("program_id", cfg.Solana.ProgramID),
			slog.String("authority", vault.Authority().String()),
		)
	}

	// --- S3 ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewStore(s3Client),
			deps.TradeStore,
			deps.PositionStore,
			deps.Emitter,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}
