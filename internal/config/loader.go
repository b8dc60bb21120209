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
// built-in defaults, applies RANGEBET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// A missing file is not an error when path is empty, so the service can run
// from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RANGEBET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. The legacy
// variable names (SOLANA_RPC_URL, SOLANA_PRIVATE_KEY) are accepted as aliases.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SOLANA_RPC_URL")
	setStr(&cfg.Solana.RPCURL, "RANGEBET_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WSURL, "RANGEBET_SOLANA_WS_URL")
	setStr(&cfg.Solana.ProgramID, "RANGEBET_SOLANA_PROGRAM_ID")
	setStr(&cfg.Solana.PrivateKey, "SOLANA_PRIVATE_KEY")
	setStr(&cfg.Solana.PrivateKey, "RANGEBET_SOLANA_PRIVATE_KEY")
	setStr(&cfg.Solana.EncryptedKeyPath, "RANGEBET_SOLANA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Solana.KeyPassword, "RANGEBET_SOLANA_KEY_PASSWORD")
	setUint64(&cfg.Solana.ComputeUnitPrice, "RANGEBET_SOLANA_COMPUTE_UNIT_PRICE")
	setDuration(&cfg.Solana.ConfirmTimeout, "RANGEBET_SOLANA_CONFIRM_TIMEOUT")

	// ── Pyth ──
	setStr(&cfg.Pyth.HermesURL, "RANGEBET_PYTH_HERMES_URL")
	setStr(&cfg.Pyth.StreamURL, "RANGEBET_PYTH_STREAM_URL")
	setBool(&cfg.Pyth.Stream, "RANGEBET_PYTH_STREAM")
	setStr(&cfg.Pyth.FeedID, "RANGEBET_PYTH_FEED_ID")
	setDuration(&cfg.Pyth.QuoteTTL, "RANGEBET_PYTH_QUOTE_TTL")
	setInt(&cfg.Pyth.RequestsPerSec, "RANGEBET_PYTH_REQUESTS_PER_SEC")
	setBool(&cfg.Pyth.VerifyProofs, "RANGEBET_PYTH_VERIFY_PROOFS")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "RANGEBET_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SUPABASE_DB_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "RANGEBET_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "RANGEBET_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "RANGEBET_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "RANGEBET_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "RANGEBET_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "RANGEBET_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "RANGEBET_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "RANGEBET_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "RANGEBET_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RANGEBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RANGEBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RANGEBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RANGEBET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RANGEBET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RANGEBET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "RANGEBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RANGEBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "RANGEBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RANGEBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RANGEBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RANGEBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RANGEBET_S3_FORCE_PATH_STYLE")

	// ── Matching ──
	setDuration(&cfg.Matching.Interval, "RANGEBET_MATCHING_INTERVAL")
	setInt64(&cfg.Matching.MinTradeLamports, "RANGEBET_MATCHING_MIN_TRADE_LAMPORTS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "RANGEBET_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.Horizon, "RANGEBET_MONITOR_HORIZON")
	setInt(&cfg.Monitor.Concurrency, "RANGEBET_MONITOR_CONCURRENCY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "RANGEBET_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "RANGEBET_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "RANGEBET_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RANGEBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RANGEBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RANGEBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RANGEBET_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RANGEBET_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "RANGEBET_SERVER_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "RANGEBET_MODE")
	setStr(&cfg.LogLevel, "RANGEBET_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
