// Package config defines the top-level configuration for the rangebet backend
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RANGEBET_* environment variables.
type Config struct {
	Solana   SolanaConfig   `toml:"solana"`
	Pyth     PythConfig     `toml:"pyth"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Matching MatchingConfig `toml:"matching"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SolanaConfig holds the RPC endpoints, the vault program and the signing
// authority.
type SolanaConfig struct {
	RPCURL                string   `toml:"rpc_url"`
	WSURL                 string   `toml:"ws_url"`
	ProgramID             string   `toml:"program_id"`
	PrivateKey            string   `toml:"private_key"`
	EncryptedKeyPath      string   `toml:"encrypted_key_path"`
	KeyPassword           string   `toml:"key_password"`
	ComputeUnitPrice      uint64   `toml:"compute_unit_price"`
	ComputeUnitLimit      uint32   `toml:"compute_unit_limit"`
	ConfirmTimeout        duration `toml:"confirm_timeout"`
	PythReceiverProgramID string   `toml:"pyth_receiver_program_id"`
	WormholeProgramID     string   `toml:"wormhole_program_id"`
	PythShardID           uint16   `toml:"pyth_shard_id"`
	PythTreasuryID        uint8    `toml:"pyth_treasury_id"`
}

// PythConfig holds the Hermes endpoint and the price feed used for bands.
type PythConfig struct {
	HermesURL      string   `toml:"hermes_url"`
	StreamURL      string   `toml:"stream_url"`
	Stream         bool     `toml:"stream"`
	FeedID         string   `toml:"feed_id"`
	QuoteTTL       duration `toml:"quote_ttl"`
	RequestsPerSec int      `toml:"requests_per_sec"`
	VerifyProofs   bool     `toml:"verify_proofs"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// MatchingConfig controls the matching cycle.
type MatchingConfig struct {
	Interval         duration `toml:"interval"`
	MinTradeLamports int64    `toml:"min_trade_lamports"`
	LockTTL          duration `toml:"lock_ttl"`
}

// MonitorConfig controls the settlement monitor.
type MonitorConfig struct {
	Interval    duration `toml:"interval"`
	Horizon     duration `toml:"horizon"`
	Concurrency int      `toml:"concurrency"`
	LockTTL     duration `toml:"lock_ttl"`
}

// ArchiveConfig controls cold-storage archiving of closed records.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig controls the operations HTTP server exposing /metrics and
// /healthz.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// BTCFeedID is the Pyth BTC/USD feed.
const BTCFeedID = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:                "https://api.devnet.solana.com",
			WSURL:                 "wss://api.devnet.solana.com",
			ComputeUnitPrice:      50_000,
			ComputeUnitLimit:      400_000,
			ConfirmTimeout:        duration{60 * time.Second},
			PythReceiverProgramID: "rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ",
			WormholeProgramID:     "HDwcJBJXjL9FpJ7UBsYBtaDjsBUhuLCUYoz3zr8SWWaQ",
			PythShardID:           0,
			PythTreasuryID:        0,
		},
		Pyth: PythConfig{
			HermesURL:      "https://hermes.pyth.network",
			StreamURL:      "wss://hermes.pyth.network/ws",
			Stream:         true,
			FeedID:         BTCFeedID,
			QuoteTTL:       duration{5 * time.Second},
			RequestsPerSec: 3,
			VerifyProofs:   true,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rangebet-archive",
			ForcePathStyle: true,
		},
		Matching: MatchingConfig{
			Interval:         duration{6 * time.Second},
			MinTradeLamports: 200_000_000,
			LockTTL:          duration{5 * time.Minute},
		},
		Monitor: MonitorConfig{
			Interval:    duration{15 * time.Second},
			Horizon:     duration{24 * time.Hour},
			Concurrency: 8,
			LockTTL:     duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_matched", "position_settled", "error"},
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            ":9090",
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{30 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"match":     true,
	"monitor":   true,
	"full":      true,
	"init-pool": true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsSigner reports whether the mode submits transactions.
func (c *Config) NeedsSigner() bool {
	switch strings.ToLower(c.Mode) {
	case "match", "monitor", "full", "init-pool":
		return true
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: match, monitor, full, init-pool, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.NeedsSigner() {
		if c.Solana.ProgramID == "" {
			errs = append(errs, "solana: program_id must be set for mode "+c.Mode)
		}
		if c.Solana.PrivateKey == "" && c.Solana.EncryptedKeyPath == "" {
			errs = append(errs, "solana: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Solana.EncryptedKeyPath != "" && c.Solana.KeyPassword == "" {
			errs = append(errs, "solana: key_password is required when encrypted_key_path is set")
		}
		if c.Solana.PythReceiverProgramID == "" || c.Solana.WormholeProgramID == "" {
			errs = append(errs, "solana: pyth_receiver_program_id and wormhole_program_id must be set")
		}
	}

	// Pyth
	if c.Pyth.HermesURL == "" {
		errs = append(errs, "pyth: hermes_url must not be empty")
	}
	if len(strings.TrimPrefix(c.Pyth.FeedID, "0x")) != 64 {
		errs = append(errs, fmt.Sprintf("pyth: feed_id must be 32 bytes of hex, got %q", c.Pyth.FeedID))
	}
	if c.Pyth.Stream && c.Pyth.StreamURL == "" {
		errs = append(errs, "pyth: stream_url must not be empty when stream is enabled")
	}
	if c.Pyth.RequestsPerSec < 1 {
		errs = append(errs, "pyth: requests_per_sec must be >= 1")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Matching
	if c.Matching.Interval.Duration <= 0 {
		errs = append(errs, "matching: interval must be > 0")
	}
	if c.Matching.MinTradeLamports < 1 {
		errs = append(errs, "matching: min_trade_lamports must be >= 1")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.Horizon.Duration <= 0 {
		errs = append(errs, "monitor: horizon must be > 0")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
	}

	// Archive
	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
