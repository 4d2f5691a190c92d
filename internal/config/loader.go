package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AGENTMINT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AGENTMINT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "AGENTMINT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "AGENTMINT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "AGENTMINT_WALLET_KEY_PASSWORD")
	setBool(&cfg.Wallet.AutoAuthorize, "AGENTMINT_WALLET_AUTO_AUTHORIZE")
	setStr(&cfg.Wallet.Verifier, "AGENTMINT_WALLET_VERIFIER")

	// ── Ledger ──
	setStr(&cfg.Ledger.BaseURL, "AGENTMINT_LEDGER_BASE_URL")
	setDuration(&cfg.Ledger.Timeout, "AGENTMINT_LEDGER_TIMEOUT")

	// ── Settlement ──
	setStr(&cfg.Settlement.BaseURL, "AGENTMINT_SETTLEMENT_BASE_URL")
	setStr(&cfg.Settlement.APIKey, "AGENTMINT_SETTLEMENT_API_KEY")
	setStr(&cfg.Settlement.APISecret, "AGENTMINT_SETTLEMENT_API_SECRET")
	setDuration(&cfg.Settlement.Timeout, "AGENTMINT_SETTLEMENT_TIMEOUT")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "AGENTMINT_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.PollInterval, "AGENTMINT_ENGINE_POLL_INTERVAL")
	setInt(&cfg.Engine.DefaultCountdown, "AGENTMINT_ENGINE_DEFAULT_COUNTDOWN")
	setDuration(&cfg.Engine.GraceWindow, "AGENTMINT_ENGINE_GRACE_WINDOW")
	setInt(&cfg.Engine.ExtensionFloor, "AGENTMINT_ENGINE_EXTENSION_FLOOR")
	setInt(&cfg.Engine.StageAttempts, "AGENTMINT_ENGINE_STAGE_ATTEMPTS")
	setDuration(&cfg.Engine.StageBackoff, "AGENTMINT_ENGINE_STAGE_BACKOFF")
	setDuration(&cfg.Engine.LockTTL, "AGENTMINT_ENGINE_LOCK_TTL")
	setBool(&cfg.Engine.AutoSettle, "AGENTMINT_ENGINE_AUTO_SETTLE")

	// ── Auctions ──
	appendAuctions(cfg, "AGENTMINT_AUCTIONS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "AGENTMINT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "AGENTMINT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AGENTMINT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AGENTMINT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AGENTMINT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AGENTMINT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AGENTMINT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AGENTMINT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AGENTMINT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AGENTMINT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AGENTMINT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AGENTMINT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AGENTMINT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AGENTMINT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AGENTMINT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AGENTMINT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AGENTMINT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AGENTMINT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AGENTMINT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AGENTMINT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AGENTMINT_S3_REGION")
	setStr(&cfg.S3.Bucket, "AGENTMINT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AGENTMINT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AGENTMINT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AGENTMINT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AGENTMINT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.PublicBaseURL, "AGENTMINT_S3_PUBLIC_BASE_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AGENTMINT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AGENTMINT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AGENTMINT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AGENTMINT_SERVER_API_KEY")
	setInt(&cfg.Server.WriteLimit, "AGENTMINT_SERVER_WRITE_LIMIT")
	setDuration(&cfg.Server.WriteWindow, "AGENTMINT_SERVER_WRITE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AGENTMINT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AGENTMINT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AGENTMINT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AGENTMINT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AGENTMINT_MODE")
	setStr(&cfg.LogLevel, "AGENTMINT_LOG_LEVEL")
}

// appendAuctions adds comma-separated auction ids that are not configured
// yet. They get an empty asset descriptor.
func appendAuctions(cfg *Config, key string) {
	var ids []string
	setStringSlice(&ids, key)
	for _, id := range ids {
		known := false
		for _, a := range cfg.Auctions {
			if a.ID == id {
				known = true
				break
			}
		}
		if !known {
			cfg.Auctions = append(cfg.Auctions, AuctionConfig{ID: id})
		}
	}
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
