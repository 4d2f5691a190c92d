// Package config defines the top-level configuration for the auction engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AGENTMINT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Settlement SettlementConfig `toml:"settlement"`
	Engine     EngineConfig     `toml:"engine"`
	Auctions   []AuctionConfig  `toml:"auctions"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the local bidder's key. The key's address is the bidder
// identity.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// AutoAuthorize signs and records the local wallet authorization at
	// startup.
	AutoAuthorize bool `toml:"auto_authorize"`
	// Verifier is "signature" (personal-sign ecrecover) or "format".
	Verifier string `toml:"verifier"`
}

// LedgerConfig points at the remote auction ledger.
type LedgerConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// SettlementConfig points at the settlement authority. An empty BaseURL
// disables settlement.
type SettlementConfig struct {
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	Timeout   duration `toml:"timeout"`
}

// EngineConfig tunes the per-auction sessions and the settlement pipeline.
type EngineConfig struct {
	TickInterval     duration `toml:"tick_interval"`
	PollInterval     duration `toml:"poll_interval"`
	DefaultCountdown int      `toml:"default_countdown"` // seconds
	GraceWindow      duration `toml:"grace_window"`
	ExtensionFloor   int      `toml:"extension_floor"` // seconds; 0 disables
	StageAttempts    int      `toml:"stage_attempts"`
	StageBackoff     duration `toml:"stage_backoff"`
	LockTTL          duration `toml:"lock_ttl"`
	AutoSettle       bool     `toml:"auto_settle"`
}

// AuctionConfig is one followed auction.
type AuctionConfig struct {
	ID    string                 `toml:"id"`
	Asset domain.AssetDescriptor `toml:"asset"`
	Terms *TermsConfig           `toml:"terms"`
}

// TermsConfig overrides the default license terms. Fees are decimal strings.
type TermsConfig struct {
	CommercialUse         bool            `toml:"commercial_use"`
	DerivativesAllowed    bool            `toml:"derivatives_allowed"`
	DerivativesReciprocal bool            `toml:"derivatives_reciprocal"`
	CommercialRevShare    uint32          `toml:"commercial_rev_share"`
	DerivativeRevShare    uint32          `toml:"derivative_rev_share"`
	DefaultMintingFee     decimal.Decimal `toml:"default_minting_fee"`
	CommercializerFee     decimal.Decimal `toml:"commercializer_fee"`
	Currency              string          `toml:"currency"`
	Receiver              string          `toml:"receiver"`
}

// LicenseTerms converts t. Currency defaults to the native coin; an empty
// receiver is filled with the winner at settlement time.
func (t *TermsConfig) LicenseTerms() *domain.LicenseTerms {
	if t == nil {
		return nil
	}
	currency := t.Currency
	if currency == "" {
		currency = domain.ZeroAddress
	}
	return &domain.LicenseTerms{
		CommercialUse:         t.CommercialUse,
		DerivativesAllowed:    t.DerivativesAllowed,
		DerivativesReciprocal: t.DerivativesReciprocal,
		CommercialRevShare:    t.CommercialRevShare,
		DerivativeRevShare:    t.DerivativeRevShare,
		DefaultMintingFee:     t.DefaultMintingFee,
		CommercializerFee:     t.CommercializerFee,
		Currency:              currency,
		Receiver:              t.Receiver,
	}
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled,
// settlement records and the audit log live in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters. When disabled, locks,
// wallet authorizations and the read-model bus are process-local.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the asset
// metadata archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PublicBaseURL  string `toml:"public_base_url"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "500ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	WriteLimit  int      `toml:"write_limit"` // POSTs per client per write_window; needs redis
	WriteWindow duration `toml:"write_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			Verifier: "signature",
		},
		Ledger: LedgerConfig{
			BaseURL: "http://localhost:8080",
			Timeout: duration{10 * time.Second},
		},
		Settlement: SettlementConfig{
			Timeout: duration{30 * time.Second},
		},
		Engine: EngineConfig{
			TickInterval:     duration{time.Second},
			PollInterval:     duration{5 * time.Second},
			DefaultCountdown: 30,
			GraceWindow:      duration{10 * time.Second},
			ExtensionFloor:   0,
			StageAttempts:    3,
			StageBackoff:     duration{500 * time.Millisecond},
			LockTTL:          duration{2 * time.Minute},
			AutoSettle:       true,
		},
		Postgres: PostgresConfig{
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
			Bucket:         "agentmint-metadata",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			WriteLimit:  30,
			WriteWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				domain.EventAuctionWon,
				domain.EventAuthorizationRequired,
				domain.EventSettlementFailed,
				domain.EventSettlementComplete,
			},
		},
		Mode:     "bidder",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "watch" follows
// auctions without a local identity.
var validModes = map[string]bool{
	"bidder": true,
	"watch":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	domain.EventAuctionWon:            true,
	domain.EventAuthorizationRequired: true,
	domain.EventSettlementFailed:      true,
	domain.EventSettlementComplete:    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: bidder, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Bidder() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode bidder")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if v := c.Wallet.Verifier; v != "signature" && v != "format" {
		errs = append(errs, fmt.Sprintf("wallet: verifier must be signature or format, got %q", v))
	}

	// Ledger
	if c.Ledger.BaseURL == "" {
		errs = append(errs, "ledger: base_url must not be empty")
	}
	if c.Ledger.Timeout.Duration <= 0 {
		errs = append(errs, "ledger: timeout must be > 0")
	}

	// Settlement
	if (c.Settlement.APIKey == "") != (c.Settlement.APISecret == "") {
		errs = append(errs, "settlement: api_key and api_secret must be set together")
	}
	if c.Settlement.BaseURL != "" && c.Settlement.Timeout.Duration <= 0 {
		errs = append(errs, "settlement: timeout must be > 0")
	}

	// Engine
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.DefaultCountdown <= 0 {
		errs = append(errs, "engine: default_countdown must be > 0")
	}
	if c.Engine.GraceWindow.Duration < 0 {
		errs = append(errs, "engine: grace_window must be >= 0")
	}
	if c.Engine.ExtensionFloor < 0 {
		errs = append(errs, "engine: extension_floor must be >= 0")
	}
	if c.Engine.StageAttempts < 1 {
		errs = append(errs, "engine: stage_attempts must be >= 1")
	}
	if c.Engine.StageBackoff.Duration < 0 {
		errs = append(errs, "engine: stage_backoff must be >= 0")
	}

	// Auctions
	if len(c.Auctions) == 0 {
		errs = append(errs, "auctions: at least one auction must be configured")
	}
	seen := make(map[string]bool, len(c.Auctions))
	for i, a := range c.Auctions {
		switch {
		case strings.TrimSpace(a.ID) == "":
			errs = append(errs, fmt.Sprintf("auctions[%d]: id must not be empty", i))
		case seen[a.ID]:
			errs = append(errs, fmt.Sprintf("auctions[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
		if a.Terms != nil && (a.Terms.CommercialRevShare > 100 || a.Terms.DerivativeRevShare > 100) {
			errs = append(errs, fmt.Sprintf("auctions[%d]: revenue shares are percentages (0-100)", i))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.WriteLimit > 0 && c.Server.WriteWindow.Duration <= 0 {
			errs = append(errs, "server: write_window must be > 0 when write_limit is set")
		}
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Bidder reports whether the process bids and settles for a local identity.
func (c *Config) Bidder() bool { return strings.EqualFold(c.Mode, "bidder") }
