package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMRITESH240304/AgentMint/internal/domain"
)

const sampleTOML = `
mode = "bidder"
log_level = "debug"

[wallet]
private_key = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
auto_authorize = true

[ledger]
base_url = "https://ledger.agentmint.test"
timeout = "3s"

[engine]
poll_interval = "2s"
grace_window = "1500ms"
extension_floor = 10

[[auctions]]
id = "nft-1"

[auctions.asset]
agent_id = "agent-7"
name = "Trader Bot"

[auctions.terms]
commercial_use = true
commercial_rev_share = 10
default_minting_fee = "0.01"

[[auctions]]
id = "nft-2"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Bidder())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.GraceWindow.Duration)
	assert.Equal(t, 10, cfg.Engine.ExtensionFloor)
	// Untouched defaults survive.
	assert.Equal(t, time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 3, cfg.Engine.StageAttempts)

	require.Len(t, cfg.Auctions, 2)
	assert.Equal(t, "agent-7", cfg.Auctions[0].Asset.AgentID)
	terms := cfg.Auctions[0].Terms.LicenseTerms()
	require.NotNil(t, terms)
	assert.EqualValues(t, 10, terms.CommercialRevShare)
	assert.True(t, terms.DefaultMintingFee.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, domain.ZeroAddress, terms.Currency)
	assert.Nil(t, cfg.Auctions[1].Terms.LicenseTerms())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "mode = \"watch\"\n[ledger]\nbase_uri = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger.base_uri")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTMINT_MODE", "watch")
	t.Setenv("AGENTMINT_LEDGER_BASE_URL", "https://env.example")
	t.Setenv("AGENTMINT_ENGINE_POLL_INTERVAL", "7s")
	t.Setenv("AGENTMINT_AUCTIONS", "nft-2, nft-3")
	t.Setenv("AGENTMINT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.False(t, cfg.Bidder())
	assert.Equal(t, "https://env.example", cfg.Ledger.BaseURL)
	assert.Equal(t, 7*time.Second, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	ids := make([]string, 0, len(cfg.Auctions))
	for _, a := range cfg.Auctions {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"nft-1", "nft-2", "nft-3"}, ids)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Wallet.PrivateKey = "0xabc"
		c.Auctions = []AuctionConfig{{ID: "nft-1"}}
		return c
	}
	require.NoError(t, func() error { c := valid(); return c.Validate() }())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bidder without key", func(c *Config) { c.Wallet.PrivateKey = "" }, "private_key or encrypted_key_path"},
		{"no auctions", func(c *Config) { c.Auctions = nil }, "at least one auction"},
		{"duplicate auction", func(c *Config) { c.Auctions = append(c.Auctions, AuctionConfig{ID: "nft-1"}) }, "duplicate id"},
		{"hmac half set", func(c *Config) { c.Settlement.APIKey = "k" }, "api_key and api_secret"},
		{"poll interval", func(c *Config) { c.Engine.PollInterval = duration{} }, "poll_interval"},
		{"stage attempts", func(c *Config) { c.Engine.StageAttempts = 0 }, "stage_attempts"},
		{"negative floor", func(c *Config) { c.Engine.ExtensionFloor = -1 }, "extension_floor"},
		{"notify event", func(c *Config) { c.Notify.Events = []string{"order_filled"} }, "unknown event"},
		{"postgres pool", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.PoolMaxConns = 0 }, "pool_max_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	// Watch mode needs no wallet.
	c := valid()
	c.Mode = "watch"
	c.Wallet.PrivateKey = ""
	assert.NoError(t, c.Validate())
}

func TestRedactedConfig(t *testing.T) {
	c := Defaults()
	c.Wallet.PrivateKey = "0xsecret"
	c.Settlement.APISecret = "s"
	c.Server.APIKey = "api"
	c.Auctions = []AuctionConfig{{ID: "nft-1"}}

	r := RedactedConfig(&c)
	assert.Equal(t, redacted, r.Wallet.PrivateKey)
	assert.Equal(t, redacted, r.Settlement.APISecret)
	assert.Equal(t, redacted, r.Server.APIKey)
	assert.Empty(t, r.Redis.Password, "empty secrets stay empty")

	r.Auctions[0].ID = "changed"
	assert.Equal(t, "nft-1", c.Auctions[0].ID)
	assert.Equal(t, "0xsecret", c.Wallet.PrivateKey)
}
