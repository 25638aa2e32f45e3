package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[storage]
backend = "memory"

[market]
lock_duration = "168h"
expected_rate_bps = 900

[server]
port = 9999
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Market.LockDuration.Duration)
	assert.Equal(t, int64(900), cfg.Market.ExpectedRateBps)
	assert.Equal(t, 9999, cfg.Server.Port)
	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "1000", cfg.Market.MinInvestment)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EDENMM_STORAGE_BACKEND", "memory")
	t.Setenv("EDENMM_SERVER_PORT", "7070")
	t.Setenv("EDENMM_MARKET_LOCK_DURATION", "48h")
	t.Setenv("EDENMM_MULTISIG_SIGNERS", "0x1000000000000000000000000000000000000001,0x1000000000000000000000000000000000000002")
	t.Setenv("EDENMM_MULTISIG_THRESHOLD", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Market.LockDuration.Duration)
	require.Len(t, cfg.Multisig.Signers, 2)
	assert.Equal(t, 2, cfg.Multisig.Threshold)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"zero chain id", func(c *Config) { c.Custody.ChainID = 0 }},
		{"empty instance id", func(c *Config) { c.Custody.InstanceID = "  " }},
		{"negative rate", func(c *Config) { c.Market.ExpectedRateBps = -1 }},
		{"rate above bound", func(c *Config) { c.Market.ExpectedRateBps = 10001 }},
		{"non-numeric min investment", func(c *Config) { c.Market.MinInvestment = "1e3" }},
		{"zero min investment", func(c *Config) { c.Market.MinInvestment = "0" }},
		{"bad signer address", func(c *Config) {
			c.Multisig.Signers = []string{"0x1000000000000000000000000000000000000001", "nope"}
			c.Multisig.Threshold = 2
		}},
		{"threshold above signers", func(c *Config) {
			c.Multisig.Signers = []string{
				"0x1000000000000000000000000000000000000001",
				"0x1000000000000000000000000000000000000002",
			}
			c.Multisig.Threshold = 3
		}},
		{"bad admin address", func(c *Config) { c.Capabilities.Admins = []string{"admin"} }},
		{"server port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"redis enabled without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}},
		{"bucket without region", func(c *Config) {
			c.S3.Bucket = "reports"
			c.S3.Region = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInvestmentBoundsParse(t *testing.T) {
	cfg := Defaults()
	cfg.Market.MinInvestment = "2500"
	cfg.Market.MaxInvestment = "5000000000000000000000"

	minInv, err := cfg.MinInvestment()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2500), minInv)

	maxInv, err := cfg.MaxInvestment()
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("5000000000000000000000", 10)
	assert.Zero(t, maxInv.Cmp(want))
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "hunter2"
	cfg.Database.DSN = "postgres://u:p@h/db"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tgtoken"

	red := RedactedConfig(&cfg)
	assert.NotContains(t, red.Database.Password, "hunter2")
	assert.NotContains(t, red.Database.DSN, "p@h")
	assert.NotContains(t, red.Redis.Password, "redispass")
	assert.NotContains(t, red.S3.SecretKey, "s3secret")
	assert.NotContains(t, red.Server.APIKey, "apikey")
	assert.NotContains(t, red.Notify.TelegramToken, "tgtoken")
	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Database.Password)
}
