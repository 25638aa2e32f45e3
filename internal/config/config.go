// Package config defines the top-level configuration for the money market
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EDENMM_* environment variables.
type Config struct {
	Storage      StorageConfig      `toml:"storage"`
	Database     DatabaseConfig     `toml:"database"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Custody      CustodyConfig      `toml:"custody"`
	Market       MarketConfig       `toml:"market"`
	Multisig     MultisigConfig     `toml:"multisig"`
	Capabilities CapabilitiesConfig `toml:"capabilities"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	LogLevel     string             `toml:"log_level"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory". The memory backend keeps all
	// state in-process and is meant for local development.
	Backend string `toml:"backend"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional: when
// Enabled is false the service runs with an in-process signal bus and no
// distributed locking.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report
// archival. Archival is skipped when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CustodyConfig pins the deployment identity that feeds transaction
// identifier derivation. Changing either value changes every derived
// identifier, so they must stay stable for the lifetime of a deployment.
type CustodyConfig struct {
	ChainID    int64  `toml:"chain_id"`
	InstanceID string `toml:"instance_id"`
}

// MarketConfig holds the bootstrap market parameters applied when the
// persisted market configuration does not exist yet. Amounts are decimal
// strings in minor units.
type MarketConfig struct {
	LockDuration      duration `toml:"lock_duration"`
	ExpectedRateBps   int64    `toml:"expected_rate_bps"`
	MinInvestment     string   `toml:"min_investment"`
	MaxInvestment     string   `toml:"max_investment"`
	AcceptingDeposits bool     `toml:"accepting_deposits"`
}

// MultisigConfig holds the bootstrap signer set applied when no signer set
// has been configured yet. An empty signer list skips the bootstrap.
type MultisigConfig struct {
	Signers   []string `toml:"signers"`
	Threshold int      `toml:"threshold"`
}

// CapabilitiesConfig seeds role grants at startup. Grants are idempotent, so
// re-listing an address across restarts is harmless.
type CapabilitiesConfig struct {
	Admins        []string `toml:"admins"`
	RiskOperators []string `toml:"risk_operators"`
}

// ServerConfig holds HTTP server parameters. An empty APIKey disables
// request authentication.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "720h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "720h" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "postgres",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "moneymarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Custody: CustodyConfig{
			ChainID:    1,
			InstanceID: "eden-money-market",
		},
		Market: MarketConfig{
			LockDuration:      duration{30 * 24 * time.Hour},
			ExpectedRateBps:   1200,
			MinInvestment:     "1000",
			MaxInvestment:     "100000000",
			AcceptingDeposits: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"custody_executed", "multisig_rotated", "error"},
		},
		LogLevel: "info",
	}
}

// validBackends enumerates the accepted values for Storage.Backend.
var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: postgres, memory)", c.Storage.Backend))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database settings only checked when the postgres backend is selected.
	if strings.ToLower(c.Storage.Backend) == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 archival is opt-in via bucket.
	if c.S3.Bucket != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when bucket is set")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when bucket is set")
		}
	}

	// Custody
	if c.Custody.ChainID <= 0 {
		errs = append(errs, fmt.Sprintf("custody: chain_id must be positive, got %d", c.Custody.ChainID))
	}
	if strings.TrimSpace(c.Custody.InstanceID) == "" {
		errs = append(errs, "custody: instance_id must not be empty")
	}

	// Market bootstrap
	if c.Market.LockDuration.Duration <= 0 {
		errs = append(errs, "market: lock_duration must be positive")
	}
	if c.Market.ExpectedRateBps < 0 || c.Market.ExpectedRateBps > 10000 {
		errs = append(errs, fmt.Sprintf("market: expected_rate_bps must be 0-10000, got %d", c.Market.ExpectedRateBps))
	}
	if _, err := c.MinInvestment(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := c.MaxInvestment(); err != nil {
		errs = append(errs, err.Error())
	}

	// Multisig bootstrap is optional, but when present it must be coherent.
	if len(c.Multisig.Signers) > 0 {
		if c.Multisig.Threshold < 2 || c.Multisig.Threshold > len(c.Multisig.Signers) {
			errs = append(errs, fmt.Sprintf("multisig: threshold must be 2-%d, got %d", len(c.Multisig.Signers), c.Multisig.Threshold))
		}
		for _, raw := range c.Multisig.Signers {
			if !common.IsHexAddress(raw) {
				errs = append(errs, fmt.Sprintf("multisig: invalid signer address %q", raw))
			}
		}
	}
	for _, raw := range c.Capabilities.Admins {
		if !common.IsHexAddress(raw) {
			errs = append(errs, fmt.Sprintf("capabilities: invalid admin address %q", raw))
		}
	}
	for _, raw := range c.Capabilities.RiskOperators {
		if !common.IsHexAddress(raw) {
			errs = append(errs, fmt.Sprintf("capabilities: invalid risk_operator address %q", raw))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MinInvestment parses the bootstrap minimum investment amount.
func (c *Config) MinInvestment() (*big.Int, error) {
	return parseAmount("market: min_investment", c.Market.MinInvestment)
}

// MaxInvestment parses the bootstrap maximum investment amount.
func (c *Config) MaxInvestment() (*big.Int, error) {
	return parseAmount("market: max_investment", c.Market.MaxInvestment)
}

// SignerAddresses parses the bootstrap signer list.
func (c *Config) SignerAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Multisig.Signers))
	for _, raw := range c.Multisig.Signers {
		out = append(out, common.HexToAddress(raw))
	}
	return out
}

func parseAmount(field, raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be a positive decimal string, got %q", field, raw)
	}
	return n, nil
}
