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
// built-in defaults, applies EDENMM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known EDENMM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "EDENMM_STORAGE_BACKEND")

	// ── Database ──
	setStr(&cfg.Database.DSN, "EDENMM_DATABASE_DSN")
	setStr(&cfg.Database.Host, "EDENMM_DATABASE_HOST")
	setInt(&cfg.Database.Port, "EDENMM_DATABASE_PORT")
	setStr(&cfg.Database.Database, "EDENMM_DATABASE_NAME")
	setStr(&cfg.Database.User, "EDENMM_DATABASE_USER")
	setStr(&cfg.Database.Password, "EDENMM_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "EDENMM_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "EDENMM_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "EDENMM_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "EDENMM_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "EDENMM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "EDENMM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EDENMM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EDENMM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EDENMM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EDENMM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EDENMM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EDENMM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EDENMM_S3_REGION")
	setStr(&cfg.S3.Bucket, "EDENMM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EDENMM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EDENMM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EDENMM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EDENMM_S3_FORCE_PATH_STYLE")

	// ── Custody ──
	setInt64(&cfg.Custody.ChainID, "EDENMM_CUSTODY_CHAIN_ID")
	setStr(&cfg.Custody.InstanceID, "EDENMM_CUSTODY_INSTANCE_ID")

	// ── Market bootstrap ──
	setDuration(&cfg.Market.LockDuration, "EDENMM_MARKET_LOCK_DURATION")
	setInt64(&cfg.Market.ExpectedRateBps, "EDENMM_MARKET_EXPECTED_RATE_BPS")
	setStr(&cfg.Market.MinInvestment, "EDENMM_MARKET_MIN_INVESTMENT")
	setStr(&cfg.Market.MaxInvestment, "EDENMM_MARKET_MAX_INVESTMENT")
	setBool(&cfg.Market.AcceptingDeposits, "EDENMM_MARKET_ACCEPTING_DEPOSITS")

	// ── Multisig bootstrap ──
	setStringSlice(&cfg.Multisig.Signers, "EDENMM_MULTISIG_SIGNERS")
	setInt(&cfg.Multisig.Threshold, "EDENMM_MULTISIG_THRESHOLD")

	// ── Capabilities ──
	setStringSlice(&cfg.Capabilities.Admins, "EDENMM_CAPABILITIES_ADMINS")
	setStringSlice(&cfg.Capabilities.RiskOperators, "EDENMM_CAPABILITIES_RISK_OPERATORS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EDENMM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EDENMM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "EDENMM_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "EDENMM_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EDENMM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EDENMM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EDENMM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EDENMM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "EDENMM_LOG_LEVEL")
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
