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
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallets ──
	walletEnv := func(w *WalletConfig, name string) {
		setStr(&w.Address, "FUNDBOT_WALLET_"+name+"_ADDRESS")
		setStr(&w.MaxSingleTx, "FUNDBOT_WALLET_"+name+"_MAX_SINGLE_TX")
		setStr(&w.DailyLimit, "FUNDBOT_WALLET_"+name+"_DAILY_LIMIT")
		setBool(&w.Active, "FUNDBOT_WALLET_"+name+"_ACTIVE")
		setStr(&w.PrivateKey, "FUNDBOT_WALLET_"+name+"_PRIVATE_KEY")
		setStr(&w.EncryptedKeyPath, "FUNDBOT_WALLET_"+name+"_ENCRYPTED_KEY_PATH")
		setStr(&w.KeyPassword, "FUNDBOT_WALLET_"+name+"_KEY_PASSWORD")
	}
	walletEnv(&cfg.Wallets.Hot, "HOT")
	walletEnv(&cfg.Wallets.Warm, "WARM")
	walletEnv(&cfg.Wallets.Cold, "COLD")

	// ── Fund tiers ──
	tierEnv := func(t *TierConfig, name string) {
		setFloat64(&t.TargetRatio, "FUNDBOT_FUND_"+name+"_TARGET_RATIO")
		setFloat64(&t.MinRatio, "FUNDBOT_FUND_"+name+"_MIN_RATIO")
		setFloat64(&t.MaxRatio, "FUNDBOT_FUND_"+name+"_MAX_RATIO")
		setFloat64(&t.RebalanceThreshold, "FUNDBOT_FUND_"+name+"_REBALANCE_THRESHOLD")
		setStr(&t.Address, "FUNDBOT_FUND_"+name+"_ADDRESS")
		setStr(&t.InitialValue, "FUNDBOT_FUND_"+name+"_INITIAL_VALUE")
	}
	tierEnv(&cfg.Fund.L1, "L1")
	tierEnv(&cfg.Fund.L2, "L2")
	tierEnv(&cfg.Fund.L3, "L3")

	// ── Trigger ──
	setBool(&cfg.Trigger.ThresholdEnabled, "FUNDBOT_TRIGGER_THRESHOLD_ENABLED")
	setFloat64(&cfg.Trigger.DeviationThreshold, "FUNDBOT_TRIGGER_DEVIATION_THRESHOLD")
	setBool(&cfg.Trigger.LiquidityEnabled, "FUNDBOT_TRIGGER_LIQUIDITY_ENABLED")
	setFloat64(&cfg.Trigger.L1MinRatio, "FUNDBOT_TRIGGER_L1_MIN_RATIO")
	setFloat64(&cfg.Trigger.L1CriticalRatio, "FUNDBOT_TRIGGER_L1_CRITICAL_RATIO")
	setDuration(&cfg.Trigger.Interval, "FUNDBOT_TRIGGER_INTERVAL")

	// ── Executor ──
	setBool(&cfg.Executor.SimulationEnabled, "FUNDBOT_EXECUTOR_SIMULATION_ENABLED")
	setFloat64(&cfg.Executor.GasMultiplier, "FUNDBOT_EXECUTOR_GAS_MULTIPLIER")
	setInt(&cfg.Executor.Confirmations, "FUNDBOT_EXECUTOR_CONFIRMATIONS")
	setDuration(&cfg.Executor.ConfirmTimeout, "FUNDBOT_EXECUTOR_CONFIRM_TIMEOUT")
	setInt(&cfg.Executor.ParallelSteps, "FUNDBOT_EXECUTOR_PARALLEL_STEPS")
	setDuration(&cfg.Executor.PollInterval, "FUNDBOT_EXECUTOR_POLL_INTERVAL")
	setInt(&cfg.Executor.Retry.MaxRetries, "FUNDBOT_EXECUTOR_RETRY_MAX_RETRIES")
	setDuration(&cfg.Executor.Retry.BaseDelay, "FUNDBOT_EXECUTOR_RETRY_BASE_DELAY")
	setBool(&cfg.Executor.Retry.ExponentialBackoff, "FUNDBOT_EXECUTOR_RETRY_EXPONENTIAL_BACKOFF")
	setDuration(&cfg.Executor.Retry.MaxDelay, "FUNDBOT_EXECUTOR_RETRY_MAX_DELAY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUNDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Storage, "FUNDBOT_STORAGE")
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
