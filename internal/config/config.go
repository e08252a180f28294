// Package config defines the top-level configuration for the fund
// rebalancing service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDBOT_* environment variables.
type Config struct {
	Fund     FundConfig     `toml:"fund"`
	Wallets  WalletsConfig  `toml:"wallets"`
	Trigger  TriggerConfig  `toml:"trigger"`
	Executor ExecutorConfig `toml:"executor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Storage  string         `toml:"storage"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// TierConfig holds allocation targets and guard rails for one liquidity
// tier. Ratios are fractions in [0, 1].
type TierConfig struct {
	TargetRatio        float64 `toml:"target_ratio"`
	MinRatio           float64 `toml:"min_ratio"`
	MaxRatio           float64 `toml:"max_ratio"`
	RebalanceThreshold float64 `toml:"rebalance_threshold"`
	// Address is the tier's custody account, the destination of transfers
	// into the tier.
	Address string `toml:"address"`
	// InitialValue seeds the static valuation source when no external feed
	// is configured. Decimal string, defaults to "0".
	InitialValue string `toml:"initial_value"`
}

// FundConfig holds the per-tier allocation policy.
type FundConfig struct {
	L1 TierConfig `toml:"l1"`
	L2 TierConfig `toml:"l2"`
	L3 TierConfig `toml:"l3"`
}

// WalletConfig holds one funding wallet's address, limits, and key source.
type WalletConfig struct {
	Address     string `toml:"address"`
	MaxSingleTx string `toml:"max_single_tx"`
	DailyLimit  string `toml:"daily_limit"`
	Active      bool   `toml:"active"`

	// Key resolution, either inline or from an encrypted key file.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// WalletsConfig holds the three funding wallets in escalation order.
type WalletsConfig struct {
	Hot  WalletConfig `toml:"hot"`
	Warm WalletConfig `toml:"warm"`
	Cold WalletConfig `toml:"cold"`
}

// TriggerConfig holds the trigger conditions and the evaluation cadence.
type TriggerConfig struct {
	ThresholdEnabled   bool     `toml:"threshold_enabled"`
	DeviationThreshold float64  `toml:"deviation_threshold"`
	LiquidityEnabled   bool     `toml:"liquidity_enabled"`
	L1MinRatio         float64  `toml:"l1_min_ratio"`
	L1CriticalRatio    float64  `toml:"l1_critical_ratio"`
	Interval           duration `toml:"interval"`
}

// RetryConfig holds the step retry policy.
type RetryConfig struct {
	MaxRetries         int      `toml:"max_retries"`
	BaseDelay          duration `toml:"base_delay"`
	ExponentialBackoff bool     `toml:"exponential_backoff"`
	MaxDelay           duration `toml:"max_delay"`
}

// ExecutorConfig holds execution engine parameters.
type ExecutorConfig struct {
	SimulationEnabled bool     `toml:"simulation_enabled"`
	GasMultiplier     float64  `toml:"gas_multiplier"`
	Confirmations     int      `toml:"confirmations"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	// ParallelSteps > 1 dispatches that many plan steps concurrently.
	ParallelSteps int `toml:"parallel_steps"`
	// PollInterval is how often execute mode looks for approved plans.
	PollInterval duration    `toml:"poll_interval"`
	Retry        RetryConfig `toml:"retry"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. When Enabled is false the
// service falls back to in-process locking and usage tracking.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Fund: FundConfig{
			L1: TierConfig{TargetRatio: 0.10, MinRatio: 0.05, MaxRatio: 0.20, RebalanceThreshold: 0.02, InitialValue: "0"},
			L2: TierConfig{TargetRatio: 0.30, MinRatio: 0.20, MaxRatio: 0.40, RebalanceThreshold: 0.03, InitialValue: "0"},
			L3: TierConfig{TargetRatio: 0.60, MinRatio: 0.40, MaxRatio: 0.70, RebalanceThreshold: 0.03, InitialValue: "0"},
		},
		Wallets: WalletsConfig{
			Hot:  WalletConfig{MaxSingleTx: "10000", DailyLimit: "100000", Active: true},
			Warm: WalletConfig{MaxSingleTx: "100000", DailyLimit: "1000000", Active: true},
			Cold: WalletConfig{MaxSingleTx: "1000000", DailyLimit: "10000000", Active: true},
		},
		Trigger: TriggerConfig{
			ThresholdEnabled:   true,
			DeviationThreshold: 0.02,
			LiquidityEnabled:   true,
			L1MinRatio:         0.05,
			L1CriticalRatio:    0.03,
			Interval:           duration{5 * time.Minute},
		},
		Executor: ExecutorConfig{
			SimulationEnabled: true,
			GasMultiplier:     1.2,
			Confirmations:     2,
			ConfirmTimeout:    duration{2 * time.Minute},
			ParallelSteps:     1,
			PollInterval:      duration{30 * time.Second},
			Retry: RetryConfig{
				MaxRetries:         3,
				BaseDelay:          duration{time.Second},
				ExponentialBackoff: true,
				MaxDelay:           duration{30 * time.Second},
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundbot",
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
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundbot-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"trigger.fired", "plan.generated", "execution.finished", "liquidity.critical"},
		},
		Storage:  "memory",
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"execute": true,
	"auto":    true,
}

// validStorage enumerates the accepted values for Config.Storage.
var validStorage = map[string]bool{
	"memory":   true,
	"postgres": true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, execute, auto)", c.Mode))
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, postgres)", c.Storage))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Fund tiers
	tiers := map[string]TierConfig{"l1": c.Fund.L1, "l2": c.Fund.L2, "l3": c.Fund.L3}
	targetSum := 0.0
	for name, t := range tiers {
		if t.TargetRatio < 0 || t.TargetRatio > 1 {
			errs = append(errs, fmt.Sprintf("fund.%s: target_ratio must be in [0, 1], got %g", name, t.TargetRatio))
		}
		if t.MinRatio > t.MaxRatio {
			errs = append(errs, fmt.Sprintf("fund.%s: min_ratio %g exceeds max_ratio %g", name, t.MinRatio, t.MaxRatio))
		}
		if t.TargetRatio < t.MinRatio || t.TargetRatio > t.MaxRatio {
			errs = append(errs, fmt.Sprintf("fund.%s: target_ratio %g outside [min_ratio, max_ratio]", name, t.TargetRatio))
		}
		if t.RebalanceThreshold <= 0 {
			errs = append(errs, fmt.Sprintf("fund.%s: rebalance_threshold must be > 0", name))
		}
		if t.InitialValue != "" {
			if _, err := decimal.NewFromString(t.InitialValue); err != nil {
				errs = append(errs, fmt.Sprintf("fund.%s: initial_value %q is not a valid decimal", name, t.InitialValue))
			}
		}
		targetSum += t.TargetRatio
	}
	if targetSum < 0.99 || targetSum > 1.01 {
		errs = append(errs, fmt.Sprintf("fund: tier target ratios sum to %g, want 1.0", targetSum))
	}

	// Wallets, needed whenever the executor can run.
	needsWallets := c.Mode == "execute" || c.Mode == "auto"
	if needsWallets {
		wallets := map[string]WalletConfig{"hot": c.Wallets.Hot, "warm": c.Wallets.Warm, "cold": c.Wallets.Cold}
		for name, w := range wallets {
			if !w.Active {
				continue
			}
			if w.Address == "" {
				errs = append(errs, fmt.Sprintf("wallets.%s: address must be set for mode %s", name, c.Mode))
			}
			if w.EncryptedKeyPath != "" && w.KeyPassword == "" {
				errs = append(errs, fmt.Sprintf("wallets.%s: key_password is required when encrypted_key_path is set", name))
			}
		}
	}

	// Trigger
	if c.Trigger.ThresholdEnabled && c.Trigger.DeviationThreshold <= 0 {
		errs = append(errs, "trigger: deviation_threshold must be > 0 when threshold trigger is enabled")
	}
	if c.Trigger.LiquidityEnabled {
		if c.Trigger.L1MinRatio <= 0 {
			errs = append(errs, "trigger: l1_min_ratio must be > 0 when liquidity trigger is enabled")
		}
		if c.Trigger.L1CriticalRatio > c.Trigger.L1MinRatio {
			errs = append(errs, "trigger: l1_critical_ratio must not exceed l1_min_ratio")
		}
	}
	if c.Trigger.Interval.Duration <= 0 {
		errs = append(errs, "trigger: interval must be > 0")
	}

	// Executor
	if c.Executor.GasMultiplier < 1 {
		errs = append(errs, "executor: gas_multiplier must be >= 1")
	}
	if c.Executor.Confirmations < 1 {
		errs = append(errs, "executor: confirmations must be >= 1")
	}
	if c.Executor.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "executor: confirm_timeout must be > 0")
	}
	if c.Executor.Retry.MaxRetries < 0 {
		errs = append(errs, "executor: retry.max_retries must be >= 0")
	}

	// Postgres, only when selected as the storage backend.
	if strings.ToLower(c.Storage) == "postgres" {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
