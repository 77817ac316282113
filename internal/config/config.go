package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/hikarum/hashwatch/internal/coins"
)

// Config is the full daemon configuration. It is read once at startup and
// passed by value into each component; nothing reloads it at runtime.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Mining     MiningConfig     `mapstructure:"mining"`
	Power      PowerConfig      `mapstructure:"power"`
	Poll       PollConfig       `mapstructure:"poll"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Status     StatusConfig     `mapstructure:"status"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	API        APIConfig        `mapstructure:"api"`
}

// MiningConfig identifies what is mined and for whom.
type MiningConfig struct {
	Wallet          string  `mapstructure:"wallet"`
	PoolURL         string  `mapstructure:"pool_url"`
	Coin            string  `mapstructure:"coin"`
	Algorithm       string  `mapstructure:"algorithm"`
	Worker          string  `mapstructure:"worker"`
	MinerBinary     string  `mapstructure:"miner_binary"`
	PayoutThreshold float64 `mapstructure:"payout_threshold"`
	PoolFee         float64 `mapstructure:"pool_fee"`
	CoinsFile       string  `mapstructure:"coins_file"`
}

// PowerConfig holds electricity cost inputs.
type PowerConfig struct {
	CostPerKWH float64 `mapstructure:"cost_per_kwh"`
}

// PollConfig controls the tick loop cadences and timeouts.
type PollConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	PoolFetchEvery     int           `mapstructure:"pool_fetch_every"`
	TelemetryTimeout   time.Duration `mapstructure:"telemetry_timeout"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
}

// SupervisorConfig controls the miner process lifecycle.
type SupervisorConfig struct {
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffResetAfter time.Duration `mapstructure:"backoff_reset_after"`
	FailureCeiling    int           `mapstructure:"failure_ceiling"`
	HealthGrace       time.Duration `mapstructure:"health_grace"`
	StopGrace         time.Duration `mapstructure:"stop_grace"`
	ProgressKeywords  []string      `mapstructure:"progress_keywords"`
}

// StatusConfig controls the append-only status record sink.
type StatusConfig struct {
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NotifyConfig holds Telegram notifier credentials. Empty credentials put
// the notifier into log-only mode.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

// MonitoringConfig controls the Prometheus exporter.
type MonitoringConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// APIConfig controls the local read-only status API.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads the configuration file, applies defaults and environment
// overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("HASHWATCH")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Coin overrides apply before validation so an overridden default pool
	// or miner binary is what validation sees.
	if cfg.Mining.CoinsFile != "" {
		if err := coins.LoadOverrides(cfg.Mining.CoinsFile); err != nil {
			return nil, err
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("mining.worker", "worker01")
	v.SetDefault("mining.pool_fee", 0.01)
	v.SetDefault("mining.payout_threshold", 0.005)

	v.SetDefault("power.cost_per_kwh", 0.10)

	v.SetDefault("poll.tick_interval", "30s")
	v.SetDefault("poll.pool_fetch_every", 4)
	v.SetDefault("poll.telemetry_timeout", "5s")
	v.SetDefault("poll.fetch_timeout", "10s")
	v.SetDefault("poll.staleness_threshold", "2m")

	v.SetDefault("supervisor.backoff_initial", "10s")
	v.SetDefault("supervisor.backoff_max", "5m")
	v.SetDefault("supervisor.backoff_reset_after", "10m")
	v.SetDefault("supervisor.failure_ceiling", 5)
	v.SetDefault("supervisor.health_grace", "3m")
	v.SetDefault("supervisor.stop_grace", "10s")
	v.SetDefault("supervisor.progress_keywords", []string{"accepted", "share found", "new job"})

	v.SetDefault("status.file_path", "logs/hashwatch-status.jsonl")
	v.SetDefault("status.max_size_mb", 50)
	v.SetDefault("status.max_backups", 5)
	v.SetDefault("status.max_age_days", 14)
	v.SetDefault("status.compress", true)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.listen_addr", ":9090")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", "127.0.0.1:8077")
}

func validate(cfg *Config) error {
	if cfg.Mining.Wallet == "" {
		return fmt.Errorf("mining.wallet is required")
	}
	if cfg.Mining.Coin == "" {
		return fmt.Errorf("mining.coin is required")
	}

	coin, err := coins.ParseCoin(cfg.Mining.Coin)
	if err != nil {
		return err
	}
	cfg.Mining.Coin = string(coin)

	spec, err := coins.Lookup(coin)
	if err != nil {
		return err
	}

	if cfg.Mining.Algorithm != "" {
		algo, err := coins.ParseAlgorithm(cfg.Mining.Algorithm)
		if err != nil {
			return err
		}
		if algo != spec.Algorithm {
			return fmt.Errorf("algorithm %s does not match coin %s (expected %s)", algo, coin, spec.Algorithm)
		}
	}
	cfg.Mining.Algorithm = string(spec.Algorithm)

	if err := validateWallet(coin, cfg.Mining.Wallet); err != nil {
		return err
	}

	if cfg.Mining.PoolURL == "" {
		cfg.Mining.PoolURL = spec.DefaultPool
	}
	if err := validatePoolURL(cfg.Mining.PoolURL); err != nil {
		return err
	}

	if cfg.Mining.PoolFee < 0 || cfg.Mining.PoolFee >= 1 {
		return fmt.Errorf("mining.pool_fee must be in [0, 1)")
	}
	if cfg.Power.CostPerKWH < 0 {
		return fmt.Errorf("power.cost_per_kwh cannot be negative")
	}
	if cfg.Poll.TickInterval <= 0 {
		return fmt.Errorf("poll.tick_interval must be positive")
	}
	if cfg.Poll.PoolFetchEvery < 1 {
		return fmt.Errorf("poll.pool_fetch_every must be at least 1")
	}
	if cfg.Poll.StalenessThreshold <= 0 {
		return fmt.Errorf("poll.staleness_threshold must be positive")
	}
	if cfg.Supervisor.FailureCeiling < 1 {
		return fmt.Errorf("supervisor.failure_ceiling must be at least 1")
	}
	if cfg.Supervisor.BackoffInitial <= 0 {
		return fmt.Errorf("supervisor.backoff_initial must be positive")
	}
	if cfg.Supervisor.BackoffMax < cfg.Supervisor.BackoffInitial {
		return fmt.Errorf("supervisor.backoff_max must be at least backoff_initial")
	}
	if cfg.Monitoring.Enabled && cfg.Monitoring.ListenAddr == "" {
		return fmt.Errorf("monitoring.listen_addr is required when monitoring is enabled")
	}
	if cfg.API.Enabled && cfg.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required when the API is enabled")
	}

	return nil
}

// validatePoolURL accepts scheme://host:port, with stratum+tcp and friends
// as schemes.
func validatePoolURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid pool URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("pool URL must be scheme://host:port, got %q", raw)
	}
	if u.Port() == "" {
		return fmt.Errorf("pool URL must include a port, got %q", raw)
	}
	return nil
}
