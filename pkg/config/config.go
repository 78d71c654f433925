package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Chain       ChainConfig      `mapstructure:"chain"`
	Ledger      LedgerConfig     `mapstructure:"ledger"`
	P2P         P2PConfig        `mapstructure:"p2p"`
	Sync        SyncConfig       `mapstructure:"sync"`
	Scoring     ScoringConfig    `mapstructure:"scoring"`
	Prediction  PredictionConfig `mapstructure:"prediction"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChainConfig holds settings for the authoritative chain-indexing
// service.
type ChainConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LedgerConfig holds the ledger gateway settings and the node's subnet
// membership.
type LedgerConfig struct {
	URL      string        `mapstructure:"url"`
	SubnetID int           `mapstructure:"subnet_id"`
	KeyFile  string        `mapstructure:"key_file"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// P2PConfig holds transport related configuration
type P2PConfig struct {
	Port        int           `mapstructure:"port"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// SyncConfig drives the miner's incremental ingestion.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	SafetyMargin time.Duration `mapstructure:"safety_margin"`
	EpochStart   int64         `mapstructure:"epoch_start"`
}

// ScoringConfig carries the incentive-mechanism policy knobs. These
// encode tuning, not structural invariants, so they stay configurable.
type ScoringConfig struct {
	HealthWeight      float64       `mapstructure:"health_weight"`
	PoolEventWeight   float64       `mapstructure:"pool_event_weight"`
	SignalWeight      float64       `mapstructure:"signal_weight"`
	MaxAllowedWeights int           `mapstructure:"max_allowed_weights"`
	WeightTotal       int           `mapstructure:"weight_total"`
	SpotCheckTrials   int           `mapstructure:"spot_check_trials"`
	IterationInterval time.Duration `mapstructure:"iteration_interval"`
	RoundTimeout      time.Duration `mapstructure:"round_timeout"`
}

// PredictionConfig holds the price-prediction service settings.
// ReferenceToken is the quote token every predicted price is
// denominated in.
type PredictionConfig struct {
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ReferenceToken string        `mapstructure:"reference_token"`
}

// protocolEpoch is the first timestamp any pool can exist at
// (2021-05-04 00:00:00 UTC).
const protocolEpoch int64 = 1620086400

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	v.SetEnvPrefix("DEXNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("chain.timeout", "30s")

	v.SetDefault("ledger.subnet_id", 30)
	v.SetDefault("ledger.timeout", "30s")

	v.SetDefault("p2p.port", 9900)
	v.SetDefault("p2p.call_timeout", "60s")
	v.SetDefault("p2p.max_workers", 8)
	v.SetDefault("p2p.token_ttl", "2m")

	v.SetDefault("sync.interval", "10m")
	v.SetDefault("sync.safety_margin", "12s")
	v.SetDefault("sync.epoch_start", protocolEpoch)

	v.SetDefault("scoring.health_weight", 0.3)
	v.SetDefault("scoring.pool_event_weight", 0.3)
	v.SetDefault("scoring.signal_weight", 0.4)
	v.SetDefault("scoring.max_allowed_weights", 420)
	v.SetDefault("scoring.weight_total", 1000)
	v.SetDefault("scoring.spot_check_trials", 10)
	v.SetDefault("scoring.iteration_interval", "15m")
	v.SetDefault("scoring.round_timeout", "5m")

	v.SetDefault("prediction.timeout", "60s")
	v.SetDefault("prediction.reference_token", "0xdAC17F958D2ee523a2206206994597C13D831ec7")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateP2P(); err != nil {
		return fmt.Errorf("p2p config: %w", err)
	}
	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}
	if err := c.validateScoring(); err != nil {
		return fmt.Errorf("scoring config: %w", err)
	}
	return nil
}

func (c *Config) validateP2P() error {
	if c.P2P.Port <= 0 || c.P2P.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.P2P.Port)
	}
	if c.P2P.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if c.P2P.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Sync.SafetyMargin < 0 {
		return fmt.Errorf("safety_margin cannot be negative")
	}
	if c.Sync.EpochStart <= 0 {
		return fmt.Errorf("epoch_start must be positive")
	}
	return nil
}

func (c *Config) validateScoring() error {
	sum := c.Scoring.HealthWeight + c.Scoring.PoolEventWeight + c.Scoring.SignalWeight
	if sum <= 0.999 || sum >= 1.001 {
		return fmt.Errorf("round weights must sum to 1, got %f", sum)
	}
	if c.Scoring.MaxAllowedWeights <= 0 {
		return fmt.Errorf("max_allowed_weights must be positive")
	}
	if c.Scoring.WeightTotal <= 0 {
		return fmt.Errorf("weight_total must be positive")
	}
	if c.Scoring.SpotCheckTrials <= 0 {
		return fmt.Errorf("spot_check_trials must be positive")
	}
	if c.Scoring.IterationInterval <= 0 {
		return fmt.Errorf("iteration_interval must be positive")
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
