package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/glaubernbd/internal/glauber"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. GLAUBER_NBD_MODEL_MU.
const EnvPrefix = "GLAUBER_NBD"

// Config represents the complete application configuration
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Fit        FitConfig        `mapstructure:"fit"`
	Input      InputConfig      `mapstructure:"input"`
	Centrality CentralityConfig `mapstructure:"centrality"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ModelConfig holds the ancestor mode and the initial fit parameters
type ModelConfig struct {
	AncestorMode string  `mapstructure:"ancestor_mode"`
	Mu           float64 `mapstructure:"mu"`
	K            float64 `mapstructure:"k"`
	F            float64 `mapstructure:"f"`
	Norm         float64 `mapstructure:"norm"`
	DMu          float64 `mapstructure:"dmu"`
	UseDMu       bool    `mapstructure:"use_dmu"`
}

// FitConfig holds the fit range and optimizer settings
type FitConfig struct {
	RangeLo       float64 `mapstructure:"range_lo"`
	RangeHi       float64 `mapstructure:"range_hi"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance"`
}

// InputConfig holds the input locations and fetch behavior
type InputConfig struct {
	CorrelationPath  string        `mapstructure:"correlation_path"`
	MultiplicityPath string        `mapstructure:"multiplicity_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxPairs         int           `mapstructure:"max_pairs"`
}

// CentralityConfig holds centrality mapping configuration
type CentralityConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	RangeLo        float64 `mapstructure:"range_lo"`
	RangeHi        float64 `mapstructure:"range_hi"`
	UsePercentiles bool    `mapstructure:"use_percentiles"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// Nested keys map to GLAUBER_NBD_SECTION_KEY
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	p := glauber.DefaultParams()

	// Model defaults
	v.SetDefault("model.ancestor_mode", glauber.Continuous.String())
	v.SetDefault("model.mu", p.Mu)
	v.SetDefault("model.k", p.K)
	v.SetDefault("model.f", p.F)
	v.SetDefault("model.norm", p.Norm)
	v.SetDefault("model.dmu", p.DMu)
	v.SetDefault("model.use_dmu", false)

	// Fit defaults
	v.SetDefault("fit.range_lo", 10.0)
	v.SetDefault("fit.range_hi", 1000.0)
	v.SetDefault("fit.max_iterations", 5000000)
	v.SetDefault("fit.tolerance", 1e-8)

	// Input defaults
	v.SetDefault("input.timeout", "30s")
	v.SetDefault("input.max_retries", 3)
	v.SetDefault("input.retry_delay", "1s")
	v.SetDefault("input.max_pairs", 0)

	// Centrality defaults: below -1 means "use the fit range"
	v.SetDefault("centrality.enabled", true)
	v.SetDefault("centrality.range_lo", -2.0)
	v.SetDefault("centrality.range_hi", -2.0)
	v.SetDefault("centrality.use_percentiles", false)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/glaubernbd.db")
	v.SetDefault("storage.max_runs", 100)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Model config
	if _, err := glauber.ParseMode(c.Model.AncestorMode); err != nil {
		return fmt.Errorf("model.ancestor_mode: %w", err)
	}
	if err := c.InitialParams().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	// Validate Fit config
	if c.Fit.RangeLo >= c.Fit.RangeHi {
		return fmt.Errorf("fit.range_lo must be below fit.range_hi")
	}
	if c.Fit.MaxIterations < 1 {
		return fmt.Errorf("fit.max_iterations must be at least 1")
	}
	if c.Fit.Tolerance <= 0 {
		return fmt.Errorf("fit.tolerance must be positive")
	}

	// Validate Input config
	if c.Input.CorrelationPath == "" {
		return fmt.Errorf("input.correlation_path is required")
	}
	if c.Input.MultiplicityPath == "" {
		return fmt.Errorf("input.multiplicity_path is required")
	}
	if c.Input.Timeout < time.Second {
		return fmt.Errorf("input.timeout must be at least 1 second")
	}
	if c.Input.MaxRetries < 1 {
		return fmt.Errorf("input.max_retries must be at least 1")
	}
	if c.Input.MaxPairs < 0 {
		return fmt.Errorf("input.max_pairs must not be negative")
	}

	// Validate Centrality config
	fallback := c.Centrality.RangeLo < -1 && c.Centrality.RangeHi < -1
	if c.Centrality.Enabled && !fallback && c.Centrality.RangeHi <= 1 {
		return fmt.Errorf("centrality.range_hi must be above 1, or both bounds below -1 to reuse the fit range")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// AncestorMode returns the parsed ancestor quantization mode.
func (c *Config) AncestorMode() glauber.Mode {
	mode, err := glauber.ParseMode(c.Model.AncestorMode)
	if err != nil {
		return glauber.Continuous
	}
	return mode
}

// InitialParams returns the starting point of the fit.
func (c *Config) InitialParams() glauber.Params {
	return glauber.Params{
		Mu:   c.Model.Mu,
		K:    c.Model.K,
		F:    c.Model.F,
		Norm: c.Model.Norm,
		DMu:  c.Model.DMu,
	}
}

// GetInputConfig returns the Input configuration
func (c *Config) GetInputConfig() InputConfig {
	return c.Input
}

// GetTelegramConfig returns the Telegram configuration
func (c *Config) GetTelegramConfig() TelegramConfig {
	return c.Telegram
}

// GetStorageConfig returns the Storage configuration
func (c *Config) GetStorageConfig() StorageConfig {
	return c.Storage
}

// GetLoggingConfig returns the Logging configuration
func (c *Config) GetLoggingConfig() LoggingConfig {
	return c.Logging
}
