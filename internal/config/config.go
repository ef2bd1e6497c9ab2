package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/greeks"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/rewired-gh/cso/internal/screener"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Screening ScreeningConfig `mapstructure:"screening"`
	Criteria  CriteriaConfig  `mapstructure:"criteria"`
	Weights   WeightsConfig   `mapstructure:"weights"`
	Market    MarketConfig    `mapstructure:"market"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScreeningConfig selects the preset, the engine and batch limits
type ScreeningConfig struct {
	Preset        string   `mapstructure:"preset"`
	Mode          string   `mapstructure:"mode"` // disciplined or ranked
	TopN          int      `mapstructure:"top_n"`
	TopNPerTicker int      `mapstructure:"top_n_per_ticker"`
	Workers       int      `mapstructure:"workers"`
	Order         []string `mapstructure:"order"`
}

// CriteriaConfig overrides individual preset thresholds. Nil leaves the
// preset value in place. The HTTP API accepts the same overrides as JSON.
type CriteriaConfig struct {
	MinOpenInterest  *int64   `mapstructure:"min_open_interest" json:"min_open_interest,omitempty"`
	MinVolume        *int64   `mapstructure:"min_volume" json:"min_volume,omitempty"`
	MinIVPercentile  *float64 `mapstructure:"min_iv_percentile" json:"min_iv_percentile,omitempty"`
	MinDelta         *float64 `mapstructure:"min_delta" json:"min_delta,omitempty"`
	MaxDelta         *float64 `mapstructure:"max_delta" json:"max_delta,omitempty"`
	MinTheta         *float64 `mapstructure:"min_theta" json:"min_theta,omitempty"`
	MinExpectedValue *float64 `mapstructure:"min_expected_value" json:"min_expected_value,omitempty"`
	MaxSpreadWidth   *float64 `mapstructure:"max_spread_width" json:"max_spread_width,omitempty"`
	MinDTE           *int     `mapstructure:"min_dte" json:"min_dte,omitempty"`
	MaxDTE           *int     `mapstructure:"max_dte" json:"max_dte,omitempty"`
	MaxBidAsk        *float64 `mapstructure:"max_bid_ask" json:"max_bid_ask,omitempty"`
	MinProbability   *float64 `mapstructure:"min_probability" json:"min_probability,omitempty"`
	MinRiskReward    *float64 `mapstructure:"min_risk_reward" json:"min_risk_reward,omitempty"`
}

// WeightsConfig holds the optimizer weight vector
type WeightsConfig struct {
	IV              float64 `mapstructure:"iv"`
	Theta           float64 `mapstructure:"theta"`
	SpreadQuality   float64 `mapstructure:"spread_quality"`
	ExpectedValue   float64 `mapstructure:"expected_value"`
	Probability     float64 `mapstructure:"probability"`
	Liquidity       float64 `mapstructure:"liquidity"`
	ReturnOnCapital float64 `mapstructure:"return_on_capital"`
}

// MarketConfig holds pricing inputs for the Greeks provider
type MarketConfig struct {
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	GreeksProvider string  `mapstructure:"greeks_provider"` // none or black_scholes
	AsOf           string  `mapstructure:"as_of"`           // YYYY-MM-DD, empty = today
}

// StorageConfig holds run persistence configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
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

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	ModeDisciplined = "disciplined"
	ModeRanked      = "ranked"

	ProviderNone         = "none"
	ProviderBlackScholes = "black_scholes"
)

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. CSO_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("CSO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Screening defaults
	v.SetDefault("screening.preset", models.PresetStandard)
	v.SetDefault("screening.mode", ModeDisciplined)
	v.SetDefault("screening.top_n", 10)
	v.SetDefault("screening.top_n_per_ticker", 0) // 0 = rank the batch as a whole
	v.SetDefault("screening.workers", 0)          // 0 = one per CPU

	// Weight defaults
	w := models.DefaultWeights()
	v.SetDefault("weights.iv", w.IV)
	v.SetDefault("weights.theta", w.Theta)
	v.SetDefault("weights.spread_quality", w.SpreadQuality)
	v.SetDefault("weights.expected_value", w.ExpectedValue)
	v.SetDefault("weights.probability", w.Probability)
	v.SetDefault("weights.liquidity", w.Liquidity)
	v.SetDefault("weights.return_on_capital", w.ReturnOnCapital)

	// Market defaults
	v.SetDefault("market.risk_free_rate", 0.04)
	v.SetDefault("market.greeks_provider", ProviderNone)
	v.SetDefault("market.as_of", "")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_runs", 500)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Screening config
	if _, err := models.Preset(c.Screening.Preset); err != nil {
		return fmt.Errorf("screening.preset: %w", err)
	}
	if c.Screening.Mode != ModeDisciplined && c.Screening.Mode != ModeRanked {
		return fmt.Errorf("screening.mode must be one of: %s, %s", ModeDisciplined, ModeRanked)
	}
	if c.Screening.TopN < 0 {
		return fmt.Errorf("screening.top_n must not be negative")
	}
	if c.Screening.TopNPerTicker < 0 {
		return fmt.Errorf("screening.top_n_per_ticker must not be negative")
	}
	if c.Screening.Workers < 0 {
		return fmt.Errorf("screening.workers must not be negative")
	}
	if len(c.Screening.Order) > 0 {
		if err := screener.ValidateOrder(c.FilterOrder()); err != nil {
			return fmt.Errorf("screening.order: %w", err)
		}
	}

	// Validate Criteria and Weights
	if _, err := c.ScreeningCriteria(); err != nil {
		return err
	}
	if err := c.OptimizerWeights().Validate(); err != nil {
		return err
	}

	// Validate Market config
	if c.Market.RiskFreeRate < 0 || c.Market.RiskFreeRate > 1 {
		return fmt.Errorf("market.risk_free_rate must be between 0 and 1")
	}
	if c.Market.GreeksProvider != ProviderNone && c.Market.GreeksProvider != ProviderBlackScholes {
		return fmt.Errorf("market.greeks_provider must be one of: %s, %s", ProviderNone, ProviderBlackScholes)
	}
	if _, err := c.AsOf(); err != nil {
		return err
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.MaxRuns < 1 {
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

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
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

// ScreeningCriteria returns the preset with overrides applied, validated.
func (c *Config) ScreeningCriteria() (models.ScreeningCriteria, error) {
	base, err := models.Preset(c.Screening.Preset)
	if err != nil {
		return models.ScreeningCriteria{}, err
	}
	return c.Criteria.Apply(base)
}

// Apply returns base with every set override replaced. The result is named
// "<preset>+custom" when anything changed.
func (o CriteriaConfig) Apply(base models.ScreeningCriteria) (models.ScreeningCriteria, error) {
	out := base
	changed := false
	setInt64 := func(dst *int64, src *int64) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
			changed = true
		}
	}
	setInt64(&out.MinOpenInterest, o.MinOpenInterest)
	setInt64(&out.MinVolume, o.MinVolume)
	setFloat(&out.MinIVPercentile, o.MinIVPercentile)
	setFloat(&out.MinDelta, o.MinDelta)
	setFloat(&out.MaxDelta, o.MaxDelta)
	setFloat(&out.MinTheta, o.MinTheta)
	setFloat(&out.MinExpectedValue, o.MinExpectedValue)
	setFloat(&out.MaxSpreadWidth, o.MaxSpreadWidth)
	setInt(&out.MinDTE, o.MinDTE)
	setInt(&out.MaxDTE, o.MaxDTE)
	setFloat(&out.MaxBidAsk, o.MaxBidAsk)
	setFloat(&out.MinProbability, o.MinProbability)
	setFloat(&out.MinRiskReward, o.MinRiskReward)
	if changed {
		out.Name = base.Name + "+custom"
	}
	if err := out.Validate(); err != nil {
		return models.ScreeningCriteria{}, err
	}
	return out, nil
}

// OptimizerWeights converts the weights section.
func (c *Config) OptimizerWeights() models.Weights {
	return models.Weights{
		IV:              c.Weights.IV,
		Theta:           c.Weights.Theta,
		SpreadQuality:   c.Weights.SpreadQuality,
		ExpectedValue:   c.Weights.ExpectedValue,
		Probability:     c.Weights.Probability,
		Liquidity:       c.Weights.Liquidity,
		ReturnOnCapital: c.Weights.ReturnOnCapital,
	}
}

// FilterOrder converts screening.order, or returns nil for the default.
func (c *Config) FilterOrder() []models.FilterName {
	if len(c.Screening.Order) == 0 {
		return nil
	}
	out := make([]models.FilterName, len(c.Screening.Order))
	for i, name := range c.Screening.Order {
		out[i] = models.FilterName(strings.ToLower(strings.TrimSpace(name)))
	}
	return out
}

// AsOf parses market.as_of; the zero time means evaluate as of today.
func (c *Config) AsOf() (time.Time, error) {
	if c.Market.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Market.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("market.as_of must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

// GreeksProvider returns the configured provider, or nil when Greeks must
// come from the input.
func (c *Config) GreeksProvider() analyzer.GreeksProvider {
	if c.Market.GreeksProvider == ProviderBlackScholes {
		return greeks.New(c.Market.RiskFreeRate)
	}
	return nil
}
