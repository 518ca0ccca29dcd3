// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// TradingMode selects between the paper account and the live account.
type TradingMode string

const (
	ModeSimulation TradingMode = "simulation"
	ModeReal       TradingMode = "real"
)

// Config holds all application configuration.
type Config struct {
	Mode        TradingMode
	Credentials Credentials
	Gateway     GatewayConfig  `mapstructure:"gateway"`
	Risk        RiskConfig     `mapstructure:"risk"`
	Selector    SelectorConfig `mapstructure:"selector"`
	Market      MarketConfig   `mapstructure:"market_hours"`
	Loop        LoopConfig     `mapstructure:"loop"`
	Logging     LogConfig      `mapstructure:"logging"`
	Report      ReportConfig   `mapstructure:"report"`
}

// Credentials holds broker API credentials, loaded from the environment.
// The trading mode selects between the SIMULATION_ and REAL_ variable pairs
// so a paper run can never pick up live keys by accident.
type Credentials struct {
	AppKey        string
	AppSecret     string
	AccountNumber string
}

// GatewayConfig holds rate-limit and retry settings for the broker gateway.
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenPath      string        `mapstructure:"token_path"`
}

// RiskConfig holds risk management configuration. Immutable per run.
type RiskConfig struct {
	StopLossPercent     float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent   float64 `mapstructure:"take_profit_percent"`
	TrailingStop        bool    `mapstructure:"trailing_stop"`
	TrailingStopPercent float64 `mapstructure:"trailing_stop_percent"`
	RiskPercent         float64 `mapstructure:"risk_percent"`
	MaxPositionSize     float64 `mapstructure:"max_position_size"`
	MaxPositions        int     `mapstructure:"max_positions"`
	DailyLossLimit      float64 `mapstructure:"daily_loss_limit"` // negative threshold, e.g. -5.0
	MaxSingleStockRatio float64 `mapstructure:"max_single_stock_ratio"`
	OvernightHold       bool    `mapstructure:"overnight_hold"`
	OvernightMinProfit  float64 `mapstructure:"overnight_min_profit"`
}

// SelectorConfig holds stock selection settings.
type SelectorConfig struct {
	TopVolumeCount       int     `mapstructure:"top_volume_count"`
	VolumeSurgeThreshold float64 `mapstructure:"volume_surge_threshold"`
	KValue               float64 `mapstructure:"k_value"`
	MinScore             int     `mapstructure:"min_score"`
	ShortMAPeriod        int     `mapstructure:"short_ma_period"`
	MediumMAPeriod       int     `mapstructure:"medium_ma_period"`
	MaxBuysPerTick       int     `mapstructure:"max_buys_per_tick"`
}

// MarketConfig holds the trading session window, in exchange-local time.
type MarketConfig struct {
	OpenTime       string `mapstructure:"open_time"`       // "09:00"
	CloseTime      string `mapstructure:"close_time"`      // "15:30"
	ForceCloseTime string `mapstructure:"force_close_time"` // "15:20"
}

// LoopConfig holds control loop timing.
type LoopConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	ConfirmInterval   time.Duration `mapstructure:"confirm_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// ReportConfig holds report generation settings.
type ReportConfig struct {
	Dir    string `mapstructure:"dir"`
	DBPath string `mapstructure:"db_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/kis-trader"
	}
	return filepath.Join(home, ".config", "kis-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
// Secrets come from a .env file in the config directory (or the process
// environment); strategy settings come from config.yaml.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional; process environment always wins.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := defaults(configDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.yaml: %w", err)
		}
		// No config file is fine: defaults plus environment.
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config.yaml: %w", err)
	}

	cfg.Mode = TradingMode(getenv("TRADING_MODE", string(ModeSimulation)))
	cfg.Credentials = loadCredentials(cfg.Mode)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults(configDir string) *Config {
	return &Config{
		Gateway: GatewayConfig{
			BaseURL:        "https://openapivts.koreainvestment.com:29443",
			MinInterval:    500 * time.Millisecond,
			MaxAttempts:    3,
			MaxBackoff:     8 * time.Second,
			RequestTimeout: 10 * time.Second,
			TokenPath:      filepath.Join(configDir, "token.json"),
		},
		Risk: RiskConfig{
			StopLossPercent:     2.5,
			TakeProfitPercent:   5.0,
			TrailingStop:        true,
			TrailingStopPercent: 1.5,
			RiskPercent:         2.0,
			MaxPositionSize:     1000000,
			MaxPositions:        5,
			DailyLossLimit:      -5.0,
			MaxSingleStockRatio: 0.2,
			OvernightHold:       false,
			OvernightMinProfit:  2.0,
		},
		Selector: SelectorConfig{
			TopVolumeCount:       30,
			VolumeSurgeThreshold: 2.0,
			KValue:               0.5,
			MinScore:             5,
			ShortMAPeriod:        5,
			MediumMAPeriod:       20,
			MaxBuysPerTick:       3,
		},
		Market: MarketConfig{
			OpenTime:       "09:00",
			CloseTime:      "15:30",
			ForceCloseTime: "15:20",
		},
		Loop: LoopConfig{
			TickInterval:      60 * time.Second,
			ConfirmTimeout:    20 * time.Second,
			ConfirmInterval:   2 * time.Second,
			ReconcileInterval: 10 * time.Minute,
		},
		Logging: LogConfig{
			Level:      "info",
			Console:    true,
			File:       true,
			FilePath:   filepath.Join(configDir, "logs", "trader.log"),
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
		Report: ReportConfig{
			Dir:    filepath.Join(configDir, "reports"),
			DBPath: filepath.Join(configDir, "journal.db"),
		},
	}
}

func loadCredentials(mode TradingMode) Credentials {
	prefix := "SIMULATION_"
	if mode == ModeReal {
		prefix = "REAL_"
	}
	return Credentials{
		AppKey:        os.Getenv(prefix + "APP_KEY"),
		AppSecret:     os.Getenv(prefix + "APP_SECRET"),
		AccountNumber: os.Getenv(prefix + "ACCOUNT_NUMBER"),
	}
}

// applyEnvOverrides lets risk knobs be tuned per run without editing yaml.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envFloat("STOP_LOSS_PERCENT"); ok {
		cfg.Risk.StopLossPercent = v
	}
	if v, ok := envFloat("TAKE_PROFIT_PERCENT"); ok {
		cfg.Risk.TakeProfitPercent = v
	}
	if v, ok := envFloat("MAX_POSITION_SIZE"); ok {
		cfg.Risk.MaxPositionSize = v
	}
	if v, ok := envInt("MAX_POSITIONS"); ok {
		cfg.Risk.MaxPositions = v
	}
	if v, ok := envFloat("DAILY_LOSS_LIMIT"); ok {
		cfg.Risk.DailyLossLimit = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KIS_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
}

// Validate checks required settings, collecting every problem so the
// operator sees them all at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Mode != ModeSimulation && c.Mode != ModeReal {
		problems = append(problems, fmt.Sprintf("TRADING_MODE must be %q or %q, got %q", ModeSimulation, ModeReal, c.Mode))
	}
	if c.Mode == ModeReal {
		if c.Credentials.AppKey == "" {
			problems = append(problems, "REAL_APP_KEY is not set")
		}
		if c.Credentials.AppSecret == "" {
			problems = append(problems, "REAL_APP_SECRET is not set")
		}
		if c.Credentials.AccountNumber == "" {
			problems = append(problems, "REAL_ACCOUNT_NUMBER is not set")
		}
	}
	if c.Risk.StopLossPercent <= 0 {
		problems = append(problems, "risk.stop_loss_percent must be positive")
	}
	if c.Risk.MaxPositions <= 0 {
		problems = append(problems, "risk.max_positions must be positive")
	}
	if c.Risk.MaxSingleStockRatio <= 0 || c.Risk.MaxSingleStockRatio > 1 {
		problems = append(problems, "risk.max_single_stock_ratio must be in (0, 1]")
	}
	if c.Risk.DailyLossLimit >= 0 {
		problems = append(problems, "risk.daily_loss_limit must be negative")
	}
	if c.Gateway.MinInterval <= 0 {
		problems = append(problems, "gateway.min_interval must be positive")
	}
	if _, err := ParseClock(c.Market.OpenTime); err != nil {
		problems = append(problems, fmt.Sprintf("market_hours.open_time: %v", err))
	}
	if _, err := ParseClock(c.Market.CloseTime); err != nil {
		problems = append(problems, fmt.Sprintf("market_hours.close_time: %v", err))
	}
	if _, err := ParseClock(c.Market.ForceCloseTime); err != nil {
		problems = append(problems, fmt.Sprintf("market_hours.force_close_time: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// IsPaperTrading reports whether orders go to the simulated account.
func (c *Config) IsPaperTrading() bool {
	return c.Mode == ModeSimulation
}

// Clock is a time of day in minutes from midnight.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

// Minutes returns minutes from midnight.
func (c Clock) Minutes() int { return int(c) }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
