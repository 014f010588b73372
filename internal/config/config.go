// Package config loads the session trader's YAML configuration, in the
// teacher's Load/DefaultConfig/applyDefaults shape: unmarshal, then fill
// every zero-valued field with its default so a partial or absent config
// file is always usable.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document, per the specification's §6
// configuration table.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Cache     CacheConfig     `yaml:"cache"`
	AIScanner AIScannerConfig `yaml:"ai_scanner"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Broker    BrokerConfig    `yaml:"broker"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// SchedulerConfig controls the session day cycle and strategy supervision.
type SchedulerConfig struct {
	Exchange           string        `yaml:"exchange"`             // e.g. "XNYS"
	Timezone           string        `yaml:"timezone"`             // IANA zone, e.g. "America/New_York"
	StrategyMaxRetries int           `yaml:"strategy_max_retries"` // before the runner disables a strategy
	StrategyRetryDelay time.Duration `yaml:"strategy_retry_delay"`
}

// CacheConfig controls the on-disk ticker-watchlist cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CacheDir string `yaml:"cache_dir"`
}

// AIScannerConfig controls the AI-consensus selection pipeline.
type AIScannerConfig struct {
	ScanPasses     int    `yaml:"scan_passes"`
	PromptTemplate string `yaml:"prompt_template"`
}

// RealtimeConfig controls the realtime fan-out's transport and reconnect
// policy.
type RealtimeConfig struct {
	FeedURL              string        `yaml:"feed_url"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// StrategyConfig fixes the earnings/AI-consensus strategy's tunables.
type StrategyConfig struct {
	CandlePeriod   time.Duration `yaml:"candle_period"`
	WarmupTime     string        `yaml:"warmup_time"` // "HH:MM", local to Scheduler.Timezone
	EntryOffsetPct float64       `yaml:"entry_offset_pct"`
	StopLossPct    float64       `yaml:"stop_loss_pct"`
	TakeProfitPct  float64       `yaml:"take_profit_pct"`
}

// BrokerConfig selects and authenticates the order gateway.
type BrokerConfig struct {
	Mode            string  `yaml:"mode"` // "paper" or "live"
	APIKey          string  `yaml:"api_key"`
	APISecret       string  `yaml:"api_secret"`
	BaseURL         string  `yaml:"base_url"`
	PaperBuyingPower float64 `yaml:"paper_buying_power"`
}

// MonitorConfig controls the read-only status HTTP server.
type MonitorConfig struct {
	Port    string `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file, applying defaults to
// any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the fully-defaulted configuration, useful for
// tests and as a starting point for Save.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// defaultPromptTemplate must contain exactly one "%s" verb: the
// selection pipeline builds the live prompt with fmt.Sprintf(tmpl,
// universe), per pipeline.go's PromptTemplate contract.
const defaultPromptTemplate = "You are a markets analyst. Given the following " +
	"earnings-season candidates, return only the tickers you'd add to today's " +
	"watch list as a JSON array of strings: %s"

func applyDefaults(cfg *Config) {
	if cfg.Scheduler.Exchange == "" {
		cfg.Scheduler.Exchange = "XNYS"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "America/New_York"
	}
	if cfg.Scheduler.StrategyMaxRetries == 0 {
		cfg.Scheduler.StrategyMaxRetries = 3
	}
	if cfg.Scheduler.StrategyRetryDelay == 0 {
		cfg.Scheduler.StrategyRetryDelay = 5 * time.Second
	}

	if cfg.Cache.CacheDir == "" {
		cfg.Cache.CacheDir = "data/ticker_cache"
	}

	if cfg.AIScanner.ScanPasses == 0 {
		cfg.AIScanner.ScanPasses = 1
	}
	if cfg.AIScanner.PromptTemplate == "" {
		cfg.AIScanner.PromptTemplate = defaultPromptTemplate
	}

	if cfg.Realtime.FeedURL == "" {
		cfg.Realtime.FeedURL = "wss://stream.example.com/v1/ticks"
	}
	if cfg.Realtime.ReconnectDelay == 0 {
		cfg.Realtime.ReconnectDelay = time.Second
	}
	if cfg.Realtime.MaxReconnectAttempts == 0 {
		cfg.Realtime.MaxReconnectAttempts = 5
	}

	if cfg.Strategy.CandlePeriod == 0 {
		cfg.Strategy.CandlePeriod = 5 * time.Second
	}
	if cfg.Strategy.WarmupTime == "" {
		cfg.Strategy.WarmupTime = "09:35"
	}
	if cfg.Strategy.EntryOffsetPct == 0 {
		cfg.Strategy.EntryOffsetPct = 0.01
	}
	if cfg.Strategy.StopLossPct == 0 {
		cfg.Strategy.StopLossPct = 0.04
	}
	if cfg.Strategy.TakeProfitPct == 0 {
		cfg.Strategy.TakeProfitPct = 0.08
	}

	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = "paper"
	}
	if cfg.Broker.PaperBuyingPower == 0 {
		cfg.Broker.PaperBuyingPower = 100000
	}

	if cfg.Monitor.Port == "" {
		cfg.Monitor.Port = ":8090"
	}
}

// Save writes the configuration back out as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
