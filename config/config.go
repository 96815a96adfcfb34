// Package config loads and validates the settings of a replay run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradereplay/replay"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/strategies"
)

// Config represents a complete replay run.
type Config struct {
	Account  AccountConfig  `json:"account" yaml:"account"`
	Risk     RiskConfig     `json:"risk" yaml:"risk"`
	Replay   ReplayConfig   `json:"replay" yaml:"replay"`
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// RiskConfig holds the order checks and sizing rules of the account.
type RiskConfig struct {
	RiskPerTrade     float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	DefaultLotSize   float64 `json:"default_lot_size" yaml:"default_lot_size"`
	MinSLDistance    float64 `json:"min_sl_distance" yaml:"min_sl_distance"`
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
}

// ReplayConfig says what to replay and how fast. Either DataFile or
// Synthetic must be set.
type ReplayConfig struct {
	DataFile   string           `json:"data_file,omitempty" yaml:"data_file,omitempty"`
	Instrument string           `json:"instrument,omitempty" yaml:"instrument,omitempty"`
	Synthetic  *SyntheticConfig `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
	Speed      string           `json:"speed" yaml:"speed"` // e.g. "250ms"; ignored when Fast
	Fast       bool             `json:"fast" yaml:"fast"`
	CloseAtEnd bool             `json:"close_at_end" yaml:"close_at_end"`
}

// SyntheticConfig generates a random-walk series instead of reading one.
type SyntheticConfig struct {
	Candles    int     `json:"candles" yaml:"candles"`
	StartPrice float64 `json:"start_price" yaml:"start_price"`
	Interval   string  `json:"interval" yaml:"interval"` // e.g. "1m"
	Seed       int64   `json:"seed" yaml:"seed"`
}

type StrategyConfig struct {
	Name              string `json:"name" yaml:"name"`
	strategies.Params `yaml:",inline"`
}

type JournalConfig struct {
	Type        string `json:"type" yaml:"type"` // "csv", "sqlite" or "none"
	TradesFile  string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile  string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	EquityEvery int    `json:"equity_every,omitempty" yaml:"equity_every,omitempty"`
	OrgFile     string `json:"org_file,omitempty" yaml:"org_file,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Sim is the engine configuration.
func (c *Config) Sim() sim.Config {
	return sim.Config{
		InitialBalance:   c.Account.Balance,
		RiskPerTrade:     c.Risk.RiskPerTrade,
		DefaultLotSize:   c.Risk.DefaultLotSize,
		MinSLDistance:    c.Risk.MinSLDistance,
		MaxOpenPositions: c.Risk.MaxOpenPositions,
	}
}

// SpeedDuration parses Replay.Speed. Empty means the clock default.
func (c *Config) SpeedDuration() (time.Duration, error) {
	if c.Replay.Speed == "" {
		return replay.DefaultSpeed, nil
	}
	return time.ParseDuration(c.Replay.Speed)
}

// IntervalDuration parses Synthetic.Interval. Empty means one minute.
func (s SyntheticConfig) IntervalDuration() (time.Duration, error) {
	if s.Interval == "" {
		return time.Minute, nil
	}
	return time.ParseDuration(s.Interval)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if r := c.Risk.RiskPerTrade; r <= 0 || r > 1 {
		return fmt.Errorf("risk.risk_per_trade must be between 0 and 1")
	}
	if err := c.Sim().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}

	if c.Replay.DataFile == "" && c.Replay.Synthetic == nil {
		return fmt.Errorf("replay.data_file or replay.synthetic is required")
	}
	if s := c.Replay.Synthetic; s != nil {
		if s.Candles < 2 {
			return fmt.Errorf("replay.synthetic.candles must be at least 2")
		}
		if s.StartPrice <= 0 {
			return fmt.Errorf("replay.synthetic.start_price must be positive")
		}
		if d, err := s.IntervalDuration(); err != nil || d <= 0 {
			return fmt.Errorf("replay.synthetic.interval %q is not a positive duration", s.Interval)
		}
	}
	if d, err := c.SpeedDuration(); err != nil || d <= 0 {
		return fmt.Errorf("replay.speed %q is not a positive duration", c.Replay.Speed)
	}

	if !strategies.Has(c.Strategy.Name) {
		return fmt.Errorf("unknown strategy %q (supported: %s)", c.Strategy.Name, strings.Join(strategies.Names(), ", "))
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	if c.Journal.EquityEvery < 0 {
		return fmt.Errorf("journal.equity_every must not be negative")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a runnable configuration: a synthetic EUR_USD walk
// traded with a bracket strategy and journaled to CSV.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  100000,
		},
		Risk: RiskConfig{
			RiskPerTrade:     sim.DefaultRiskPerTrade,
			DefaultLotSize:   10000, // one mini lot
			MinSLDistance:    0.0005,
			MaxOpenPositions: sim.DefaultMaxOpenPositions,
		},
		Replay: ReplayConfig{
			Instrument: "EUR_USD",
			Synthetic: &SyntheticConfig{
				Candles:    500,
				StartPrice: 1.0850,
				Interval:   "1m",
				Seed:       1,
			},
			Speed:      "250ms",
			CloseAtEnd: true,
		},
		Strategy: StrategyConfig{
			Name: "bracket",
			Params: strategies.Params{
				Direction:    "alternate",
				StopDistance: 0.0010,
				TakeDistance: 0.0020,
				Every:        5,
			},
		},
		Journal: JournalConfig{
			Type:       "csv",
			TradesFile: "./trades.csv",
			EquityFile: "./equity.csv",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
