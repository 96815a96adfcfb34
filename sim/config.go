package sim

import (
	"fmt"
	"math"
)

const (
	DefaultRiskPerTrade     = 0.01
	DefaultLotSize          = 0.1
	DefaultMinSLDistance    = 10.0
	DefaultMaxOpenPositions = 10
)

// Config is the account and risk setup of an Engine.
type Config struct {
	InitialBalance   float64 `json:"initial_balance" yaml:"initial_balance"`
	RiskPerTrade     float64 `json:"risk_per_trade" yaml:"risk_per_trade"`         // fraction of balance risked by auto-sized orders
	DefaultLotSize   float64 `json:"default_lot_size" yaml:"default_lot_size"`     // cap on auto-sized orders
	MinSLDistance    float64 `json:"min_sl_distance" yaml:"min_sl_distance"`       // price units
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"` // concurrent open trades
}

// DefaultConfig returns the documented defaults around balance.
func DefaultConfig(balance float64) Config {
	return Config{
		InitialBalance:   balance,
		RiskPerTrade:     DefaultRiskPerTrade,
		DefaultLotSize:   DefaultLotSize,
		MinSLDistance:    DefaultMinSLDistance,
		MaxOpenPositions: DefaultMaxOpenPositions,
	}
}

func (c Config) Validate() error {
	if !positive(c.InitialBalance) {
		return fmt.Errorf("initial_balance must be positive")
	}
	if !positive(c.RiskPerTrade) || c.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0, 1]")
	}
	if !positive(c.DefaultLotSize) {
		return fmt.Errorf("default_lot_size must be positive")
	}
	if math.IsNaN(c.MinSLDistance) || math.IsInf(c.MinSLDistance, 0) || c.MinSLDistance < 0 {
		return fmt.Errorf("min_sl_distance must be zero or positive")
	}
	if c.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1")
	}
	return nil
}

// positive reports whether x is finite and strictly above zero.
func positive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}
