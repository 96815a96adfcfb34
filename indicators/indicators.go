// Package indicators provides streaming technical indicators over
// replayed candles.
package indicators

import "github.com/rustyeddy/tradereplay/pricing"

// Indicator computes a single streaming value from candles.
// It is deterministic, so a replay that seeks back and re-feeds the same
// candles after Reset gets the same values.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed candle.
	Update(c pricing.Candle)

	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}
