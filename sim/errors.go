package sim

import "errors"

// ErrOrderRejected wraps every PlaceOrder validation failure, so callers
// can tell an expected rejection from anything else with errors.Is.
var ErrOrderRejected = errors.New("order rejected")

var (
	ErrInvalidDirection = errors.New("invalid direction")
	ErrInvalidPrice     = errors.New("prices must be finite and positive")
	ErrInvalidLevels    = errors.New("stop-loss and take-profit on the wrong side of entry")
	ErrStopTooClose     = errors.New("stop-loss closer than minimum distance")
	ErrInvalidSize      = errors.New("size must be finite and positive")
	ErrPositionLimit    = errors.New("maximum open positions reached")

	ErrTradeNotFound = errors.New("no open trade with that id")
)
