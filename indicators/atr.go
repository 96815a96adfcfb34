package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/tradereplay/pricing"
)

func trueRange(cur, prev pricing.Candle) float64 {
	return math.Max(cur.High-cur.Low,
		math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATRFunc is the Average True Range over candles using Wilder smoothing.
func ATRFunc(candles []pricing.Candle, period int) (float64, error) {
	if err := enough(candles, period, period+1); err != nil {
		return 0, err
	}

	a := NewATR(period)
	for _, c := range candles {
		a.Update(c)
	}
	return a.Value(), nil
}

// ATR is a streaming Average True Range. The first value is the plain
// mean of period true ranges, so it needs period+1 candles.
type ATR struct {
	period    int
	atr       float64
	count     int
	warmupSum float64
	prev      pricing.Candle
	havePrev  bool
}

func NewATR(period int) *ATR {
	return &ATR{period: max(period, 1)}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }
func (a *ATR) Warmup() int  { return a.period + 1 }

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}

func (a *ATR) Update(c pricing.Candle) {
	if !a.havePrev {
		a.prev = c
		a.havePrev = true
		return
	}
	tr := trueRange(c, a.prev)
	a.prev = c

	if a.count < a.period {
		a.warmupSum += tr
		a.count++
		if a.count == a.period {
			a.atr = a.warmupSum / float64(a.period)
		}
		return
	}
	p := float64(a.period)
	a.atr = (a.atr*(p-1) + tr) / p
}

func (a *ATR) Ready() bool { return a.count >= a.period }

func (a *ATR) Value() float64 {
	if !a.Ready() {
		return 0
	}
	return a.atr
}
