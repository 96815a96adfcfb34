// Package pricing holds the recorded price samples a replay walks through.
package pricing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Candle struct {
	Time time.Time

	Open  float64
	High  float64
	Low   float64
	Close float64

	Volume float64 // optional
}

// Validate checks that prices are positive and the range covers open
// and close.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("non-positive price in %s candle", c.Time.Format(time.RFC3339))
		}
	}
	if c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("high/low do not bracket open/close in %s candle", c.Time.Format(time.RFC3339))
	}
	return nil
}

// candleRow is the CSV shape: time,open,high,low,close[,volume].
// Time is RFC3339 or unix seconds.
type candleRow struct {
	Time   string `csv:"time"`
	Open   string `csv:"open"`
	High   string `csv:"high"`
	Low    string `csv:"low"`
	Close  string `csv:"close"`
	Volume string `csv:"volume,omitempty"`
}

func (r candleRow) toCandle() (Candle, error) {
	t, err := parseTime(r.Time)
	if err != nil {
		return Candle{}, err
	}

	var c Candle
	c.Time = t
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", r.Open, &c.Open},
		{"high", r.High, &c.High},
		{"low", r.Low, &c.Low},
		{"close", r.Close, &c.Close},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return Candle{}, fmt.Errorf("bad %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}

	if vol := strings.TrimSpace(r.Volume); vol != "" {
		v, err := strconv.ParseFloat(vol, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("bad volume %q: %w", r.Volume, err)
		}
		c.Volume = v
	}
	return c, c.Validate()
}

func fromCandle(c Candle) candleRow {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	return candleRow{
		Time:   c.Time.UTC().Format(time.RFC3339),
		Open:   f(c.Open),
		High:   f(c.High),
		Low:    f(c.Low),
		Close:  f(c.Close),
		Volume: f(c.Volume),
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t, nil
}
