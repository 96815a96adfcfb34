package pricing

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
)

// Series is a fixed, time-ordered sequence of candles. The replay clock
// indexes into it; the close of each candle is the price pushed into
// the engine.
type Series struct {
	Instrument string
	Candles    []Candle
}

// NewSeries sorts candles by time.
func NewSeries(instrument string, candles []Candle) *Series {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	return &Series{Instrument: instrument, Candles: candles}
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Candles)
}

func (s *Series) At(i int) (Candle, bool) {
	if i < 0 || i >= s.Len() {
		return Candle{}, false
	}
	return s.Candles[i], true
}

// Close is the closing price at i, or 0 when i is out of range.
func (s *Series) Close(i int) float64 {
	c, ok := s.At(i)
	if !ok {
		return 0
	}
	return c.Close
}

// Start and End bound the series in time.
func (s *Series) Start() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Candles[0].Time
}

func (s *Series) End() time.Time {
	if s.Len() == 0 {
		return time.Time{}
	}
	return s.Candles[s.Len()-1].Time
}

// LoadCSV reads a candle file with a time,open,high,low,close[,volume]
// header. The instrument is taken from the file name.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Instrument = instrumentFromPath(path)
	return s, nil
}

func ReadCSV(r io.Reader) (*Series, error) {
	var rows []candleRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		c, err := row.toCandle()
		if err != nil {
			// +2: header plus one-based lines.
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		candles = append(candles, c)
	}
	return NewSeries("", candles), nil
}

func (s *Series) WriteCSV(w io.Writer) error {
	rows := make([]candleRow, 0, s.Len())
	for _, c := range s.Candles {
		rows = append(rows, fromCandle(c))
	}
	return gocsv.Marshal(&rows, w)
}

func (s *Series) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RandomWalk builds n synthetic candles starting at price, spaced by
// step. The same seed always yields the same series.
func RandomWalk(n int, price float64, step time.Duration, seed int64) *Series {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	candles := make([]Candle, 0, n)
	last := price
	for i := 0; i < n; i++ {
		open := last
		cl := open * (1 + rng.NormFloat64()*0.002)
		if cl <= 0 {
			cl = open
		}
		wick := open * rng.Float64() * 0.001
		high := max(open, cl) + wick
		low := min(open, cl) - wick
		if low <= 0 {
			low = min(open, cl)
		}

		candles = append(candles, Candle{
			Time:   start.Add(time.Duration(i) * step),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  cl,
			Volume: float64(100 + rng.Intn(900)),
		})
		last = cl
	}
	return NewSeries("SYNTH", candles)
}

func instrumentFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
