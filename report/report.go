// Package report summarizes a finished replay: account totals, trade
// statistics and drawdown from the equity curve.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"

	"github.com/rustyeddy/tradereplay/journal"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/trade"
)

type Point struct {
	Time   time.Time
	Equity float64
}

// Curve collects equity samples as a replay runs. It is safe for
// concurrent use.
type Curve struct {
	mu     sync.Mutex
	points []Point
}

func (c *Curve) Add(at time.Time, equity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, Point{Time: at, Equity: equity})
}

func (c *Curve) Points() []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Point(nil), c.points...)
}

// MaxDrawdown is the largest peak-to-trough fall in equity, in cash and
// as a percentage of the peak.
func (c *Curve) MaxDrawdown() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var peak, dd, ddPct float64
	for i, p := range c.points {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
			continue
		}
		if fall := peak - p.Equity; fall > dd {
			dd = fall
			if peak > 0 {
				ddPct = fall / peak * 100
			}
		}
	}
	return dd, ddPct
}

type Summary struct {
	Instrument string
	Strategy   string
	Start      time.Time
	End        time.Time

	InitialBalance float64
	FinalBalance   float64
	FinalEquity    float64
	OpenTrades     int

	Trades       int
	Wins         int
	Losses       int
	WinRate      float64 // percent
	ProfitFactor float64
	NetPnL       float64
	ReturnPct    float64

	AvgWin     float64
	AvgLoss    float64
	Best       float64
	Worst      float64
	StdDev     float64 // of per-trade P&L
	Expectancy float64

	MaxDrawdown    float64
	MaxDrawdownPct float64
}

// Summarize reads the engine's account and closed trades. curve may be
// nil, in which case drawdown is left at zero.
func Summarize(e *sim.Engine, curve *Curve) Summary {
	acct := e.Account()
	st := e.Stats()

	s := Summary{
		InitialBalance: acct.InitialBalance,
		FinalBalance:   acct.Balance,
		FinalEquity:    acct.Equity,
		OpenTrades:     acct.OpenTrades,
		Trades:         st.Closed,
		Wins:           st.Wins,
		Losses:         st.Losses,
		WinRate:        st.WinRate(),
		ProfitFactor:   st.ProfitFactor(),
		NetPnL:         st.NetPnL(),
	}
	if acct.InitialBalance > 0 {
		s.ReturnPct = (acct.Balance - acct.InitialBalance) / acct.InitialBalance * 100
	}

	var all, wins, losses stats.Float64Data
	for _, t := range e.ClosedTrades() {
		pnl, _ := t.Realized()
		all = append(all, pnl)
		if pnl > 0 {
			wins = append(wins, pnl)
		} else {
			losses = append(losses, pnl)
		}
	}

	s.AvgWin = orZero(stats.Mean(wins))
	s.AvgLoss = orZero(stats.Mean(losses))
	s.Best = orZero(stats.Max(all))
	s.Worst = orZero(stats.Min(all))
	s.StdDev = orZero(stats.StandardDeviation(all))
	s.Expectancy = orZero(stats.Mean(all))

	if curve != nil {
		s.MaxDrawdown, s.MaxDrawdownPct = curve.MaxDrawdown()
		if pts := curve.Points(); len(pts) > 0 {
			s.Start = pts[0].Time
			s.End = pts[len(pts)-1].Time
		}
	}
	return s
}

// orZero drops the empty-input error stats returns.
func orZero(v float64, err error) float64 {
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}

// Run converts the summary into a journal row.
func (s Summary) Run(runID, dataset string, config []byte, created time.Time) journal.RunRecord {
	return journal.RunRecord{
		RunID:        runID,
		Created:      created,
		Dataset:      dataset,
		Instrument:   s.Instrument,
		Strategy:     s.Strategy,
		Config:       config,
		Start:        s.Start,
		End:          s.End,
		StartBalance: s.InitialBalance,
		EndBalance:   s.FinalBalance,
		Trades:       s.Trades,
		Wins:         s.Wins,
		Losses:       s.Losses,
		NetPL:        s.NetPnL,
		ReturnPct:    s.ReturnPct,
		WinRate:      s.WinRate,
		ProfitFactor: s.ProfitFactor,
		MaxDDPct:     s.MaxDrawdownPct,
	}
}

// Print renders the summary as a two-column table.
func (s Summary) Print(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	rows := [][]string{
		{"Instrument", s.Instrument},
		{"Strategy", s.Strategy},
	}
	if !s.Start.IsZero() {
		rows = append(rows,
			[]string{"Start", s.Start.UTC().Format(time.RFC3339)},
			[]string{"End", s.End.UTC().Format(time.RFC3339)},
		)
	}
	rows = append(rows, [][]string{
		{"Initial balance", money(s.InitialBalance)},
		{"Final balance", money(s.FinalBalance)},
		{"Final equity", money(s.FinalEquity)},
		{"Open trades", strconv.Itoa(s.OpenTrades)},
		{"Closed trades", strconv.Itoa(s.Trades)},
		{"Wins / losses", fmt.Sprintf("%d / %d", s.Wins, s.Losses)},
		{"Win rate", pct(s.WinRate)},
		{"Profit factor", ratio(s.ProfitFactor)},
		{"Net P&L", money(s.NetPnL)},
		{"Return", pct(s.ReturnPct)},
		{"Avg win", money(s.AvgWin)},
		{"Avg loss", money(s.AvgLoss)},
		{"Best / worst", money(s.Best) + " / " + money(s.Worst)},
		{"P&L std dev", money(s.StdDev)},
		{"Expectancy", money(s.Expectancy)},
		{"Max drawdown", money(s.MaxDrawdown) + " (" + pct(s.MaxDrawdownPct) + ")"},
	}...)

	table.AppendBulk(rows)
	table.Render()
}

// PrintTrades renders one row per trade.
func PrintTrades(w io.Writer, trades []trade.Trade) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Dir", "Size", "Entry", "SL", "TP", "Exit", "Status", "P&L"})

	for _, t := range trades {
		exit, pnl := "-", money(t.UnrealizedPnL)
		if r, ok := t.Realized(); ok {
			exit = price(t.ExitPrice)
			pnl = money(r)
		}
		table.Append([]string{
			strconv.FormatInt(t.ID, 10),
			string(t.Direction),
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			price(t.EntryPrice),
			price(t.StopLoss),
			price(t.TakeProfit),
			exit,
			string(t.Status),
			pnl,
		})
	}
	table.Render()
}

func money(x float64) string { return fmt.Sprintf("%.2f", x) }
func pct(x float64) string   { return fmt.Sprintf("%.2f%%", x) }
func price(x float64) string { return strconv.FormatFloat(x, 'f', 5, 64) }

func ratio(x float64) string {
	if math.IsInf(x, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", x)
}
