package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
)

var (
	tradeHeader  = []string{"run_id", "trade_id", "instrument", "direction", "size", "entry_price", "exit_price", "stop_loss", "take_profit", "open_time", "close_time", "realized_pl", "status", "reason"}
	equityHeader = []string{"run_id", "time", "balance", "equity", "margin_used", "open_trades"}
)

// tradeRow and equityRow are the CSV shapes; their tags match the
// headers above.
type tradeRow struct {
	RunID      string `csv:"run_id"`
	TradeID    string `csv:"trade_id"`
	Instrument string `csv:"instrument"`
	Direction  string `csv:"direction"`
	Size       string `csv:"size"`
	EntryPrice string `csv:"entry_price"`
	ExitPrice  string `csv:"exit_price"`
	StopLoss   string `csv:"stop_loss"`
	TakeProfit string `csv:"take_profit"`
	OpenTime   string `csv:"open_time"`
	CloseTime  string `csv:"close_time"`
	RealizedPL string `csv:"realized_pl"`
	Status     string `csv:"status"`
	Reason     string `csv:"reason"`
}

type equityRow struct {
	RunID      string `csv:"run_id"`
	Time       string `csv:"time"`
	Balance    string `csv:"balance"`
	Equity     string `csv:"equity"`
	MarginUsed string `csv:"margin_used"`
	OpenTrades string `csv:"open_trades"`
}

// CSVJournal writes trades and equity samples to two CSV files. Rows are
// flushed as they are recorded.
type CSVJournal struct {
	mu     sync.Mutex
	trades *gocsv.SafeCSVWriter
	equity *gocsv.SafeCSVWriter
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	j := &CSVJournal{
		trades: gocsv.NewSafeCSVWriter(csv.NewWriter(tf)),
		equity: gocsv.NewSafeCSVWriter(csv.NewWriter(ef)),
		tf:     tf,
		ef:     ef,
	}
	if err := writeHeader(j.trades, tradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := writeHeader(j.equity, equityHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func writeHeader(w *gocsv.SafeCSVWriter, header []string) error {
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	rows := []tradeRow{{
		RunID:      t.RunID,
		TradeID:    strconv.FormatInt(t.TradeID, 10),
		Instrument: t.Instrument,
		Direction:  string(t.Direction),
		Size:       f(t.Size),
		EntryPrice: f(t.EntryPrice),
		ExitPrice:  f(t.ExitPrice),
		StopLoss:   f(t.StopLoss),
		TakeProfit: f(t.TakeProfit),
		OpenTime:   t.OpenTime.UTC().Format(time.RFC3339),
		CloseTime:  t.CloseTime.UTC().Format(time.RFC3339),
		RealizedPL: f(t.RealizedPL),
		Status:     string(t.Status),
		Reason:     string(t.Reason),
	}}

	j.mu.Lock()
	defer j.mu.Unlock()
	return gocsv.MarshalCSVWithoutHeaders(&rows, j.trades)
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	rows := []equityRow{{
		RunID:      e.RunID,
		Time:       e.Time.UTC().Format(time.RFC3339),
		Balance:    f(e.Balance),
		Equity:     f(e.Equity),
		MarginUsed: f(e.MarginUsed),
		OpenTrades: strconv.Itoa(e.OpenTrades),
	}}

	j.mu.Lock()
	defer j.mu.Unlock()
	return gocsv.MarshalCSVWithoutHeaders(&rows, j.equity)
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Flush()
	j.equity.Flush()
	err := j.trades.Error()
	if err == nil {
		err = j.equity.Error()
	}

	if cerr := j.tf.Close(); err == nil {
		err = cerr
	}
	if cerr := j.ef.Close(); err == nil {
		err = cerr
	}
	return err
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
