package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradereplay/trade"
)

var ErrNotFound = errors.New("journal: not found")

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, trade_id, instrument, direction, size, entry_price, exit_price,
		 stop_loss, take_profit, open_time, close_time, realized_pl, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.TradeID, t.Instrument, string(t.Direction), t.Size, t.EntryPrice, t.ExitPrice,
		t.StopLoss, t.TakeProfit, t.OpenTime, t.CloseTime, t.RealizedPL, string(t.Status), string(t.Reason),
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, open_trades)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity, e.MarginUsed, e.OpenTrades,
	)
	return err
}

// RecordRun stores the run summary, replacing an earlier row for the
// same run id.
func (j *SQLiteJournal) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, created, dataset, instrument, strategy, config, start_time, end_time,
		 start_balance, end_balance, trades, wins, losses, net_pl, return_pct,
		 win_rate, profit_factor, max_dd_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Dataset, r.Instrument, r.Strategy, string(r.Config), r.Start, r.End,
		r.StartBalance, r.EndBalance, r.Trades, r.Wins, r.Losses, r.NetPL, r.ReturnPct,
		r.WinRate, r.ProfitFactor, r.MaxDDPct,
	)
	return err
}

const tradeColumns = `run_id, trade_id, instrument, direction, size, entry_price, exit_price,
	stop_loss, take_profit, open_time, close_time, realized_pl, status, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var (
		rec                 TradeRecord
		dir, status, reason string
	)
	err := s.Scan(
		&rec.RunID, &rec.TradeID, &rec.Instrument, &dir, &rec.Size, &rec.EntryPrice, &rec.ExitPrice,
		&rec.StopLoss, &rec.TakeProfit, &rec.OpenTime, &rec.CloseTime, &rec.RealizedPL, &status, &reason,
	)
	rec.Direction = trade.Direction(dir)
	rec.Status = trade.Status(status)
	rec.Reason = Reason(reason)
	return rec, err
}

// GetTrade returns one trade of a run.
func (j *SQLiteJournal) GetTrade(runID string, tradeID int64) (TradeRecord, error) {
	row := j.db.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE run_id = ? AND trade_id = ?`, runID, tradeID)
	rec, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRecord{}, fmt.Errorf("%w: trade %d in run %q", ErrNotFound, tradeID, runID)
	}
	return rec, err
}

func (j *SQLiteJournal) ListTradesByRunID(ctx context.Context, runID string) ([]TradeRecord, error) {
	return j.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE run_id = ? ORDER BY close_time, trade_id`, runID)
}

// ListTradesClosedBetween returns trades of every run whose close time is
// within [start, end).
func (j *SQLiteJournal) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	return j.queryTrades(context.Background(),
		`SELECT `+tradeColumns+` FROM trades WHERE close_time >= ? AND close_time < ? ORDER BY close_time, trade_id`,
		start, end)
}

func (j *SQLiteJournal) queryTrades(ctx context.Context, q string, args ...any) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) ListEquityByRunID(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, time, balance, equity, margin_used, open_trades
		FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.OpenTrades); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const runColumns = `run_id, created, dataset, instrument, strategy, config, start_time, end_time,
	start_balance, end_balance, trades, wins, losses, net_pl, return_pct,
	win_rate, profit_factor, max_dd_pct`

func scanRun(s scanner) (RunRecord, error) {
	var (
		r   RunRecord
		cfg string
	)
	err := s.Scan(
		&r.RunID, &r.Created, &r.Dataset, &r.Instrument, &r.Strategy, &cfg, &r.Start, &r.End,
		&r.StartBalance, &r.EndBalance, &r.Trades, &r.Wins, &r.Losses, &r.NetPL, &r.ReturnPct,
		&r.WinRate, &r.ProfitFactor, &r.MaxDDPct,
	)
	r.Config = []byte(cfg)
	return r, err
}

func (j *SQLiteJournal) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	return r, err
}

// ListRuns returns every run, newest first.
func (j *SQLiteJournal) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
