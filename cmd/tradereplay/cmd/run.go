package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradereplay/config"
	"github.com/rustyeddy/tradereplay/internal/id"
	"github.com/rustyeddy/tradereplay/internal/logging"
	"github.com/rustyeddy/tradereplay/journal"
	"github.com/rustyeddy/tradereplay/pricing"
	"github.com/rustyeddy/tradereplay/report"
	"github.com/rustyeddy/tradereplay/session"
	"github.com/rustyeddy/tradereplay/sim"
	"github.com/rustyeddy/tradereplay/strategies"
	"github.com/rustyeddy/tradereplay/trade"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a candle series through a strategy",
	Long: `Replay candles from a CSV file or a generated random walk through the
simulated account, running a strategy on every tick.

Without -f the built-in defaults are used. Flags override the file.

Examples:
  tradereplay run --fast
  tradereplay run -f replay.yaml
  tradereplay run --data data/EUR_USD.csv --strategy ema-cross --fast --journal sqlite --db runs.db`,
	RunE: runRun,
}

var (
	runConfigPath string
	runDataFile   string
	runStrategy   string
	runFast       bool
	runSpeed      string
	runJournal    string
	runDBPath     string
	runOrgFile    string
	runShowTrades bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON)")
	f.StringVar(&runDataFile, "data", "", "CSV candle file to replay instead of the configured source")
	f.StringVar(&runStrategy, "strategy", "", "strategy name ("+joinNames()+")")
	f.BoolVar(&runFast, "fast", false, "replay without pacing")
	f.StringVar(&runSpeed, "speed", "", "time between candles, e.g. 100ms")
	f.StringVar(&runJournal, "journal", "", "journal type: csv|sqlite|none")
	f.StringVar(&runDBPath, "db", "", "SQLite journal path")
	f.StringVar(&runOrgFile, "org", "", "write the run summary as an Org-mode file")
	f.BoolVar(&runShowTrades, "trades", false, "print every trade after the summary")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := runConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("log-format") {
		logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := replayRun(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Interrupted {
		fmt.Fprintln(out, "Replay interrupted, partial results:")
	}
	fmt.Fprintf(out, "Run %s\n", res.RunID)
	res.Summary.Print(out)
	if runShowTrades {
		report.PrintTrades(out, res.Trades)
	}
	printJournalTarget(out, cfg.Journal)
	return nil
}

// runConfig loads the config file, or the defaults, and applies flag
// overrides on top.
func runConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if runConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(runConfigPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if runDataFile != "" {
		cfg.Replay.DataFile = runDataFile
		cfg.Replay.Synthetic = nil
	}
	if runStrategy != "" {
		cfg.Strategy.Name = runStrategy
	}
	if flags.Changed("fast") {
		cfg.Replay.Fast = runFast
	}
	if runSpeed != "" {
		cfg.Replay.Speed = runSpeed
	}
	if runJournal != "" {
		cfg.Journal.Type = runJournal
	}
	if runDBPath != "" {
		cfg.Journal.DBPath = runDBPath
	}
	if runOrgFile != "" {
		cfg.Journal.OrgFile = runOrgFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type runResult struct {
	RunID       string
	Summary     report.Summary
	Trades      []trade.Trade
	Interrupted bool
}

// replayRun plays one configured replay to the end, journals it and
// summarizes it. A cancelled ctx stops the replay early; what was
// replayed so far is still journaled and summarized.
func replayRun(ctx context.Context, cfg *config.Config) (*runResult, error) {
	series, dataset, err := loadSeries(cfg.Replay)
	if err != nil {
		return nil, err
	}
	strat, err := strategies.ByName(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		return nil, err
	}
	speed, err := cfg.SpeedDuration()
	if err != nil {
		return nil, err
	}

	runID := id.NewRunID()
	logger := logging.Component("run").WithFields(log.Fields{
		"run_id":   runID,
		"strategy": cfg.Strategy.Name,
	})

	j, err := openJournal(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	if j != nil {
		defer j.Close()
	}

	curve := &report.Curve{}
	opts := []session.Option{
		session.WithStrategy(strat),
		session.WithSpeed(speed),
		session.WithCloseAtEnd(cfg.Replay.CloseAtEnd),
		session.WithLogger(logger),
		session.WithObserver(func(t strategies.Tick, a sim.Account) {
			curve.Add(t.Candle.Time, a.Equity)
		}),
	}

	var rec *journal.Recorder
	if j != nil {
		rec = journal.NewRecorder(j, runID, series.Instrument,
			journal.WithEquityEvery(cfg.Journal.EquityEvery),
			journal.WithRecorderLogger(logger),
		)
		opts = append(opts, session.WithObserver(func(t strategies.Tick, a sim.Account) {
			rec.RecordAccount(t.Candle.Time, a)
		}))
	}

	s, err := session.New(series, cfg.Sim(), opts...)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		s.Engine().Subscribe(rec)
	}

	logger.WithFields(log.Fields{
		"dataset": dataset,
		"candles": series.Len(),
		"fast":    cfg.Replay.Fast,
	}).Info("replay starting")

	started := time.Now()
	if cfg.Replay.Fast {
		err = s.FastForward(ctx)
	} else {
		err = s.Run(ctx)
	}
	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !interrupted {
		return nil, err
	}

	sum := report.Summarize(s.Engine(), curve)
	sum.Instrument = series.Instrument
	sum.Strategy = cfg.Strategy.Name

	if rec != nil {
		if err := rec.Err(); err != nil {
			logger.WithError(err).Warn("journal incomplete")
		}
	}

	params, err := json.Marshal(cfg.Strategy.Params)
	if err != nil {
		return nil, fmt.Errorf("encode strategy params: %w", err)
	}
	run := sum.Run(runID, dataset, params, started)
	if interrupted {
		run.Notes = append(run.Notes, "interrupted before the last candle")
	}
	if rj, ok := j.(journal.RunJournal); ok {
		if err := rj.RecordRun(run); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}
	if cfg.Journal.OrgFile != "" {
		if err := run.SaveOrg(cfg.Journal.OrgFile); err != nil {
			return nil, fmt.Errorf("write org file: %w", err)
		}
	}

	logger.WithFields(log.Fields{
		"trades":  sum.Trades,
		"net_pnl": sum.NetPnL,
		"elapsed": time.Since(started).Round(time.Millisecond),
	}).Info("replay finished")

	return &runResult{
		RunID:       runID,
		Summary:     sum,
		Trades:      s.Engine().Trades(),
		Interrupted: interrupted,
	}, nil
}

// loadSeries reads the configured data file or generates the configured
// random walk. The second result names the data for the run record.
func loadSeries(rc config.ReplayConfig) (*pricing.Series, string, error) {
	if rc.DataFile != "" {
		series, err := pricing.LoadCSV(rc.DataFile)
		if err != nil {
			return nil, "", fmt.Errorf("load candles: %w", err)
		}
		if rc.Instrument != "" {
			series.Instrument = rc.Instrument
		}
		return series, rc.DataFile, nil
	}

	syn := rc.Synthetic
	if syn == nil {
		return nil, "", errors.New("no data file or synthetic series configured")
	}
	step, err := syn.IntervalDuration()
	if err != nil {
		return nil, "", err
	}
	series := pricing.RandomWalk(syn.Candles, syn.StartPrice, step, syn.Seed)
	if rc.Instrument != "" {
		series.Instrument = rc.Instrument
	}
	dataset := fmt.Sprintf("synthetic candles=%d seed=%d", syn.Candles, syn.Seed)
	return series, dataset, nil
}

// openJournal returns nil, and no error, when journaling is off.
func openJournal(jc config.JournalConfig) (journal.Journal, error) {
	switch jc.Type {
	case "csv":
		return journal.NewCSV(jc.TradesFile, jc.EquityFile)
	case "sqlite":
		return journal.NewSQLite(jc.DBPath)
	default:
		return nil, nil
	}
}

func printJournalTarget(out io.Writer, jc config.JournalConfig) {
	switch jc.Type {
	case "csv":
		fmt.Fprintf(out, "\nResults saved to:\n  - %s\n  - %s\n", jc.TradesFile, jc.EquityFile)
	case "sqlite":
		fmt.Fprintf(out, "\nResults saved to: %s\n", jc.DBPath)
	}
	if jc.OrgFile != "" {
		fmt.Fprintf(out, "Run summary: %s\n", jc.OrgFile)
	}
}
