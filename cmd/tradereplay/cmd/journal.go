package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradereplay/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query a SQLite replay journal",
	Long: `Query and display runs and trades recorded in a SQLite journal.

Subcommands:
  runs   - List recorded runs, newest first
  show   - Print one run as Org-mode, with its trades
  trade  - Print one trade of a run
  equity - Print the equity samples of a run
  day    - List trades of every run closed on a given day

Examples:
  tradereplay journal runs
  tradereplay journal show <run-id>
  tradereplay journal trade <run-id> 3
  tradereplay journal day 2024-01-02`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run and its trades as Org-mode",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <run-id> <trade-id>",
	Short: "Print one trade of a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runJournalTrade,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity <run-id>",
	Short: "Print the equity samples of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEquity,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day (UTC)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd, journalShowCmd, journalTradeCmd, journalEquityCmd, journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./tradereplay.sqlite", "path to SQLite journal DB")
}

func openDB() (*journal.SQLiteJournal, error) {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalRuns(cmd *cobra.Command, args []string) error {
	j, err := openDB()
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context())
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []journal.RunRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Created", "Strategy", "Instrument", "Trades", "Net P&L", "Return", "Max DD"})
	for _, r := range runs {
		table.Append([]string{
			r.RunID,
			r.Created.UTC().Format("2006-01-02 15:04"),
			r.Strategy,
			r.Instrument,
			strconv.Itoa(r.Trades),
			fmt.Sprintf("%.2f", r.NetPL),
			fmt.Sprintf("%.2f%%", r.ReturnPct),
			fmt.Sprintf("%.2f%%", r.MaxDDPct),
		})
	}
	table.Render()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := openDB()
	if err != nil {
		return err
	}
	defer j.Close()

	run, err := j.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	trades, err := j.ListTradesByRunID(cmd.Context(), run.RunID)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := run.WriteOrg(out); err != nil {
		return err
	}
	for _, t := range trades {
		fmt.Fprintln(out, journal.FormatTradeOrg(t))
	}
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	tradeID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("trade id %q: %w", args[1], err)
	}

	j, err := openDB()
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0], tradeID)
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	j, err := openDB()
	if err != nil {
		return err
	}
	defer j.Close()

	snaps, err := j.ListEquityByRunID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Time", "Balance", "Equity", "Margin", "Open"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, e := range snaps {
		table.Append([]string{
			e.Time.UTC().Format(time.RFC3339),
			fmt.Sprintf("%.2f", e.Balance),
			fmt.Sprintf("%.2f", e.Equity),
			fmt.Sprintf("%.2f", e.MarginUsed),
			strconv.Itoa(e.OpenTrades),
		})
	}
	table.Render()
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	start, end, err := dayBounds(time.UTC, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := openDB()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintf(out, "No trades closed on %s\n", args[0])
		return nil
	}
	for _, r := range recs {
		fmt.Fprintln(out, journal.FormatTradeOrg(r))
	}
	return nil
}

// dayBounds is [midnight, next midnight) of day in loc.
func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
