package cmd

import (
	"fmt"
	"time"

	"github.com/rustyeddy/levsim/internal/id"
	"github.com/rustyeddy/levsim/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display closed positions and cash movements from the trade journal.

Subcommands:
  trade        - Get details of a closed position by ID
  today        - List positions closed today
  day          - List positions closed on a specific day
  transactions - List margin deposits and withdrawals
  export       - Write closed positions to an Excel workbook

The journal is read from a SQLite file (--db) or, with --dsn, from PostgreSQL.

Examples:
  levsim journal trade <position-id>
  levsim journal today
  levsim journal day 2024-01-15
  levsim journal transactions <position-id>
  levsim journal export -o trades.xlsx --from 2024-01-01 --to 2024-01-31`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <position-id>",
	Short: "Get details of a closed position",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List positions closed today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List positions closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalTxCmd = &cobra.Command{
	Use:   "transactions [position-id]",
	Short: "List cash movements, optionally for one position",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalTransactions,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export closed positions to an .xlsx workbook",
	Args:  cobra.NoArgs,
	RunE:  runJournalExport,
}

var (
	journalDBPath string
	journalDSN    string

	exportOutput string
	exportFrom   string
	exportTo     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalTxCmd)
	journalCmd.AddCommand(journalExportCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./levsim.sqlite", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalDSN, "dsn", "", "PostgreSQL connection string (overrides --db)")

	journalExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "trades.xlsx", "output workbook path")
	journalExportCmd.Flags().StringVar(&exportFrom, "from", "", "first close day, YYYY-MM-DD (default: everything)")
	journalExportCmd.Flags().StringVar(&exportTo, "to", "", "last close day, YYYY-MM-DD (default: today)")
}

func openStore(cmd *cobra.Command) (journal.Store, error) {
	if journalDSN != "" {
		j, err := journal.NewPostgres(cmd.Context(), journalDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return j, nil
	}
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	if !id.Valid(args[0]) {
		return fmt.Errorf("invalid position id %q", args[0])
	}

	j, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
	return nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return listDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return listDay(cmd, args[0])
}

func listDay(cmd *cobra.Command, day string) error {
	j, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func runJournalTransactions(cmd *cobra.Command, args []string) error {
	j, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	var positionID string
	if len(args) == 1 {
		positionID = args[0]
	}

	txs, err := j.ListTransactions(positionID)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, tx := range txs {
		fmt.Fprintf(out, "%s  %-15s %s  %12s  %12s -> %12s  %s\n",
			tx.Time.UTC().Format(time.RFC3339), tx.Type, shortID(tx.PositionID),
			tx.Amount.StringFixed(2), tx.CashBefore.StringFixed(2), tx.CashAfter.StringFixed(2),
			tx.Description)
	}
	return nil
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	j, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	start := time.Unix(0, 0)
	if exportFrom != "" {
		if start, _, err = dayBounds(time.Local, exportFrom); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	to := exportTo
	if to == "" {
		to = time.Now().In(time.Local).Format("2006-01-02")
	}
	_, end, err := dayBounds(time.Local, to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	if err := journal.ExportXLSX(exportOutput, recs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d trades to %s\n", len(recs), exportOutput)
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
