package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rustyeddy/levsim/config"
	"github.com/rustyeddy/levsim/feed"
	"github.com/rustyeddy/levsim/internal/logging"
	"github.com/rustyeddy/levsim/journal"
	"github.com/rustyeddy/levsim/ledger"
	"github.com/rustyeddy/levsim/market"
	"github.com/rustyeddy/levsim/notify"
	"github.com/rustyeddy/levsim/replay"
	"github.com/rustyeddy/levsim/watcher"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation from a config file",
	Long: `Run a leveraged trading simulation using settings from a configuration file.

The config file specifies the account, the journal, the orders placed at start
and where mark prices come from: scripted price steps, a replay CSV or the live
Binance trade stream. LEVSIM_* environment variables override file values.

Example:
  levsim run -f examples/configs/basic.yaml`,
	RunE: runRun,
}

var (
	runConfigPath string
	runCloseAll   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	runCmd.Flags().BoolVar(&runCloseAll, "close-all", false, "close every open position at its last mark when the feed ends")
	runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(runConfigPath, envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closer, err := logging.Setup(logOptions(cfg.Log))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()

	fmt.Fprintf(out, "Running simulation with config: %s\n", runConfigPath)
	fmt.Fprintf(out, "  Account: %s (Cash: %s %s)\n", cfg.Account.ID, cfg.Account.Cash.StringFixed(2), cfg.Account.Currency)
	fmt.Fprintf(out, "  Feed: %s  Journal: %s  Watcher: %t\n\n", cfg.Feed.Type, journalType(cfg.Journal), cfg.Watcher.Enabled)

	j, err := openJournal(cmd.Context(), cfg.Journal)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	defer j.Close()

	l := ledger.New(ledger.Account{
		ID:       cfg.Account.ID,
		Currency: cfg.Account.Currency,
		Cash:     cfg.Account.Cash,
	}, j, ledger.WithMaxLeverage(cfg.Limits.MaxLeverage))

	if err := seedPrices(l, cfg.InitialPrices); err != nil {
		return err
	}

	var h feed.Handler = feed.HandlerFunc(func(_ context.Context, t market.Tick) error {
		return l.MarkPrice(t.Symbol, t.Price, t.Time)
	})
	if cfg.Watcher.Enabled {
		opts := []watcher.Option{
			watcher.WithLiquidation(cfg.Watcher.Liquidation),
			watcher.WithListener(closePrinter{out}),
		}
		if cfg.Notify.DiscordWebhook != "" {
			opts = append(opts, watcher.WithListener(notify.NewDiscord(cfg.Notify.DiscordWebhook)))
		}
		h = watcher.New(l, opts...)
	}

	for i, o := range cfg.Orders {
		in, err := o.Intent()
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		p, err := l.Open(in)
		if err != nil {
			return fmt.Errorf("order %d: %w", i, err)
		}
		printPosition(out, "Opened", p)
	}
	fmt.Fprintln(out)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := drive(ctx, cfg, l, h); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("feed: %w", err)
	}

	if runCloseAll {
		results, err := l.CloseAll(ledger.ReasonManual)
		if err != nil {
			return fmt.Errorf("close all: %w", err)
		}
		for _, res := range results {
			printClose(out, res)
		}
	}

	fmt.Fprintln(out, "\nFinal Results:")
	printOpenBook(out, l)
	if s, err := l.Summary(); err != nil {
		acct := l.Account()
		fmt.Fprintf(out, "  Cash: %s  Realized PnL: %s (summary unavailable: %v)\n",
			acct.Cash.StringFixed(2), acct.RealizedPnL.StringFixed(2), err)
	} else {
		printSummary(out, s)
	}

	switch cfg.Journal.Type {
	case "csv":
		fmt.Fprintf(out, "\nResults saved to:\n  - %s\n  - %s\n  - %s\n",
			cfg.Journal.TradesFile, cfg.Journal.EquityFile, cfg.Journal.TransactionsFile)
	case "sqlite":
		fmt.Fprintf(out, "\nResults saved to: %s\n", cfg.Journal.DBPath)
	case "postgres":
		fmt.Fprintln(out, "\nResults saved to the postgres journal")
	}
	return nil
}

func drive(ctx context.Context, cfg *config.Config, l *ledger.Ledger, h feed.Handler) error {
	switch cfg.Feed.Type {
	case "binance":
		b := feed.NewBinanceStream(cfg.Feed.URL, cfg.Feed.Symbols)
		b.MaxRetries = cfg.Feed.MaxRetries
		return b.Run(ctx, h)
	case "replay":
		return replay.CSV(ctx, cfg.Feed.ReplayFile, l, h, replay.Options{TickThenEvent: true})
	default:
		steps, err := cfg.Steps()
		if err != nil {
			return err
		}
		return steps.Run(ctx, h)
	}
}

func seedPrices(l *ledger.Ledger, prices map[string]decimal.Decimal) error {
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	now := time.Now()
	for _, sym := range symbols {
		if err := l.MarkPrice(sym, prices[sym], now); err != nil {
			return fmt.Errorf("initial price %s: %w", sym, err)
		}
	}
	return nil
}

func openJournal(ctx context.Context, c config.JournalConfig) (journal.Journal, error) {
	switch c.Type {
	case "csv":
		return journal.NewCSV(c.TradesFile, c.EquityFile, c.TransactionsFile)
	case "sqlite":
		return journal.NewSQLite(c.DBPath)
	case "postgres":
		return journal.NewPostgres(ctx, c.DSN)
	default:
		return journal.Nop{}, nil
	}
}

func journalType(c config.JournalConfig) string {
	if c.Type == "" {
		return "none"
	}
	return c.Type
}

func logOptions(c config.LogConfig) logging.Options {
	level := c.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.Options{
		Level:      level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// closePrinter reports watcher closes as they happen.
type closePrinter struct{ w io.Writer }

func (p closePrinter) OnPositionClosed(res ledger.CloseResult) {
	printClose(p.w, res)
	slog.Debug("close reported", slog.String("id", res.Closed.ID))
}
