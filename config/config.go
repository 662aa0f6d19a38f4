package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rustyeddy/levsim/feed"
	"github.com/rustyeddy/levsim/ledger"
	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// LEVSIM_ACCOUNT_CASH or LEVSIM_FEED_SYMBOLS.
const EnvPrefix = "LEVSIM"

// Config represents the complete simulation configuration
type Config struct {
	Account       AccountConfig      `json:"account" yaml:"account"`
	Journal       JournalConfig      `json:"journal" yaml:"journal"`
	Feed          FeedConfig         `json:"feed" yaml:"feed"`
	Watcher       WatcherConfig      `json:"watcher" yaml:"watcher"`
	Limits        LimitsConfig       `json:"limits" yaml:"limits"`
	InitialPrices map[string]decimal.Decimal `json:"initial_prices,omitempty" yaml:"initial_prices,omitempty" split_words:"true"`
	Orders        []OrderConfig      `json:"orders,omitempty" yaml:"orders,omitempty" ignored:"true"`
	PriceSteps    []PriceStep        `json:"price_steps,omitempty" yaml:"price_steps,omitempty" ignored:"true"`
	Notify        NotifyConfig       `json:"notify,omitempty" yaml:"notify,omitempty"`
	Log           LogConfig          `json:"log" yaml:"log"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Currency string          `json:"currency" yaml:"currency"`
	Cash     decimal.Decimal `json:"cash" yaml:"cash"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type             string `json:"type" yaml:"type"` // "csv", "sqlite", "postgres" or "none"
	TradesFile       string `json:"trades_file,omitempty" yaml:"trades_file,omitempty" split_words:"true"`
	EquityFile       string `json:"equity_file,omitempty" yaml:"equity_file,omitempty" split_words:"true"`
	TransactionsFile string `json:"transactions_file,omitempty" yaml:"transactions_file,omitempty" split_words:"true"`
	DBPath           string `json:"db_path,omitempty" yaml:"db_path,omitempty" split_words:"true"`
	DSN              string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// FeedConfig selects where mark prices come from.
type FeedConfig struct {
	Type       string   `json:"type" yaml:"type"` // "steps", "binance" or "replay"
	URL        string   `json:"url,omitempty" yaml:"url,omitempty"`
	Symbols    []string `json:"symbols,omitempty" yaml:"symbols,omitempty"`
	ReplayFile string   `json:"replay_file,omitempty" yaml:"replay_file,omitempty" split_words:"true"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty" split_words:"true"`
}

type WatcherConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Liquidation bool `json:"liquidation" yaml:"liquidation"`
}

type LimitsConfig struct {
	MaxLeverage decimal.Decimal `json:"max_leverage" yaml:"max_leverage" split_words:"true"` // 0 = no limit
}

// OrderConfig is an order placed when the run starts. Exactly one of
// Quantity and Margin is set.
type OrderConfig struct {
	Symbol     string           `json:"symbol" yaml:"symbol"`
	Side       string           `json:"side" yaml:"side"`
	OrderType  string           `json:"order_type,omitempty" yaml:"order_type,omitempty"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty" yaml:"limit_price,omitempty"`
	Quantity   decimal.Decimal  `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Margin     decimal.Decimal  `json:"margin,omitempty" yaml:"margin,omitempty"`
	Leverage   decimal.Decimal  `json:"leverage" yaml:"leverage"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
}

// PriceStep represents a price update in the simulation
type PriceStep struct {
	Symbol string          `json:"symbol" yaml:"symbol"`
	Price  decimal.Decimal `json:"price" yaml:"price"`
	Delay  string          `json:"delay,omitempty" yaml:"delay,omitempty"` // e.g., "1h", "30m", "1s"
}

// NotifyConfig sends watcher closes to a Discord channel webhook when set.
type NotifyConfig struct {
	DiscordWebhook string `json:"discord_webhook,omitempty" yaml:"discord_webhook,omitempty" split_words:"true"`
}

// LogConfig controls the slog handler and the optional rotating log file.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" split_words:"true"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" split_words:"true"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty" split_words:"true"`
}

// ParseDuration converts the delay string to time.Duration
func (ps PriceStep) ParseDuration() (time.Duration, error) {
	if ps.Delay == "" {
		return 0, nil
	}
	return time.ParseDuration(ps.Delay)
}

// Load reads path, applies .env and LEVSIM_* overrides on top and validates
// the result.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file (YAML or JSON) without
// environment overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv loads envFiles (".env" when none are given) into the process
// environment and then overrides cfg from LEVSIM_* variables. Missing env
// files are ignored and variables already set win over the files.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if !c.Account.Cash.IsPositive() {
		return fmt.Errorf("account.cash must be positive")
	}

	switch c.Journal.Type {
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" || c.Journal.TransactionsFile == "" {
			return fmt.Errorf("journal trades_file, equity_file and transactions_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for postgres type")
		}
	case "none", "":
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite', 'postgres' or 'none'")
	}

	switch c.Feed.Type {
	case "steps", "":
	case "binance":
		if len(c.Feed.Symbols) == 0 {
			return fmt.Errorf("feed.symbols required for binance feed")
		}
	case "replay":
		if c.Feed.ReplayFile == "" {
			return fmt.Errorf("feed.replay_file required for replay feed")
		}
	default:
		return fmt.Errorf("feed.type must be 'steps', 'binance' or 'replay'")
	}

	if !c.Limits.MaxLeverage.IsZero() && c.Limits.MaxLeverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("limits.max_leverage must be at least 1 (or 0 for no limit)")
	}

	for sym, px := range c.InitialPrices {
		if !px.IsPositive() {
			return fmt.Errorf("initial_prices.%s must be positive", sym)
		}
	}

	for i, o := range c.Orders {
		if err := c.validateOrder(o); err != nil {
			return fmt.Errorf("orders[%d]: %w", i, err)
		}
	}

	for i, ps := range c.PriceSteps {
		if ps.Symbol == "" {
			return fmt.Errorf("price_steps[%d].symbol is required", i)
		}
		if !ps.Price.IsPositive() {
			return fmt.Errorf("price_steps[%d].price must be positive", i)
		}
		if _, err := ps.ParseDuration(); err != nil {
			return fmt.Errorf("price_steps[%d].delay: %w", i, err)
		}
	}

	if c.Notify.DiscordWebhook != "" && !strings.HasPrefix(c.Notify.DiscordWebhook, "http") {
		return fmt.Errorf("notify.discord_webhook must be an http(s) URL")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

func (c *Config) validateOrder(o OrderConfig) error {
	if o.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if _, err := market.ParseSide(o.Side); err != nil {
		return err
	}
	ot, err := market.ParseOrderType(o.OrderType)
	if err != nil {
		return err
	}
	if o.Quantity.IsPositive() == o.Margin.IsPositive() {
		return fmt.Errorf("exactly one of quantity and margin must be positive")
	}
	if o.Quantity.IsNegative() || o.Margin.IsNegative() {
		return fmt.Errorf("quantity and margin must not be negative")
	}
	if o.Leverage.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("leverage must be at least 1")
	}
	if c.Limits.MaxLeverage.IsPositive() && o.Leverage.GreaterThan(c.Limits.MaxLeverage) {
		return fmt.Errorf("leverage %s exceeds limits.max_leverage %s", o.Leverage, c.Limits.MaxLeverage)
	}
	if meta, err := market.Lookup(o.Symbol); err == nil && meta.MaxLeverage > 0 && o.Leverage.GreaterThan(decimal.NewFromInt(int64(meta.MaxLeverage))) {
		return fmt.Errorf("leverage %s exceeds %s maximum of %d", o.Leverage, meta.Symbol, meta.MaxLeverage)
	}
	switch ot {
	case market.Limit:
		if o.LimitPrice == nil || !o.LimitPrice.IsPositive() {
			return fmt.Errorf("limit_price must be positive for LIMIT orders")
		}
	case market.Market:
		if o.LimitPrice != nil {
			return fmt.Errorf("limit_price is not allowed on MARKET orders")
		}
	}
	if o.TakeProfit != nil && !o.TakeProfit.IsPositive() {
		return fmt.Errorf("take_profit must be positive")
	}
	if o.StopLoss != nil && !o.StopLoss.IsPositive() {
		return fmt.Errorf("stop_loss must be positive")
	}
	return nil
}

// Intent converts the order into a ledger intent.
func (o OrderConfig) Intent() (ledger.Intent, error) {
	side, err := market.ParseSide(o.Side)
	if err != nil {
		return ledger.Intent{}, err
	}
	ot, err := market.ParseOrderType(o.OrderType)
	if err != nil {
		return ledger.Intent{}, err
	}

	in := ledger.Intent{
		Symbol:     o.Symbol,
		Side:       side,
		OrderType:  ot,
		Leverage:   o.Leverage,
		LimitPrice: decPtr(o.LimitPrice),
		TakeProfit: decPtr(o.TakeProfit),
		StopLoss:   decPtr(o.StopLoss),
	}
	if o.Margin.IsPositive() {
		in.Mode = margin.MarginMode
		in.Amount = o.Margin
	} else {
		in.Mode = margin.QuantityMode
		in.Amount = o.Quantity
	}
	return in, nil
}

// Steps converts the configured price steps into a feed.
func (c *Config) Steps() (feed.Steps, error) {
	out := feed.Steps{Steps: make([]feed.Step, 0, len(c.PriceSteps))}
	for i, ps := range c.PriceSteps {
		delay, err := ps.ParseDuration()
		if err != nil {
			return feed.Steps{}, fmt.Errorf("price_steps[%d].delay: %w", i, err)
		}
		out.Steps = append(out.Steps, feed.Step{
			Symbol: ps.Symbol,
			Price:  ps.Price,
			Delay:  delay,
		})
	}
	return out, nil
}

func decPtr(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := *v
	return &d
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(v int64) *decimal.Decimal {
	d := dec(v)
	return &d
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USDT",
			Cash:     dec(10000),
		},
		Journal: JournalConfig{
			Type:             "csv",
			TradesFile:       "./trades.csv",
			EquityFile:       "./equity.csv",
			TransactionsFile: "./transactions.csv",
		},
		Feed: FeedConfig{
			Type:    "steps",
			URL:     feed.DefaultBinanceURL,
			Symbols: []string{"BTCUSDT", "ETHUSDT"},
		},
		Watcher: WatcherConfig{
			Enabled:     true,
			Liquidation: true,
		},
		Limits: LimitsConfig{
			MaxLeverage: dec(125),
		},
		InitialPrices: map[string]decimal.Decimal{
			"BTCUSDT": dec(105000),
			"ETHUSDT": dec(2000),
		},
		Orders: []OrderConfig{
			{Symbol: "BTCUSDT", Side: "LONG", Quantity: decimal.New(1, -2), Leverage: dec(10), TakeProfit: ptr(110000), StopLoss: ptr(100000)},
			{Symbol: "ETHUSDT", Side: "SHORT", Margin: dec(100), Leverage: dec(5)},
		},
		PriceSteps: []PriceStep{
			{Symbol: "BTCUSDT", Price: dec(106500), Delay: "1s"},
			{Symbol: "ETHUSDT", Price: dec(1950)},
			{Symbol: "BTCUSDT", Price: dec(110250), Delay: "1s"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
