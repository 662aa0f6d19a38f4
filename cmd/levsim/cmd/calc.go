package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/levsim/margin"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var calcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Size a leveraged order without opening it",
	Long: `Compute quantity, notional, margin and the estimated liquidation price of
an order. Give exactly one of --quantity and --margin. With --mark the
unrealized PnL at that price is reported as well.

Examples:
  levsim calc --side long --price 105000 --quantity 0.01 --leverage 10
  levsim calc --side short --price 2000 --margin 100 --leverage 5 --mark 1900`,
	Args: cobra.NoArgs,
	RunE: runCalc,
}

var (
	calcSide     string
	calcPrice    string
	calcQuantity string
	calcMargin   string
	calcLeverage string
	calcMark     string
	calcJSON     bool
)

func init() {
	rootCmd.AddCommand(calcCmd)

	calcCmd.Flags().StringVar(&calcSide, "side", "long", "LONG/SHORT (or BUY/SELL)")
	calcCmd.Flags().StringVar(&calcPrice, "price", "", "entry price (required)")
	calcCmd.Flags().StringVar(&calcQuantity, "quantity", "", "base-asset quantity")
	calcCmd.Flags().StringVar(&calcMargin, "margin", "", "margin to commit, in quote currency")
	calcCmd.Flags().StringVar(&calcLeverage, "leverage", "1", "leverage multiplier")
	calcCmd.Flags().StringVar(&calcMark, "mark", "", "optional mark price for PnL")
	calcCmd.Flags().BoolVar(&calcJSON, "json", false, "print JSON instead of text")
	calcCmd.MarkFlagRequired("price")
	calcCmd.MarkFlagsMutuallyExclusive("quantity", "margin")
	calcCmd.MarkFlagsOneRequired("quantity", "margin")
}

type calcResult struct {
	Side market.Side `json:"side"`
	margin.Sizing
	Mark       *decimal.Decimal `json:"mark,omitempty"`
	PnL        *decimal.Decimal `json:"pnl,omitempty"`
	PnLPercent *decimal.Decimal `json:"pnlPercent,omitempty"`
}

func runCalc(cmd *cobra.Command, args []string) error {
	side, err := market.ParseSide(calcSide)
	if err != nil {
		return err
	}
	price, err := parseDecimalFlag("price", calcPrice)
	if err != nil {
		return err
	}
	lev, err := parseDecimalFlag("leverage", calcLeverage)
	if err != nil {
		return err
	}

	req := margin.Request{Side: side, BasePrice: price, Leverage: lev, Mode: margin.QuantityMode}
	if calcMargin != "" {
		req.Mode = margin.MarginMode
		req.Amount, err = parseDecimalFlag("margin", calcMargin)
	} else {
		req.Amount, err = parseDecimalFlag("quantity", calcQuantity)
	}
	if err != nil {
		return err
	}

	s, err := margin.Calculate(req)
	if err != nil {
		return err
	}

	res := calcResult{Side: side, Sizing: s}
	if calcMark != "" {
		mark, err := parseDecimalFlag("mark", calcMark)
		if err != nil {
			return err
		}
		pnl := margin.UnrealizedPnL(side, price, s.Quantity, mark)
		pct := margin.PnLPercent(pnl, s.Margin)
		res.Mark, res.PnL, res.PnLPercent = &mark, &pnl, &pct
	}

	out := cmd.OutOrStdout()
	if calcJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "%s %s @ %s x%s\n", side.OrderLabel(), side, price, lev)
	fmt.Fprintf(out, "  Quantity:    %s\n", s.Quantity)
	fmt.Fprintf(out, "  Notional:    %s\n", s.Notional.StringFixed(2))
	fmt.Fprintf(out, "  Margin:      %s\n", s.Margin.StringFixed(2))
	fmt.Fprintf(out, "  Liquidation: %s\n", s.LiquidationPrice.StringFixed(2))
	if res.PnL != nil {
		fmt.Fprintf(out, "  PnL @ %s: %s (%s%%)\n", res.Mark, res.PnL.StringFixed(2), res.PnLPercent.StringFixed(2))
	}
	return nil
}

func parseDecimalFlag(name, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}
