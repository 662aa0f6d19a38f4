// Package notify pushes position closes to a Discord channel webhook.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	dwh "github.com/nat-echlin/dwhooks"
	"github.com/rustyeddy/levsim/ledger"
)

// Embed colours by close reason.
const (
	ColourProfit      = 0x2ecc71
	ColourLoss        = 0xe74c3c
	ColourLiquidation = 0x992d22
)

// Discord sends one embed per closed position. It satisfies
// watcher.ClosedListener.
type Discord struct {
	URL      string
	Username string
	log      *slog.Logger
}

func NewDiscord(url string) *Discord {
	return &Discord{URL: url, Username: "levsim", log: slog.Default()}
}

func (d *Discord) OnPositionClosed(res ledger.CloseResult) {
	if err := d.Send(res); err != nil {
		d.log.Warn("discord notify failed", slog.String("id", res.Closed.ID), slog.Any("err", err))
	}
}

// Send posts res and reports a non-2xx response as an error.
func (d *Discord) Send(res ledger.CloseResult) error {
	msg := Message(res)
	msg.SetUsername(d.Username)

	status, err := dwh.NewWebhook(d.URL).Send(msg)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("discord webhook: status %d", status)
	}
	return nil
}

// Message renders a close as a webhook message with a single embed.
func Message(res ledger.CloseResult) dwh.Message {
	c := res.Closed

	emb := dwh.NewEmbed()
	emb.SetTitle(fmt.Sprintf("%s %s closed (%s)", c.Symbol, c.Side, c.Reason))
	emb.SetDescription(c.ID)
	emb.SetColour(colour(res))
	emb.SetTimestamp(c.CloseTime.Unix())

	emb.AddField("Entry Price", c.EntryPrice.String(), true)
	emb.AddField("Exit Price", c.ExitPrice.String(), true)
	emb.AddField("Quantity", c.Quantity.String(), true)
	emb.AddField("Leverage", c.Leverage.String()+"x", true)
	emb.AddField("PnL", res.PnL.StringFixed(2), true)
	emb.AddField("Cash", res.CashAfter.StringFixed(2), true)
	emb.AddField("Held", c.CloseTime.Sub(c.OpenTime).Round(time.Second).String(), true)

	msg := dwh.NewMessage("")
	msg.AddEmbed(emb)
	return msg
}

func colour(res ledger.CloseResult) int {
	switch {
	case res.Closed.Reason == ledger.ReasonLiquidation:
		return ColourLiquidation
	case res.PnL.IsNegative():
		return ColourLoss
	default:
		return ColourProfit
	}
}
