// market/instruments.go
package market

import (
	"fmt"
	"strings"
)

type InstrumentMeta struct {
	Symbol        string
	BaseAsset     string
	QuoteAsset    string
	PriceDecimals int32
	QtyDecimals   int32
	MaxLeverage   int64
}

// Instruments lists the USDT-margined pairs the simulator knows about.
var Instruments = map[string]InstrumentMeta{
	"BTCUSDT": {
		Symbol:        "BTCUSDT",
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		PriceDecimals: 2,
		QtyDecimals:   5,
		MaxLeverage:   100,
	},
	"ETHUSDT": {
		Symbol:        "ETHUSDT",
		BaseAsset:     "ETH",
		QuoteAsset:    "USDT",
		PriceDecimals: 2,
		QtyDecimals:   4,
		MaxLeverage:   100,
	},
	"SOLUSDT": {
		Symbol:        "SOLUSDT",
		BaseAsset:     "SOL",
		QuoteAsset:    "USDT",
		PriceDecimals: 3,
		QtyDecimals:   2,
		MaxLeverage:   50,
	},
}

// Lookup normalises the symbol ("btc/usdt", "BTC_USDT" -> "BTCUSDT") and
// returns its metadata.
func Lookup(symbol string) (InstrumentMeta, error) {
	s := strings.ToUpper(symbol)
	s = strings.NewReplacer("/", "", "_", "", "-", "").Replace(s)
	meta, ok := Instruments[s]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument %s", symbol)
	}
	return meta, nil
}
