package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rustyeddy/levsim/market"
	"github.com/shopspring/decimal"
)

// DefaultBinanceURL is the public combined-stream endpoint.
const DefaultBinanceURL = "wss://stream.binance.com:9443/stream"

// BinanceStream subscribes to <symbol>@trade for every symbol and turns each
// trade into a tick. Dropped connections are redialled with exponential
// backoff until ctx is cancelled.
type BinanceStream struct {
	URL     string
	Symbols []string

	ReadTimeout  time.Duration
	PingInterval time.Duration
	// MaxRetries stops Run after that many consecutive failed dials. Zero
	// retries forever.
	MaxRetries int
	Backoff    func(retry int) time.Duration
	Log        *slog.Logger
}

func NewBinanceStream(baseURL string, symbols []string) *BinanceStream {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	return &BinanceStream{
		URL:          baseURL,
		Symbols:      symbols,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		Backoff:      Backoff,
		Log:          slog.Default(),
	}
}

// StreamURL builds the combined-stream url, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@trade/ethusdt@trade
func (b *BinanceStream) StreamURL() (string, error) {
	if len(b.Symbols) == 0 {
		return "", errors.New("binance: no symbols")
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return "", fmt.Errorf("binance: bad url %q: %w", b.URL, err)
	}
	streams := make([]string, 0, len(b.Symbols))
	for _, s := range b.Symbols {
		streams = append(streams, strings.ToLower(strings.TrimSpace(s))+"@trade")
	}
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	// Binance wants the separators unescaped
	u.RawQuery = strings.NewReplacer("%40", "@", "%2F", "/").Replace(u.RawQuery)
	return u.String(), nil
}

// Run streams until ctx is cancelled, which is not reported as an error.
func (b *BinanceStream) Run(ctx context.Context, h Handler) error {
	streamURL, err := b.StreamURL()
	if err != nil {
		return err
	}
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	backoff := b.Backoff
	if backoff == nil {
		backoff = Backoff
	}

	retry := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			retry++
			if b.MaxRetries > 0 && retry >= b.MaxRetries {
				return fmt.Errorf("binance: giving up after %d attempts: %w", retry, err)
			}
			delay := backoff(retry - 1)
			log.Warn("binance dial failed", slog.Any("err", err), slog.Int("retry", retry), slog.Duration("delay", delay))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		retry = 0
		log.Info("binance connected", slog.String("url", streamURL))
		err = b.session(ctx, conn, h, log)
		if ctx.Err() != nil {
			return nil
		}
		delay := backoff(0)
		log.Warn("binance stream dropped", slog.Any("err", err), slog.Duration("delay", delay))
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// session reads one connection until it fails or ctx ends.
func (b *BinanceStream) session(ctx context.Context, conn *websocket.Conn, h Handler, log *slog.Logger) error {
	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	if b.ReadTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(b.ReadTimeout))
		})
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		var ping <-chan time.Time
		if b.PingInterval > 0 {
			t := time.NewTicker(b.PingInterval)
			defer t.Stop()
			ping = t.C
		}
		for {
			select {
			case <-ctx.Done():
				closeConn()
				return
			case <-done:
				return
			case <-ping:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.Warn("binance ping failed", slog.Any("err", err))
					closeConn()
					return
				}
			}
		}
	}()

	for {
		if b.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(b.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok, err := ParseTrade(msg)
		if err != nil {
			log.Warn("binance bad message", slog.Any("err", err))
			continue
		}
		if !ok {
			continue
		}
		if err := h.OnTick(ctx, tick); err != nil {
			log.Error("tick handler", slog.String("symbol", tick.Symbol), slog.Any("err", err))
		}
	}
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeEvent is a Binance <symbol>@trade payload.
type tradeEvent struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
}

// ParseTrade decodes a combined or raw trade message. ok is false for
// anything that is not a trade, such as subscription replies.
func ParseTrade(msg []byte) (tick market.Tick, ok bool, err error) {
	var env combinedMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		return market.Tick{}, false, fmt.Errorf("binance: decode: %w", err)
	}
	payload := msg
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var ev tradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return market.Tick{}, false, fmt.Errorf("binance: decode trade: %w", err)
	}
	if ev.Event != "trade" {
		return market.Tick{}, false, nil
	}
	if ev.Symbol == "" || !ev.Price.IsPositive() {
		return market.Tick{}, false, fmt.Errorf("binance: trade without symbol or price: %s", msg)
	}

	return market.Tick{
		Symbol: strings.ToUpper(ev.Symbol),
		Price:  ev.Price,
		Time:   time.UnixMilli(ev.EventTime).UTC(),
	}, true, nil
}
