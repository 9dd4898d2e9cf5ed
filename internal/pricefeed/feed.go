// Package pricefeed caches last prices from the Binance combined miniTicker stream.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type quote struct {
	price float64
	at    time.Time
}

// Feed keeps one websocket connection open for all symbols and reconnects on failure.
type Feed struct {
	url           string
	symbols       []string
	pingPeriod    time.Duration
	reconnectWait time.Duration
	logger        *zap.Logger

	mu     sync.RWMutex
	prices map[string]quote
}

func New(cfg models.PriceStreamConfig, symbols []string, logger *zap.Logger) *Feed {
	return &Feed{
		url:           cfg.URL,
		symbols:       symbols,
		pingPeriod:    time.Duration(cfg.PingIntervalSeconds) * time.Second,
		reconnectWait: time.Duration(cfg.ReconnectWaitSeconds) * time.Second,
		logger:        logger,
		prices:        make(map[string]quote),
	}
}

// Last returns the cached price of symbol if it was received within maxAge.
func (f *Feed) Last(symbol string, maxAge time.Duration) (float64, bool) {
	f.mu.RLock()
	q, ok := f.prices[symbol]
	f.mu.RUnlock()
	if !ok || time.Since(q.at) > maxAge {
		return 0, false
	}
	return q.price, true
}

// streamURL builds the combined stream URL, e.g. .../stream?streams=btcusdt@miniTicker/ethusdt@miniTicker.
func (f *Feed) streamURL() string {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	return f.url + "?streams=" + strings.Join(streams, "/")
}

// Run maintains the connection until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Sugar().Warnf("Price stream connect failed: %v. Retrying in %s", err, f.reconnectWait)
		} else {
			f.logger.Sugar().Infof("Price stream connected for %d symbols", len(f.symbols))
			if err := f.handleMessages(ctx, conn); err != nil && ctx.Err() == nil {
				f.logger.Sugar().Warnf("Price stream error: %v", err)
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			f.logger.Sugar().Info("Price stream stopped.")
			return
		case <-time.After(f.reconnectWait):
		}
	}
}

// handleMessages reads one connection until it breaks or ctx ends, with a ping heartbeat.
func (f *Feed) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	pongWait := 2 * f.pingPeriod
	if pongWait <= 0 {
		pongWait = time.Minute
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		var tick <-chan time.Time
		if f.pingPeriod > 0 {
			ticker := time.NewTicker(f.pingPeriod)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-tick:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					f.logger.Sugar().Debugf("Price stream ping failed: %v", err)
					return
				}
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if err := f.handle(message); err != nil {
			f.logger.Sugar().Debugf("Ignoring price message: %v", err)
		}
	}
}

type miniTickerEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string      `json:"s"`
		Close  json.Number `json:"c"`
	} `json:"data"`
}

func (f *Feed) handle(message []byte) error {
	var ev miniTickerEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return err
	}
	if ev.Data.Symbol == "" {
		return fmt.Errorf("no symbol in %q", ev.Stream)
	}
	price, err := ev.Data.Close.Float64()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.prices[ev.Data.Symbol] = quote{price: price, at: time.Now()}
	f.mu.Unlock()
	return nil
}
