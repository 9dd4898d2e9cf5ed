// Package position owns the active position set: it opens positions on confirmed buys,
// watches exit conditions, closes on confirmed sells and records every closed trade once.
package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/exchange"
	"github.com/addhe/awan-t-bot-sub000/internal/governor"
	"github.com/addhe/awan-t-bot-sub000/internal/metrics"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/addhe/awan-t-bot-sub000/internal/persistence"
	"github.com/addhe/awan-t-bot-sub000/internal/strategy"
	"go.uber.org/zap"
)

// ErrPositionExists is returned by Open when the symbol already has a position.
var ErrPositionExists = errors.New("position already exists")

// PriceSource supplies recent prices without an exchange round trip.
type PriceSource interface {
	// Last returns the latest price for symbol if it is younger than maxAge.
	Last(symbol string, maxAge time.Duration) (float64, bool)
}

// Journal receives a copy of every closed trade.
type Journal interface {
	Record(ctx context.Context, trade models.ClosedTrade) error
}

// Restorer is implemented by gateways that simulate the account and must be told about
// positions recovered on startup.
type Restorer interface {
	RestorePositions(positions []models.Position)
}

// Option customises a Manager.
type Option func(*Manager)

// WithJournal mirrors closed trades into j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithPriceSource lets shutdown and summaries use cached prices no older than maxAge.
func WithPriceSource(p PriceSource, maxAge time.Duration) Option {
	return func(m *Manager) {
		m.prices = p
		m.priceMaxAge = maxAge
	}
}

// Manager is the position lifecycle manager. Positions move OPEN -> CLOSING -> CLOSED;
// a failed sell moves the position back to OPEN.
type Manager struct {
	gateway exchange.Gateway
	gov     *governor.Governor
	store   persistence.StatusStore
	journal Journal

	prices      PriceSource
	priceMaxAge time.Duration

	pairs   map[string]models.PairConfig
	trading models.TradingConfig
	logger  *zap.Logger

	mu        sync.RWMutex
	positions map[string]*models.Position
}

func NewManager(
	gateway exchange.Gateway,
	gov *governor.Governor,
	store persistence.StatusStore,
	pairs []models.PairConfig,
	trading models.TradingConfig,
	logger *zap.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		gateway:   gateway,
		gov:       gov,
		store:     store,
		pairs:     make(map[string]models.PairConfig, len(pairs)),
		trading:   trading,
		logger:    logger,
		positions: make(map[string]*models.Position),
	}
	for _, p := range pairs {
		m.pairs[p.Symbol] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load restores the active set saved by a previous run. A position caught mid-close is
// treated as still open. A simulating gateway is credited with the restored quantities.
func (m *Manager) Load(ctx context.Context) error {
	saved, err := m.store.LoadActiveTrades(ctx)
	if err != nil {
		return fmt.Errorf("load active trades: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range saved {
		pos := saved[i]
		if pos.State != models.StateOpen {
			m.logger.Sugar().Warnf("Restoring %s in state %q as OPEN", pos.Symbol, pos.State)
			pos.State = models.StateOpen
		}
		m.positions[pos.Symbol] = &pos
		saved[i] = pos
	}
	if r, ok := m.gateway.(Restorer); ok && len(saved) > 0 {
		r.RestorePositions(saved)
	}
	metrics.OpenPositions.Set(float64(len(m.positions)))
	if len(saved) > 0 {
		m.logger.Sugar().Infof("Restored %d active positions", len(saved))
	}
	return nil
}

// Open buys quantity of symbol at market and, once the fill is confirmed, adds the position.
// Zero risk levels fall back to the configured stop-loss and take-profit percentages.
func (m *Manager) Open(ctx context.Context, symbol string, quantity, entryPrice float64, levels models.RiskLevels, confidence float64) (*models.Position, error) {
	if m.Has(symbol) {
		return nil, fmt.Errorf("open %s: %w", symbol, ErrPositionExists)
	}

	clientID := exchange.NewClientOrderID()
	order, err := governor.Call(ctx, m.gov, governor.ClassOrder, "place_market_buy", func(ctx context.Context) (*models.Order, error) {
		return m.gateway.PlaceMarketBuy(ctx, symbol, quantity, clientID)
	})
	if err != nil {
		return nil, err
	}
	if !order.Filled() {
		return nil, apperr.Order("open "+symbol, fmt.Errorf("buy %s not filled (status %s)", clientID, order.Status))
	}

	price := entryPrice
	if order.AvgPrice > 0 {
		price = order.AvgPrice
	}
	if order.ExecutedQty > 0 {
		quantity = order.ExecutedQty
	}
	if levels.StopLoss <= 0 {
		levels.StopLoss = price * (1 - m.trading.StopLossPct)
	}
	if levels.TakeProfit <= 0 {
		levels.TakeProfit = price * (1 + m.trading.TakeProfitPct)
	}

	pos := &models.Position{
		Symbol:        symbol,
		Side:          models.Buy,
		EntryPrice:    price,
		Quantity:      quantity,
		StopLoss:      levels.StopLoss,
		TakeProfit:    levels.TakeProfit,
		EntryTime:     m.gov.Clock().Now(),
		Confidence:    confidence,
		State:         models.StateOpen,
		ClientOrderID: clientID,
	}

	m.mu.Lock()
	m.positions[symbol] = pos
	active := m.activeLocked()
	m.mu.Unlock()

	metrics.TradesOpened.Inc()
	metrics.OpenPositions.Set(float64(len(active)))
	m.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit),
		zap.Float64("confidence", confidence))

	m.saveActive(ctx, active)
	cp := *pos
	return &cp, nil
}

// Close sells the position for symbol and records the closed trade. Closing a symbol
// without an open position is a no-op that returns (nil, nil).
func (m *Manager) Close(ctx context.Context, symbol string, exitPrice float64, reason models.CloseReason) (*models.ClosedTrade, error) {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok || pos.State != models.StateOpen {
		m.mu.Unlock()
		return nil, nil
	}
	pos.State = models.StateClosing
	snapshot := *pos
	m.mu.Unlock()

	clientID := exchange.NewClientOrderID()
	order, err := governor.Call(ctx, m.gov, governor.ClassOrder, "place_market_sell", func(ctx context.Context) (*models.Order, error) {
		return m.gateway.PlaceMarketSell(ctx, symbol, snapshot.Quantity, clientID)
	})
	if err == nil && !order.Filled() {
		err = apperr.Order("close "+symbol, fmt.Errorf("sell %s not filled (status %s)", clientID, order.Status))
	}
	if err != nil {
		m.mu.Lock()
		pos.State = models.StateOpen
		m.mu.Unlock()
		m.logger.Sugar().Errorf("Failed to close %s (%s): %v", symbol, reason, err)
		return nil, err
	}

	if order.AvgPrice > 0 {
		exitPrice = order.AvgPrice
	}
	trade := m.record(ctx, symbol, exitPrice, reason)
	return trade, nil
}

// CheckExits evaluates every open position and closes those whose exit condition holds.
// Data errors skip the symbol; order, account and breaker errors end the check early.
func (m *Manager) CheckExits(ctx context.Context, engine strategy.Engine) ([]models.ClosedTrade, error) {
	var closed []models.ClosedTrade
	minHold := time.Duration(m.trading.MinHoldMinutes) * time.Minute

	for _, pos := range m.Active() {
		series, price, err := FetchSeries(ctx, m.gov, m.gateway, pos.Symbol, m.pairs[pos.Symbol].Timeframes, m.trading.OHLCVLimit)
		if err != nil {
			if apperr.AbortsCycle(err) {
				return closed, err
			}
			m.logger.Sugar().Warnf("Skipping exit check for %s: %v", pos.Symbol, err)
			continue
		}

		sig, err := engine.Analyze(pos.Symbol, series)
		if err != nil {
			m.logger.Sugar().Debugf("No exit signal for %s: %v", pos.Symbol, err)
			sig = models.Signal{Direction: models.SignalNeutral}
		}

		reason, exit := ExitReason(pos, sig, price, m.gov.Clock().Now(), minHold)
		if !exit {
			continue
		}
		trade, err := m.Close(ctx, pos.Symbol, price, reason)
		if err != nil {
			if apperr.AbortsCycle(err) {
				return closed, err
			}
			continue
		}
		if trade != nil {
			closed = append(closed, *trade)
		}
	}
	return closed, nil
}

// ExitReason decides whether pos should close at price. A sell signal wins over the
// stop-loss, which wins over the take-profit. Signal and take-profit exits wait for the
// minimum hold time; the stop-loss does not.
func ExitReason(pos models.Position, sig models.Signal, price float64, now time.Time, minHold time.Duration) (models.CloseReason, bool) {
	held := now.Sub(pos.EntryTime) >= minHold
	switch {
	case sig.Direction == models.SignalSell && held:
		return models.ReasonSignal, true
	case pos.StopLoss > 0 && price <= pos.StopLoss:
		return models.ReasonStopLoss, true
	case pos.TakeProfit > 0 && price >= pos.TakeProfit && held:
		return models.ReasonTakeProfit, true
	}
	return "", false
}

// FetchSeries loads the candles of every timeframe through the governor and returns them
// with the latest close of the shortest timeframe.
func FetchSeries(ctx context.Context, gov *governor.Governor, gw exchange.Gateway, symbol string, timeframes []string, limit int) (map[string][]models.Candle, float64, error) {
	if len(timeframes) == 0 {
		timeframes = []string{"1h"}
	}
	series := make(map[string][]models.Candle, len(timeframes))
	shortest := ""
	for _, tf := range timeframes {
		candles, err := governor.Call(ctx, gov, governor.ClassGeneral, "fetch_ohlcv", func(ctx context.Context) ([]models.Candle, error) {
			return gw.FetchOHLCV(ctx, symbol, tf, limit)
		})
		if err != nil {
			return nil, 0, err
		}
		series[tf] = candles
		if shortest == "" || strategy.TimeframeDuration(tf) < strategy.TimeframeDuration(shortest) {
			shortest = tf
		}
	}
	latest := series[shortest]
	if len(latest) == 0 {
		return nil, 0, fmt.Errorf("no %s candles for %s", shortest, symbol)
	}
	return series, latest[len(latest)-1].Close, nil
}

// Shutdown books every remaining position as closed at its last known price with reason
// bot_shutdown. No orders are sent.
func (m *Manager) Shutdown(ctx context.Context) []models.ClosedTrade {
	var closed []models.ClosedTrade
	for _, pos := range m.Active() {
		price := m.lastPrice(ctx, pos)
		if trade := m.record(ctx, pos.Symbol, price, models.ReasonBotShutdown); trade != nil {
			closed = append(closed, *trade)
		}
	}
	if len(closed) > 0 {
		m.logger.Sugar().Infof("Recorded %d positions as closed on shutdown", len(closed))
	}
	return closed
}

// lastPrice tries the price feed, then a ticker fetch, then falls back to the entry price.
func (m *Manager) lastPrice(ctx context.Context, pos models.Position) float64 {
	if m.prices != nil {
		if p, ok := m.prices.Last(pos.Symbol, m.priceMaxAge); ok {
			return p
		}
	}
	ticker, err := governor.Call(ctx, m.gov, governor.ClassGeneral, "fetch_ticker", func(ctx context.Context) (models.Ticker, error) {
		return m.gateway.FetchTicker(ctx, pos.Symbol)
	})
	if err == nil && ticker.LastPrice > 0 {
		return ticker.LastPrice
	}
	m.logger.Warn("no price for shutdown bookkeeping, using entry price",
		zap.String("symbol", pos.Symbol),
		zap.Error(err))
	return pos.EntryPrice
}

// record converts the position into a ClosedTrade, removes it and persists the result.
// It returns nil if the position was already removed.
func (m *Manager) record(ctx context.Context, symbol string, exitPrice float64, reason models.CloseReason) *models.ClosedTrade {
	m.mu.Lock()
	pos, ok := m.positions[symbol]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.positions, symbol)
	active := m.activeLocked()
	m.mu.Unlock()

	trade := models.ClosedTrade{
		Symbol:      symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		ProfitPct:   models.ProfitPct(pos.EntryPrice, exitPrice),
		EntryTime:   pos.EntryTime,
		ExitTime:    m.gov.Clock().Now(),
		CloseReason: reason,
	}

	metrics.TradesClosed.WithLabelValues(string(reason)).Inc()
	metrics.OpenPositions.Set(float64(len(active)))
	m.logger.Info("position closed",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.Float64("entry", trade.EntryPrice),
		zap.Float64("exit", exitPrice),
		zap.Float64("profit_pct", trade.ProfitPct))

	m.saveActive(ctx, active)
	if err := m.store.AppendClosedTrade(ctx, trade); err != nil {
		m.logger.Error("failed to persist closed trade", zap.String("symbol", symbol), zap.Error(err))
	}
	if m.journal != nil {
		if err := m.journal.Record(ctx, trade); err != nil {
			m.logger.Warn("failed to journal closed trade", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return &trade
}

func (m *Manager) saveActive(ctx context.Context, active []models.Position) {
	if err := m.store.SaveActiveTrades(ctx, active); err != nil {
		m.logger.Error("failed to persist active trades", zap.Error(err))
	}
}

// activeLocked returns copies of the positions sorted by symbol. Caller holds m.mu.
func (m *Manager) activeLocked() []models.Position {
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Active returns a snapshot of the open positions, sorted by symbol.
func (m *Manager) Active() []models.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Count is the number of positions in the active set, including ones being closed.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

func (m *Manager) Has(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.positions[symbol]
	return ok
}

// MarkPrice is the cached feed price of symbol, or ok=false when none is fresh.
func (m *Manager) MarkPrice(symbol string) (float64, bool) {
	if m.prices == nil {
		return 0, false
	}
	return m.prices.Last(symbol, m.priceMaxAge)
}

// Summary aggregates the active set at cached prices.
type Summary struct {
	Positions     int
	CostBasis     float64
	MarketValue   float64
	UnrealizedPnL float64
	UnrealizedPct float64
}

// Summary values positions at their feed price, or at entry when no fresh price exists.
func (m *Manager) Summary() Summary {
	var s Summary
	for _, pos := range m.Active() {
		price, ok := m.MarkPrice(pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		s.Positions++
		s.CostBasis += pos.EntryPrice * pos.Quantity
		s.MarketValue += price * pos.Quantity
	}
	s.UnrealizedPnL = s.MarketValue - s.CostBasis
	s.UnrealizedPct = models.ProfitPct(s.CostBasis, s.MarketValue)
	return s
}
