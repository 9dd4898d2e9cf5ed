package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/governor"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/addhe/awan-t-bot-sub000/internal/persistence"
	"github.com/addhe/awan-t-bot-sub000/internal/position"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockGateway struct {
	mu         sync.Mutex
	balances   map[string]float64
	balanceErr error
	onBalances func(calls int)
	prices     map[string]float64
	ohlcvErr   error
	openOrders map[string][]models.Order

	balanceCalls int
	ohlcvCalls   int
	buys         []string
	sells        []string
	cancels      []int64
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		balances:   map[string]float64{"USDT": 1000},
		prices:     map[string]float64{},
		openOrders: map[string][]models.Order{},
	}
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ohlcvCalls++
	if g.ohlcvErr != nil {
		return nil, g.ohlcvErr
	}
	p := g.prices[symbol]
	return []models.Candle{{Open: p, High: p, Low: p, Close: p}}, nil
}

func (g *mockGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	g.mu.Lock()
	g.balanceCalls++
	calls := g.balanceCalls
	hook := g.onBalances
	g.mu.Unlock()
	if hook != nil {
		hook(calls)
	}
	return g.balances, g.balanceErr
}

func (g *mockGateway) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return models.Ticker{Symbol: symbol, LastPrice: g.prices[symbol]}, nil
}

func (g *mockGateway) PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buys = append(g.buys, symbol)
	return &models.Order{ClientOrderID: clientOrderID, Symbol: symbol, Status: models.OrderStatusFilled, ExecutedQty: quantity}, nil
}

func (g *mockGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sells = append(g.sells, symbol)
	return &models.Order{ClientOrderID: clientOrderID, Symbol: symbol, Status: models.OrderStatusFilled, ExecutedQty: quantity}, nil
}

func (g *mockGateway) CancelOrder(ctx context.Context, orderID int64, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, orderID)
	return nil
}

func (g *mockGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return g.openOrders[symbol], nil
}

type mockEngine struct {
	signals map[string]models.Signal
	calls   []string
}

func (e *mockEngine) Analyze(symbol string, series map[string][]models.Candle) (models.Signal, error) {
	e.calls = append(e.calls, symbol)
	if s, ok := e.signals[symbol]; ok {
		return s, nil
	}
	return models.Signal{Direction: models.SignalNeutral}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Send(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) Close(context.Context) error { return nil }

func (n *recordingNotifier) contains(substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

// --- Helpers ---

type fixture struct {
	bot      *TradingBot
	gw       *mockGateway
	engine   *mockEngine
	store    *persistence.BadgerStore
	notifier *recordingNotifier
	pm       *position.Manager
	clock    *fakeClock
}

func testConfig() *models.Config {
	return &models.Config{
		Trading: models.TradingConfig{
			QuoteCurrency:      "USDT",
			MaxOpenTrades:      3,
			MinConfidence:      0.6,
			AllocationPerTrade: 0.2,
			MaxAllocation:      1000,
			StopLossPct:        0.02,
			TakeProfitPct:      0.03,
			OHLCVLimit:         100,
		},
		System: models.SystemConfig{
			TargetCycleSeconds:  60,
			RetryWaitSeconds:    10,
			StatusDigestMinutes: 60,
		},
		Pairs: []models.PairConfig{
			{Symbol: "BTCUSDT", MinQuantity: 0.001, QuantityPrecision: 6, Timeframes: []string{"1h"}},
			{Symbol: "ETHUSDT", MinQuantity: 0.01, QuantityPrecision: 4, Timeframes: []string{"1h"}},
			{Symbol: "SOLUSDT", MinQuantity: 0.1, QuantityPrecision: 2, Timeframes: []string{"1h"}},
			{Symbol: "BNBUSDT", MinQuantity: 0.01, QuantityPrecision: 3, Timeframes: []string{"1h"}},
		},
	}
}

func setup(t *testing.T, cfg *models.Config) *fixture {
	t.Helper()
	store, err := persistence.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	gov := governor.New(governor.Config{
		MaxRequests:        1000,
		Window:             time.Minute,
		MaxOrdersPerSecond: 1000,
		ErrorThreshold:     100,
		CircuitTimeout:     time.Minute,
		InitialBackoff:     time.Second,
		MaxBackoff:         time.Second,
		BackoffFactor:      2,
		MaxAttempts:        1,
	}, zap.NewNop(), governor.WithClock(clock))

	gw := newMockGateway()
	engine := &mockEngine{signals: map[string]models.Signal{}}
	notifier := &recordingNotifier{}
	pm := position.NewManager(gw, gov, store, cfg.Pairs, cfg.Trading, zap.NewNop())
	b := NewTradingBot(cfg, gw, gov, pm, engine, store, notifier, zap.NewNop())
	return &fixture{bot: b, gw: gw, engine: engine, store: store, notifier: notifier, pm: pm, clock: clock}
}

func buy(confidence float64) models.Signal {
	return models.Signal{Direction: models.SignalBuy, Confidence: confidence}
}

// --- Tests ---

// TestRunCycleOpensConfidentBuy verifies a confident buy is sized, opened, notified and persisted.
func TestRunCycleOpensConfidentBuy(t *testing.T) {
	f := setup(t, testConfig())
	f.gw.prices["ETHUSDT"] = 100
	f.engine.signals["ETHUSDT"] = buy(0.8)

	report, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, 4, report.Evaluated)
	require.Len(t, report.Opened, 1)
	assert.Equal(t, "ETHUSDT", report.Opened[0].Symbol)
	// 1000 * 20% = 200 USDT at 100
	assert.Equal(t, 2.0, report.Opened[0].Quantity)
	assert.Equal(t, []string{"ETHUSDT"}, f.gw.buys)
	assert.True(t, f.notifier.contains("Opened ETHUSDT"))
	assert.True(t, f.notifier.contains("Bot status: OK"), "first cycle sends the digest")

	status, err := f.store.LoadStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.ActiveTrades)
	assert.Equal(t, "mock", status.Exchange)
}

// TestRunCycleMaxOpenTradesReached verifies no pair is evaluated for entry when all slots are used.
func TestRunCycleMaxOpenTradesReached(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.store.SaveActiveTrades(ctx, []models.Position{
		{Symbol: "BTCUSDT", EntryPrice: 100, Quantity: 1, StopLoss: 50, TakeProfit: 200, State: models.StateOpen},
		{Symbol: "ETHUSDT", EntryPrice: 100, Quantity: 1, StopLoss: 50, TakeProfit: 200, State: models.StateOpen},
		{Symbol: "SOLUSDT", EntryPrice: 100, Quantity: 1, StopLoss: 50, TakeProfit: 200, State: models.StateOpen},
	}))
	require.NoError(t, f.pm.Load(ctx))
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"} {
		f.gw.prices[s] = 100
		f.engine.signals[s] = buy(0.99)
	}

	report, err := f.bot.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evaluated)
	assert.Empty(t, report.Opened)
	assert.Empty(t, f.gw.buys)
	assert.NotContains(t, f.engine.calls, "BNBUSDT")
}

// TestRunCycleEntryBelowMinimum verifies a quantity under the pair minimum never reaches the exchange.
func TestRunCycleEntryBelowMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.Pairs = cfg.Pairs[:1]
	f := setup(t, cfg)
	f.gw.balances = map[string]float64{"USDT": 50}
	f.gw.prices["BTCUSDT"] = 35000
	f.engine.signals["BTCUSDT"] = buy(0.9)

	report, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Empty(t, report.Opened)
	assert.Empty(t, f.gw.buys)
	assert.Equal(t, 0, f.pm.Count())
}

func TestRunCycleConfidenceThreshold(t *testing.T) {
	testCases := []struct {
		name       string
		confidence float64
		opens      bool
	}{
		{"below threshold", 0.59, false},
		{"at threshold", 0.6, true},
		{"above threshold", 0.9, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Pairs = cfg.Pairs[1:2]
			f := setup(t, cfg)
			f.gw.prices["ETHUSDT"] = 100
			f.engine.signals["ETHUSDT"] = buy(tc.confidence)

			report, err := f.bot.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.opens, len(report.Opened) == 1)
		})
	}
}

// TestRunCycleStopsWhenSlotsFill verifies iteration ends once the last slot is taken.
func TestRunCycleStopsWhenSlotsFill(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MaxOpenTrades = 1
	f := setup(t, cfg)
	for _, s := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"} {
		f.gw.prices[s] = 10
		f.engine.signals[s] = buy(0.9)
	}

	report, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, []string{"BTCUSDT"}, f.gw.buys)
}

// TestRunCycleUnhealthy verifies an empty balance map ends the cycle before any market data call.
func TestRunCycleUnhealthy(t *testing.T) {
	f := setup(t, testConfig())
	f.gw.balances = map[string]float64{}

	report, err := f.bot.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, 0, f.gw.ohlcvCalls)

	status, err := f.store.LoadStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.LastError)
}

// TestRunCycleAbortsOnAccountError verifies account errors abort the cycle instead of skipping the pair.
func TestRunCycleAbortsOnAccountError(t *testing.T) {
	f := setup(t, testConfig())
	f.gw.ohlcvErr = apperr.Account("fetch_ohlcv", errors.New("invalid api key"))

	_, err := f.bot.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAccount))
	assert.Equal(t, 1, f.gw.ohlcvCalls)
}

// TestRunCycleClosesAndNotifies verifies an exit found in step 2 is notified.
func TestRunCycleClosesAndNotifies(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()
	require.NoError(t, f.store.SaveActiveTrades(ctx, []models.Position{
		{Symbol: "BTCUSDT", EntryPrice: 100, Quantity: 1, StopLoss: 95, TakeProfit: 110, State: models.StateOpen},
	}))
	require.NoError(t, f.pm.Load(ctx))
	f.gw.prices["BTCUSDT"] = 111

	report, err := f.bot.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, report.Closed, 1)
	assert.Equal(t, models.ReasonTakeProfit, report.Closed[0].CloseReason)
	assert.True(t, f.notifier.contains("Closed BTCUSDT (take_profit)"))
}

// TestRunRecoversFromCycleError verifies a failed cycle is notified, waits retry_wait and the loop continues.
func TestRunRecoversFromCycleError(t *testing.T) {
	f := setup(t, testConfig())
	f.gw.ohlcvErr = apperr.Order("fetch_ohlcv", errors.New("bad symbol"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onBalances = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}

	require.NoError(t, f.bot.Run(ctx))
	assert.Equal(t, 2, f.gw.balanceCalls)
	assert.True(t, f.notifier.contains("Cycle error"))
	require.NotEmpty(t, f.clock.slept)
	assert.Equal(t, 10*time.Second, f.clock.slept[0])
}

// TestRunSleepsRemainderOfTarget verifies a healthy cycle sleeps target minus elapsed.
func TestRunSleepsRemainderOfTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Pairs = nil
	f := setup(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gw.onBalances = func(calls int) {
		if calls == 2 {
			cancel()
		}
	}

	require.NoError(t, f.bot.Run(ctx))
	require.NotEmpty(t, f.clock.slept)
	assert.Equal(t, 60*time.Second, f.clock.slept[0])
}

// TestShutdownCancelsOrdersAndRecordsPositions verifies orders are cancelled and one bot_shutdown trade is written.
func TestShutdownCancelsOrdersAndRecordsPositions(t *testing.T) {
	f := setup(t, testConfig())
	ctx := context.Background()
	f.gw.prices["ETHUSDT"] = 100
	f.engine.signals["ETHUSDT"] = buy(0.8)
	_, err := f.bot.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.pm.Count())

	f.gw.openOrders["BTCUSDT"] = []models.Order{{OrderID: 7, Symbol: "BTCUSDT"}}
	f.gw.prices["ETHUSDT"] = 105

	closed := f.bot.Shutdown(ctx)
	require.Len(t, closed, 1)
	assert.Equal(t, models.ReasonBotShutdown, closed[0].CloseReason)
	assert.InDelta(t, 5.0, closed[0].ProfitPct, 1e-9)
	assert.Equal(t, []int64{7}, f.gw.cancels)
	assert.Empty(t, f.gw.sells, "shutdown does not sell")
	assert.Equal(t, 0, f.pm.Count())

	trades, err := f.store.ClosedTrades(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ReasonBotShutdown, trades[0].CloseReason)
	assert.True(t, f.notifier.contains("Bot stopped"))
}
