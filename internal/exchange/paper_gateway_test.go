package exchange

import (
	"context"
	"testing"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMarket struct {
	prices map[string]float64
}

func (m *staticMarket) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return []models.Candle{{Close: m.prices[symbol]}}, nil
}

func (m *staticMarket) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return models.Ticker{Symbol: symbol, LastPrice: m.prices[symbol]}, nil
}

func TestPaperBuySellRoundTrip(t *testing.T) {
	market := &staticMarket{prices: map[string]float64{"BTCUSDT": 35000}}
	gw := NewPaperGateway(market, "USDT", 1000, 0.001)
	ctx := context.Background()

	order, err := gw.PlaceMarketBuy(ctx, "BTCUSDT", 0.01, "awan-1")
	require.NoError(t, err)
	assert.True(t, order.Filled())
	assert.Equal(t, 35000.0, order.AvgPrice)

	balances, err := gw.FetchBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1000-350-0.35, balances["USDT"], 1e-9)
	assert.InDelta(t, 0.01, balances["BTC"], 1e-12)

	market.prices["BTCUSDT"] = 36000
	order, err = gw.PlaceMarketSell(ctx, "BTCUSDT", 0.01, "awan-2")
	require.NoError(t, err)
	assert.Equal(t, 36000.0, order.AvgPrice)

	balances, _ = gw.FetchBalances(ctx)
	assert.InDelta(t, 1000-350-0.35+360-0.36, balances["USDT"], 1e-9)
	_, hasBTC := balances["BTC"]
	assert.False(t, hasBTC)
}

// TestPaperDuplicateClientOrderID verifies a retried order with the same id does not fill twice.
func TestPaperDuplicateClientOrderID(t *testing.T) {
	gw := NewPaperGateway(&staticMarket{prices: map[string]float64{"ETHUSDT": 2000}}, "USDT", 100, 0)
	ctx := context.Background()

	first, err := gw.PlaceMarketBuy(ctx, "ETHUSDT", 0.01, "awan-dup")
	require.NoError(t, err)
	second, err := gw.PlaceMarketBuy(ctx, "ETHUSDT", 0.01, "awan-dup")
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	balances, _ := gw.FetchBalances(ctx)
	assert.InDelta(t, 80, balances["USDT"], 1e-9)
}

func TestPaperInsufficientBalance(t *testing.T) {
	gw := NewPaperGateway(&staticMarket{prices: map[string]float64{"BTCUSDT": 35000}}, "USDT", 50, 0)

	_, err := gw.PlaceMarketBuy(context.Background(), "BTCUSDT", 1, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAccount))

	_, err = gw.PlaceMarketSell(context.Background(), "BTCUSDT", 1, "")
	assert.True(t, apperr.Is(err, apperr.KindAccount))
}

// TestPaperRestorePositions verifies restored positions can be sold from a fresh paper account.
func TestPaperRestorePositions(t *testing.T) {
	market := &staticMarket{prices: map[string]float64{"BTCUSDT": 34000}}
	gw := NewPaperGateway(market, "USDT", 1000, 0)
	gw.RestorePositions([]models.Position{{Symbol: "BTCUSDT", EntryPrice: 35000, Quantity: 0.01}})

	balances, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, balances["BTC"], 1e-12)
	assert.InDelta(t, 650, balances["USDT"], 1e-9)

	_, err = gw.PlaceMarketSell(context.Background(), "BTCUSDT", 0.01, "awan-restored")
	require.NoError(t, err)
	balances, _ = gw.FetchBalances(context.Background())
	assert.InDelta(t, 990, balances["USDT"], 1e-9)
}

func TestNewClientOrderID(t *testing.T) {
	a, b := NewClientOrderID(), NewClientOrderID()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 36)
	assert.Regexp(t, `^awan-[0-9A-Za-z]+$`, a)
}
