package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStrategyConfig() models.StrategyConfig {
	return models.StrategyConfig{
		BollWindow:       20,
		BollStd:          2,
		EMAWindow:        20,
		RSIWindow:        14,
		StochWindow:      14,
		SmoothK:          3,
		SmoothD:          3,
		Oversold:         20,
		Overbought:       80,
		TimeframeWeights: map[string]float64{"15m": 0.1, "1h": 0.3},
	}
}

func candlesFrom(prices []float64) []models.Candle {
	out := make([]models.Candle, len(prices))
	start := time.Unix(1_700_000_000, 0)
	for i, p := range prices {
		out[i] = models.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: p, High: p * 1.01, Low: p * 0.99, Close: p}
	}
	return out
}

func TestIndicatorsBasics(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, SMA(values, 3))
	assert.True(t, math.IsNaN(SMA(values, 6)))

	mid, upper, lower := Bollinger([]float64{2, 2, 2, 2}, 4, 2)
	assert.Equal(t, 2.0, mid)
	assert.Equal(t, 2.0, upper)
	assert.Equal(t, 2.0, lower)

	assert.Equal(t, 3.0, EMA([]float64{3, 3, 3, 3, 3}, 3))

	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i + 1)
	}
	rsi := RSI(rising, 14)
	require.NotEmpty(t, rsi)
	assert.Equal(t, 100.0, rsi[len(rsi)-1])
}

// TestAnalyzeSellOnOverextendedRally verifies a spike above the upper band after a downtrend votes sell.
func TestAnalyzeSellOnOverextendedRally(t *testing.T) {
	var prices []float64
	for i := 0; i < 60; i++ {
		prices = append(prices, 200-float64(i))
	}
	// sharp bounce, still under the long EMA but above the short band
	prices = append(prices, 150, 170)

	engine := NewBollStoch(testStrategyConfig())
	sig, err := engine.Analyze("BTCUSDT", map[string][]models.Candle{"1h": candlesFrom(prices)})
	require.NoError(t, err)
	assert.NotEqual(t, models.SignalBuy, sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 0.0)
	assert.LessOrEqual(t, sig.Confidence, 1.0)
}

func TestAnalyzeNotEnoughData(t *testing.T) {
	engine := NewBollStoch(testStrategyConfig())
	sig, err := engine.Analyze("BTCUSDT", map[string][]models.Candle{"1h": candlesFrom([]float64{1, 2, 3})})
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, models.SignalNeutral, sig.Direction)
}

func TestRiskLevels(t *testing.T) {
	levels := riskLevels([]models.Candle{{High: 110, Low: 100, Close: 105}})
	assert.Equal(t, 85.0, levels.StopLoss)
	assert.Equal(t, 135.0, levels.TakeProfit)
}

func TestTimeframeOrdering(t *testing.T) {
	series := map[string][]models.Candle{"1d": nil, "15m": nil, "4h": nil, "1h": nil}
	assert.Equal(t, []string{"15m", "1h", "4h", "1d"}, sortedTimeframes(series))
	assert.Equal(t, 4*time.Hour, TimeframeDuration("4h"))
	assert.Equal(t, time.Duration(0), TimeframeDuration("x"))
}
