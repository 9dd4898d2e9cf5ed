package reporter

import (
	"testing"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPerformanceWindow(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	trades := []models.ClosedTrade{
		{Symbol: "BTCUSDT", ProfitPct: 5, ExitTime: now.Add(-48 * time.Hour)},
		{Symbol: "ETHUSDT", ProfitPct: 2, ExitTime: now.Add(-2 * time.Hour)},
		{Symbol: "SOLUSDT", ProfitPct: -1, ExitTime: now.Add(-time.Hour)},
	}

	p := Performance(trades, now.Add(-24*time.Hour))
	assert.Equal(t, 2, p.TotalTrades)
	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, 50.0, p.WinRate)
	assert.Equal(t, 1.0, p.TotalProfit)

	assert.Equal(t, models.Performance{}, Performance(nil, now))
}

func TestCalculateMetrics(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []models.ClosedTrade{
		{ProfitPct: -10, ExitTime: start.Add(2 * time.Hour)},
		{ProfitPct: 10, ExitTime: start.Add(time.Hour)},
		{ProfitPct: 20, ExitTime: start.Add(3 * time.Hour)},
	}

	m := Calculate(trades)
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.67, m.WinRate, 0.01)
	assert.Equal(t, 20.0, m.TotalProfitPct)
	assert.InDelta(t, 1.5, m.AvgProfitLoss, 1e-9)
	// equity 1 -> 1.1 -> 0.99 -> 1.188: the drop from 1.1 to 0.99 is 10%
	assert.InDelta(t, 10.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, start.Add(time.Hour), m.StartTime)
}

func TestRenderDigest(t *testing.T) {
	out := RenderDigest(Digest{
		Status: models.BotStatus{
			Healthy:     true,
			Exchange:    "paper",
			Balances:    map[string]float64{"USDT": 812.5, "BTC": 0.005},
			UptimeHours: 3.25,
			Performance: models.Performance{TotalTrades: 2, Wins: 1, WinRate: 50, TotalProfit: 1.2},
			Governor:    models.GovernorStatus{BreakerState: "closed", MaxRequests: 45},
		},
		Positions: []PositionLine{{Symbol: "BTCUSDT", EntryPrice: 35000, MarkPrice: 36000, Quantity: 0.005, UnrealizedPct: 2.857, Held: 90 * time.Minute}},
		AllTime:   &Metrics{TotalTrades: 10, WinRate: 60, TotalProfitPct: 8.5},
	})

	assert.Contains(t, out, "Bot status: OK (paper)")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "+2.86")
	assert.Contains(t, out, "1h30m0s")
	assert.Contains(t, out, "breaker closed")
	assert.Contains(t, out, "60.0%")
}
