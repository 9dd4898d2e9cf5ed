package sizing

import (
	"testing"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trading = models.TradingConfig{AllocationPerTrade: 0.2, MinAllocation: 10, MaxAllocation: 100}

// TestSizeBelowMinimum covers 50 USDT * 20% = 10 USDT at 35000, which is under a 0.001 minimum.
func TestSizeBelowMinimum(t *testing.T) {
	pair := models.PairConfig{Symbol: "BTCUSDT", MinQuantity: 0.001, QuantityPrecision: 6}

	res, err := Size(50, 35000, pair, trading)
	require.ErrorIs(t, err, ErrBelowMinimum)
	assert.Equal(t, 10.0, res.Allocation)
	assert.InDelta(t, 0.000285, res.Quantity, 1e-12)
}

func TestSizeRoundsDown(t *testing.T) {
	pair := models.PairConfig{Symbol: "ETHUSDT", MinQuantity: 0.0001, QuantityPrecision: 4}

	res, err := Size(1000, 2999, pair, trading)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Allocation, "clamped to max allocation")
	assert.Equal(t, 0.0333, res.Quantity)
}

func TestSizeInsufficientBalance(t *testing.T) {
	pair := models.PairConfig{Symbol: "SOLUSDT", MinQuantity: 0.01, QuantityPrecision: 2}

	_, err := Size(5, 100, pair, trading)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestAllocationClamps(t *testing.T) {
	assert.Equal(t, 10.0, Allocation(20, trading))
	assert.Equal(t, 40.0, Allocation(200, trading))
	assert.Equal(t, 100.0, Allocation(5000, trading))
}

func TestRoundQuantity(t *testing.T) {
	assert.Equal(t, 0.00028, RoundQuantity(0.000285714, 5))
	assert.Equal(t, 1.0, RoundQuantity(1.999, 0))
}
