package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// TestRecordIsIdempotent verifies a trade recorded twice is stored once.
func TestRecordIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	exit := time.UnixMilli(1_700_000_000_000)
	trade := models.ClosedTrade{
		Symbol: "BTCUSDT", EntryPrice: 35000, ExitPrice: 36000, Quantity: 0.01, ProfitPct: 2.857,
		EntryTime: exit.Add(-time.Hour), ExitTime: exit, CloseReason: models.ReasonTakeProfit,
	}

	require.NoError(t, j.Record(ctx, trade))
	require.NoError(t, j.Record(ctx, trade))

	trades, err := j.Trades(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.ReasonTakeProfit, trades[0].CloseReason)
	assert.True(t, trades[0].ExitTime.Equal(exit))
	assert.Equal(t, 36000.0, trades[0].ExitPrice)
}

func TestTradesSince(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Now()

	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		require.NoError(t, j.Record(ctx, models.ClosedTrade{
			Symbol:      sym,
			ExitTime:    now.Add(-time.Duration(2-i) * 24 * time.Hour),
			CloseReason: models.ReasonSignal,
		}))
	}

	trades, err := j.Trades(ctx, now.Add(-36*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "ETHUSDT", trades[0].Symbol)
	assert.Equal(t, "SOLUSDT", trades[1].Symbol)
}
