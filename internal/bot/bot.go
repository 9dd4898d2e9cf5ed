package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/exchange"
	"github.com/addhe/awan-t-bot-sub000/internal/governor"
	"github.com/addhe/awan-t-bot-sub000/internal/metrics"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/addhe/awan-t-bot-sub000/internal/notify"
	"github.com/addhe/awan-t-bot-sub000/internal/persistence"
	"github.com/addhe/awan-t-bot-sub000/internal/position"
	"github.com/addhe/awan-t-bot-sub000/internal/reporter"
	"github.com/addhe/awan-t-bot-sub000/internal/sizing"
	"github.com/addhe/awan-t-bot-sub000/internal/strategy"
	"go.uber.org/zap"
)

// TradeHistory is the all-time trade source used by the status digest.
type TradeHistory interface {
	Trades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error)
}

// Option customises a TradingBot.
type Option func(*TradingBot)

// WithHistory adds all-time statistics from h to the status digest.
func WithHistory(h TradeHistory) Option {
	return func(b *TradingBot) { b.history = h }
}

// CycleReport describes what one cycle did.
type CycleReport struct {
	Healthy   bool
	Closed    []models.ClosedTrade
	Evaluated int // pairs analysed for entry
	Opened    []models.Position
}

// TradingBot runs the trading cycle: health, exits, entries, status, sleep.
// All exchange calls go through the governor; pairs are processed one at a time.
type TradingBot struct {
	cfg       *models.Config
	gateway   exchange.Gateway
	gov       *governor.Governor
	positions *position.Manager
	engine    strategy.Engine
	store     persistence.StatusStore
	notifier  notify.Notifier
	history   TradeHistory
	logger    *zap.Logger

	startTime    time.Time
	lastDigest   time.Time
	lastBalances map[string]float64
	lastError    string
}

func NewTradingBot(
	cfg *models.Config,
	gateway exchange.Gateway,
	gov *governor.Governor,
	positions *position.Manager,
	engine strategy.Engine,
	store persistence.StatusStore,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts ...Option,
) *TradingBot {
	b := &TradingBot{
		cfg:       cfg,
		gateway:   gateway,
		gov:       gov,
		positions: positions,
		engine:    engine,
		store:     store,
		notifier:  notifier,
		logger:    logger,
		startTime: gov.Clock().Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes cycles until ctx is cancelled. A failed cycle is logged, notified and
// followed by the retry wait; it never stops the loop.
func (b *TradingBot) Run(ctx context.Context) error {
	clock := b.gov.Clock()
	target := time.Duration(b.cfg.System.TargetCycleSeconds) * time.Second
	retryWait := time.Duration(b.cfg.System.RetryWaitSeconds) * time.Second

	b.logger.Info("trading bot started",
		zap.String("exchange", b.gateway.Name()),
		zap.Int("pairs", len(b.cfg.Pairs)),
		zap.Int("max_open_trades", b.cfg.Trading.MaxOpenTrades),
		zap.Int("active_positions", b.positions.Count()))
	b.notifier.Send(fmt.Sprintf("Bot started on %s with %d pairs, %d active positions",
		b.gateway.Name(), len(b.cfg.Pairs), b.positions.Count()))

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := clock.Now()
		report, err := b.runCycleSafe(ctx)
		elapsed := clock.Now().Sub(start)
		metrics.CycleDuration.Observe(elapsed.Seconds())

		wait := target - elapsed
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			metrics.Cycles.WithLabelValues("error").Inc()
			b.lastError = err.Error()
			b.logger.Error("cycle failed", zap.Error(err), zap.Duration("retry_in", retryWait))
			b.notifier.Send(fmt.Sprintf("Cycle error (%s): %v", apperr.KindOf(err), err))
			wait = retryWait
		case !report.Healthy:
			metrics.Cycles.WithLabelValues("unhealthy").Inc()
			wait = retryWait
		default:
			metrics.Cycles.WithLabelValues("ok").Inc()
			b.logger.Debug("cycle complete",
				zap.Duration("elapsed", elapsed),
				zap.Int("evaluated", report.Evaluated),
				zap.Int("opened", len(report.Opened)),
				zap.Int("closed", len(report.Closed)))
		}

		if wait < 0 {
			wait = 0
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

// runCycleSafe converts a panic inside a cycle into an error.
func (b *TradingBot) runCycleSafe(ctx context.Context) (report CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("cycle panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return b.RunCycle(ctx)
}

// RunCycle performs one cycle without the trailing sleep.
func (b *TradingBot) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	// 1. health
	balances, err := b.checkHealth(ctx)
	if err != nil || len(balances) == 0 {
		if err == nil {
			err = errors.New("empty balance map")
		}
		b.lastError = err.Error()
		b.logger.Warn("health check failed", zap.Error(err))
		b.persistStatus(ctx, false)
		return report, nil
	}
	report.Healthy = true
	b.lastBalances = balances

	// 2. exits
	closed, err := b.positions.CheckExits(ctx, b.engine)
	report.Closed = closed
	for _, trade := range closed {
		b.notifier.Send(formatClose(trade))
	}
	if err != nil {
		return report, fmt.Errorf("check exits: %w", err)
	}

	// 3. slots
	slots := b.cfg.Trading.MaxOpenTrades - b.positions.Count()

	// 4. entries
	if slots > 0 {
		evaluated, opened, err := b.evaluateEntries(ctx, slots, balances)
		report.Evaluated = evaluated
		report.Opened = opened
		if err != nil {
			return report, fmt.Errorf("evaluate entries: %w", err)
		}
	} else {
		b.logger.Debug("no open slots, skipping entries", zap.Int("active", b.positions.Count()))
	}

	// 5. status and digest
	b.lastError = ""
	status := b.persistStatus(ctx, true)
	b.maybeDigest(ctx, status)
	return report, nil
}

// checkHealth fetches balances. The bot is healthy when the map is non-empty.
func (b *TradingBot) checkHealth(ctx context.Context) (map[string]float64, error) {
	return governor.Call(ctx, b.gov, governor.ClassGeneral, "fetch_balances", func(ctx context.Context) (map[string]float64, error) {
		return b.gateway.FetchBalances(ctx)
	})
}

// evaluateEntries walks the pairs in configured order until the slots are used up.
func (b *TradingBot) evaluateEntries(ctx context.Context, slots int, balances map[string]float64) (int, []models.Position, error) {
	t := b.cfg.Trading
	quote := balances[t.QuoteCurrency]
	evaluated := 0
	var opened []models.Position

	for _, pair := range b.cfg.Pairs {
		if slots <= 0 {
			break
		}
		if ctx.Err() != nil {
			return evaluated, opened, ctx.Err()
		}
		if b.positions.Has(pair.Symbol) {
			continue
		}
		evaluated++

		series, price, err := position.FetchSeries(ctx, b.gov, b.gateway, pair.Symbol, pair.Timeframes, t.OHLCVLimit)
		if err != nil {
			if apperr.AbortsCycle(err) {
				return evaluated, opened, err
			}
			b.logger.Sugar().Warnf("Skipping %s: %v", pair.Symbol, err)
			continue
		}

		sig, err := b.engine.Analyze(pair.Symbol, series)
		if err != nil {
			b.logger.Sugar().Debugf("No signal for %s: %v", pair.Symbol, err)
			continue
		}
		if sig.Direction != models.SignalBuy || sig.Confidence < t.MinConfidence {
			b.logger.Debug("no entry",
				zap.String("symbol", pair.Symbol),
				zap.String("signal", string(sig.Direction)),
				zap.Float64("confidence", sig.Confidence))
			continue
		}

		size, err := sizing.Size(quote, price, pair, t)
		if err != nil {
			b.logger.Info("entry rejected by sizing",
				zap.String("symbol", pair.Symbol),
				zap.Float64("price", price),
				zap.Float64("quote_balance", quote),
				zap.Error(err))
			continue
		}

		pos, err := b.positions.Open(ctx, pair.Symbol, size.Quantity, price, sig.Levels, sig.Confidence)
		if err != nil {
			if apperr.AbortsCycle(err) {
				return evaluated, opened, err
			}
			b.logger.Sugar().Warnf("Failed to open %s: %v", pair.Symbol, err)
			continue
		}
		quote -= size.Allocation
		slots--
		opened = append(opened, *pos)
		b.notifier.Send(formatOpen(*pos))
	}
	return evaluated, opened, nil
}

// persistStatus writes the aggregate status and returns it.
func (b *TradingBot) persistStatus(ctx context.Context, healthy bool) models.BotStatus {
	now := b.gov.Clock().Now()
	status := models.BotStatus{
		Healthy:      healthy,
		Exchange:     b.gateway.Name(),
		Balances:     b.lastBalances,
		ActiveTrades: b.positions.Count(),
		UptimeHours:  now.Sub(b.startTime).Hours(),
		Governor:     b.gov.Snapshot(),
		LastUpdated:  now,
		LastError:    b.lastError,
	}
	since := now.Add(-24 * time.Hour)
	if trades, err := b.store.ClosedTrades(ctx, since); err != nil {
		b.logger.Warn("failed to load closed trades for performance", zap.Error(err))
	} else {
		status.Performance = reporter.Performance(trades, since)
	}
	if err := b.store.SaveStatus(ctx, &status); err != nil {
		b.logger.Error("failed to persist bot status", zap.Error(err))
	}
	return status
}

// maybeDigest sends the status digest when the digest interval has passed.
func (b *TradingBot) maybeDigest(ctx context.Context, status models.BotStatus) {
	interval := time.Duration(b.cfg.System.StatusDigestMinutes) * time.Minute
	now := b.gov.Clock().Now()
	if interval <= 0 || (!b.lastDigest.IsZero() && now.Sub(b.lastDigest) < interval) {
		return
	}
	b.lastDigest = now

	digest := reporter.Digest{Status: status}
	for _, pos := range b.positions.Active() {
		mark, ok := b.positions.MarkPrice(pos.Symbol)
		if !ok {
			mark = pos.EntryPrice
		}
		digest.Positions = append(digest.Positions, reporter.PositionLine{
			Symbol:        pos.Symbol,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     mark,
			Quantity:      pos.Quantity,
			UnrealizedPct: pos.UnrealizedPct(mark),
			Held:          now.Sub(pos.EntryTime),
		})
	}
	if b.history != nil {
		if trades, err := b.history.Trades(ctx, time.Time{}); err != nil {
			b.logger.Warn("failed to load trade history for digest", zap.Error(err))
		} else {
			m := reporter.Calculate(trades)
			digest.AllTime = &m
		}
	}
	b.notifier.Send(reporter.RenderDigest(digest))
}

// Shutdown cancels the open orders of every configured pair, then books the remaining
// positions as closed. ctx bounds the whole sequence.
func (b *TradingBot) Shutdown(ctx context.Context) []models.ClosedTrade {
	b.logger.Info("shutting down trading bot")
	for _, pair := range b.cfg.Pairs {
		b.cancelOpenOrders(ctx, pair.Symbol)
	}

	closed := b.positions.Shutdown(ctx)
	b.persistStatus(ctx, false)

	var msg strings.Builder
	fmt.Fprintf(&msg, "Bot stopped. %d positions recorded as closed", len(closed))
	for _, trade := range closed {
		fmt.Fprintf(&msg, "\n%s %+.2f%%", trade.Symbol, trade.ProfitPct)
	}
	b.notifier.Send(msg.String())
	return closed
}

func (b *TradingBot) cancelOpenOrders(ctx context.Context, symbol string) {
	orders, err := governor.Call(ctx, b.gov, governor.ClassGeneral, "fetch_open_orders", func(ctx context.Context) ([]models.Order, error) {
		return b.gateway.FetchOpenOrders(ctx, symbol)
	})
	if err != nil {
		b.logger.Warn("failed to fetch open orders", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	for _, o := range orders {
		id := o.OrderID
		err := b.gov.Guard(ctx, governor.ClassOrder, "cancel_order", func(ctx context.Context) error {
			return b.gateway.CancelOrder(ctx, id, symbol)
		})
		if err != nil {
			b.logger.Warn("failed to cancel order", zap.String("symbol", symbol), zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		b.logger.Info("cancelled open order", zap.String("symbol", symbol), zap.Int64("order_id", id))
	}
}

func formatOpen(p models.Position) string {
	return fmt.Sprintf("Opened %s: %.8g @ %.8g (confidence %.2f)\nSL %.8g / TP %.8g",
		p.Symbol, p.Quantity, p.EntryPrice, p.Confidence, p.StopLoss, p.TakeProfit)
}

func formatClose(t models.ClosedTrade) string {
	return fmt.Sprintf("Closed %s (%s): %.8g -> %.8g, %+.2f%%",
		t.Symbol, t.CloseReason, t.EntryPrice, t.ExitPrice, t.ProfitPct)
}
