package models

import "time"

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// PositionState is the lifecycle stage of a position.
type PositionState string

const (
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
)

// CloseReason explains why a position was closed.
type CloseReason string

const (
	ReasonSignal      CloseReason = "signal"
	ReasonStopLoss    CloseReason = "stop_loss"
	ReasonTakeProfit  CloseReason = "take_profit"
	ReasonManual      CloseReason = "manual"
	ReasonBotShutdown CloseReason = "bot_shutdown"
)

// Position is an open long position. There is at most one per symbol.
type Position struct {
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	EntryPrice    float64       `json:"entry_price"`
	Quantity      float64       `json:"quantity"`
	StopLoss      float64       `json:"stop_loss"`
	TakeProfit    float64       `json:"take_profit"`
	EntryTime     time.Time     `json:"entry_time"`
	Confidence    float64       `json:"confidence"`
	State         PositionState `json:"state"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
}

// UnrealizedPct returns the P/L percentage of the position at price.
func (p *Position) UnrealizedPct(price float64) float64 {
	return ProfitPct(p.EntryPrice, price)
}

// ClosedTrade is the immutable record of a closed position.
type ClosedTrade struct {
	Symbol      string      `json:"symbol"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Quantity    float64     `json:"quantity"`
	ProfitPct   float64     `json:"profit_pct"`
	EntryTime   time.Time   `json:"entry_time"`
	ExitTime    time.Time   `json:"exit_time"`
	CloseReason CloseReason `json:"close_reason"`
}

// ProfitPct is (exit-entry)/entry*100. A zero entry yields zero.
func ProfitPct(entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	return (exit - entry) / entry * 100
}

// RiskLevels are the stop-loss and take-profit prices attached to a position.
type RiskLevels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// SignalDirection is the aggregated recommendation of the signal engine.
type SignalDirection string

const (
	SignalBuy     SignalDirection = "buy"
	SignalSell    SignalDirection = "sell"
	SignalNeutral SignalDirection = "neutral"
)

// Signal is the output of a signal engine analysis.
type Signal struct {
	Direction  SignalDirection `json:"direction"`
	Confidence float64         `json:"confidence"`
	Levels     RiskLevels      `json:"levels"`
}

// Performance summarises closed trades over a period.
type Performance struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`     // percent
	TotalProfit float64 `json:"total_profit"` // sum of profit_pct
}

// GovernorStatus is a snapshot of the rate governor for reporting.
type GovernorStatus struct {
	BreakerState    string    `json:"breaker_state"`
	ErrorCount      int       `json:"error_count"`
	LastErrorTime   time.Time `json:"last_error_time,omitempty"`
	CurrentBackoff  float64   `json:"current_backoff"` // seconds
	GeneralInWindow int       `json:"general_in_window"`
	OrdersInWindow  int       `json:"orders_in_window"`
	MaxRequests     int       `json:"max_requests"`
	MaxOrdersPerSec int       `json:"max_orders_per_second"`
}

// BotStatus is the aggregate status snapshot written every cycle.
type BotStatus struct {
	Healthy      bool               `json:"healthy"`
	Exchange     string             `json:"exchange"`
	Balances     map[string]float64 `json:"balances"`
	ActiveTrades int                `json:"active_trades"`
	UptimeHours  float64            `json:"uptime_hours"`
	Performance  Performance        `json:"performance_24h"`
	Governor     GovernorStatus     `json:"governor"`
	LastUpdated  time.Time          `json:"last_updated"`
	LastError    string             `json:"last_error,omitempty"`
}
