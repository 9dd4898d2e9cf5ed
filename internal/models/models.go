package models

import "time"

// Config holds every tunable of the bot. Secrets are not part of the file; they come from the environment.
type Config struct {
	Exchange    ExchangeConfig    `json:"exchange" yaml:"exchange"`
	Governor    GovernorConfig    `json:"governor" yaml:"governor"`
	Trading     TradingConfig     `json:"trading" yaml:"trading"`
	System      SystemConfig      `json:"system" yaml:"system"`
	Pairs       []PairConfig      `json:"pairs" yaml:"pairs"`
	Store       StoreConfig       `json:"store" yaml:"store"`
	Telegram    TelegramConfig    `json:"telegram" yaml:"telegram"`
	PriceStream PriceStreamConfig `json:"price_stream" yaml:"price_stream"`
	Strategy    StrategyConfig    `json:"strategy" yaml:"strategy"`
	Paper       PaperConfig       `json:"paper" yaml:"paper"`
	LogConfig   LogConfig         `json:"log" yaml:"log"`
}

// ExchangeConfig selects the gateway implementation once at startup.
type ExchangeConfig struct {
	Name      string `json:"name" yaml:"name"` // "binance" or "paper"
	IsTestnet bool   `json:"is_testnet" yaml:"is_testnet"`
	APIKey    string `json:"-" yaml:"-"`
	SecretKey string `json:"-" yaml:"-"`
}

// GovernorConfig bounds the call rate, the error rate and the retry delays of exchange calls.
type GovernorConfig struct {
	MaxRequestsPerWindow  int     `json:"max_requests_per_window" yaml:"max_requests_per_window"`
	WindowSeconds         int     `json:"window_seconds" yaml:"window_seconds"`
	MaxOrdersPerSecond    int     `json:"max_orders_per_second" yaml:"max_orders_per_second"`
	ErrorThreshold        int     `json:"error_threshold" yaml:"error_threshold"`
	CircuitTimeoutSeconds int     `json:"circuit_timeout_seconds" yaml:"circuit_timeout_seconds"`
	HalfOpenProbe         bool    `json:"half_open_probe" yaml:"half_open_probe"`
	InitialBackoff        float64 `json:"initial_backoff" yaml:"initial_backoff"` // seconds
	MaxBackoff            float64 `json:"max_backoff" yaml:"max_backoff"`         // seconds
	BackoffFactor         float64 `json:"backoff_factor" yaml:"backoff_factor"`
	MaxAPIRetries         int     `json:"max_api_retries" yaml:"max_api_retries"` // attempts per guarded call
}

// TradingConfig holds entry/exit and sizing parameters.
type TradingConfig struct {
	QuoteCurrency      string  `json:"quote_currency" yaml:"quote_currency"`
	MaxOpenTrades      int     `json:"max_open_trades" yaml:"max_open_trades"`
	MinConfidence      float64 `json:"min_confidence" yaml:"min_confidence"`
	AllocationPerTrade float64 `json:"allocation_per_trade" yaml:"allocation_per_trade"` // fraction of quote balance
	MinAllocation      float64 `json:"min_allocation" yaml:"min_allocation"`
	MaxAllocation      float64 `json:"max_allocation" yaml:"max_allocation"`
	StopLossPct        float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct      float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	MinHoldMinutes     int     `json:"min_hold_minutes" yaml:"min_hold_minutes"`
	OHLCVLimit         int     `json:"ohlcv_limit" yaml:"ohlcv_limit"`
}

// SystemConfig controls the cycle loop and process surfaces.
type SystemConfig struct {
	TargetCycleSeconds     int    `json:"target_cycle_seconds" yaml:"target_cycle_seconds"`
	RetryWaitSeconds       int    `json:"retry_wait_seconds" yaml:"retry_wait_seconds"`
	StatusDigestMinutes    int    `json:"status_digest_minutes" yaml:"status_digest_minutes"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	MetricsAddr            string `json:"metrics_addr" yaml:"metrics_addr"`
}

// PairConfig is the static per-symbol trading parameter set.
type PairConfig struct {
	Symbol            string   `json:"symbol" yaml:"symbol"`
	MinQuantity       float64  `json:"min_quantity" yaml:"min_quantity"`
	QuantityPrecision int32    `json:"quantity_precision" yaml:"quantity_precision"`
	Timeframes        []string `json:"timeframes" yaml:"timeframes"`
}

// StoreConfig selects the StatusStore backend and the optional trade journal.
type StoreConfig struct {
	Driver        string `json:"driver" yaml:"driver"` // "badger" or "redis"
	Path          string `json:"path" yaml:"path"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
	JournalPath   string `json:"journal_path" yaml:"journal_path"` // empty disables the journal
}

// TelegramConfig configures the notifier. Token and chat id come from the environment.
type TelegramConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	BotToken          string  `json:"-" yaml:"-"`
	ChatID            string  `json:"-" yaml:"-"`
	APIURL            string  `json:"api_url" yaml:"api_url"`
	MessagesPerSecond float64 `json:"messages_per_second" yaml:"messages_per_second"`
	QueueSize         int     `json:"queue_size" yaml:"queue_size"`
}

// PriceStreamConfig configures the websocket last-price cache.
type PriceStreamConfig struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	URL                  string `json:"url" yaml:"url"`
	MaxAgeSeconds        int    `json:"max_age_seconds" yaml:"max_age_seconds"`
	PingIntervalSeconds  int    `json:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	ReconnectWaitSeconds int    `json:"reconnect_wait_seconds" yaml:"reconnect_wait_seconds"`
}

// StrategyConfig parameterises the Bollinger/StochRSI/EMA engine.
type StrategyConfig struct {
	BollWindow       int                `json:"boll_window" yaml:"boll_window"`
	BollStd          float64            `json:"boll_std" yaml:"boll_std"`
	EMAWindow        int                `json:"ema_window" yaml:"ema_window"`
	RSIWindow        int                `json:"rsi_window" yaml:"rsi_window"`
	StochWindow      int                `json:"stoch_window" yaml:"stoch_window"`
	SmoothK          int                `json:"smooth_k" yaml:"smooth_k"`
	SmoothD          int                `json:"smooth_d" yaml:"smooth_d"`
	Oversold         float64            `json:"oversold" yaml:"oversold"`
	Overbought       float64            `json:"overbought" yaml:"overbought"`
	TimeframeWeights map[string]float64 `json:"timeframe_weights" yaml:"timeframe_weights"`
}

// PaperConfig seeds the simulated account used in dry-run mode.
type PaperConfig struct {
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
	TakerFeeRate   float64 `json:"taker_fee_rate" yaml:"taker_fee_rate"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"` // "console", "file", "both"
	File       string `json:"file" yaml:"file"`
	MaxSize    int    `json:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"` // days
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Ticker carries the last traded price of a symbol.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
}

// Order is the exchange-neutral view of an order.
type Order struct {
	OrderID       int64     `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	OrigQty       float64   `json:"orig_qty"`
	ExecutedQty   float64   `json:"executed_qty"`
	AvgPrice      float64   `json:"avg_price"` // zero when the exchange did not report fills
	Time          time.Time `json:"time"`
}

// Order statuses shared by all gateways.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
)

// Filled reports whether any quantity of the order was executed.
func (o *Order) Filled() bool {
	if o == nil {
		return false
	}
	return o.Status == OrderStatusFilled || o.ExecutedQty > 0
}
