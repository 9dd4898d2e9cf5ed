package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a JSON or YAML (by extension) config file, fills defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(file).Decode(cfg)
	default:
		err = json.NewDecoder(file).Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a complete configuration with every default applied.
func Default() *models.Config {
	cfg := &models.Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *models.Config) {
	setString(&cfg.Exchange.Name, "binance")

	g := &cfg.Governor
	setInt(&g.MaxRequestsPerWindow, 45)
	setInt(&g.WindowSeconds, 60)
	setInt(&g.MaxOrdersPerSecond, 5)
	setInt(&g.ErrorThreshold, 5)
	setInt(&g.CircuitTimeoutSeconds, 600)
	setFloat(&g.InitialBackoff, 1)
	setFloat(&g.MaxBackoff, 300)
	setFloat(&g.BackoffFactor, 2)
	setInt(&g.MaxAPIRetries, 3)

	tr := &cfg.Trading
	setString(&tr.QuoteCurrency, "USDT")
	setInt(&tr.MaxOpenTrades, 3)
	setFloat(&tr.MinConfidence, 0.6)
	setFloat(&tr.AllocationPerTrade, 0.2)
	setFloat(&tr.MinAllocation, 10)
	setFloat(&tr.MaxAllocation, 100)
	setFloat(&tr.StopLossPct, 0.02)
	setFloat(&tr.TakeProfitPct, 0.03)
	setInt(&tr.OHLCVLimit, 100)

	s := &cfg.System
	setInt(&s.TargetCycleSeconds, 60)
	setInt(&s.RetryWaitSeconds, 10)
	setInt(&s.StatusDigestMinutes, 60)
	setInt(&s.ShutdownTimeoutSeconds, 30)

	if len(cfg.Pairs) == 0 {
		cfg.Pairs = []models.PairConfig{
			{Symbol: "BTCUSDT", MinQuantity: 0.00001, QuantityPrecision: 5},
			{Symbol: "ETHUSDT", MinQuantity: 0.0001, QuantityPrecision: 4},
			{Symbol: "SOLUSDT", MinQuantity: 0.01, QuantityPrecision: 2},
		}
	}
	for i := range cfg.Pairs {
		if len(cfg.Pairs[i].Timeframes) == 0 {
			cfg.Pairs[i].Timeframes = []string{"15m", "1h", "4h", "1d"}
		}
	}

	st := &cfg.Store
	setString(&st.Driver, "badger")
	setString(&st.Path, "data/status")
	setString(&st.RedisAddr, "localhost:6379")
	setString(&st.KeyPrefix, "awan:")

	tg := &cfg.Telegram
	setString(&tg.APIURL, "https://api.telegram.org")
	setFloat(&tg.MessagesPerSecond, 1)
	setInt(&tg.QueueSize, 100)

	ps := &cfg.PriceStream
	setString(&ps.URL, "wss://stream.binance.com:9443/stream")
	setInt(&ps.MaxAgeSeconds, 30)
	setInt(&ps.PingIntervalSeconds, 30)
	setInt(&ps.ReconnectWaitSeconds, 5)

	sc := &cfg.Strategy
	setInt(&sc.BollWindow, 20)
	setFloat(&sc.BollStd, 2)
	setInt(&sc.EMAWindow, 50)
	setInt(&sc.RSIWindow, 14)
	setInt(&sc.StochWindow, 14)
	setInt(&sc.SmoothK, 3)
	setInt(&sc.SmoothD, 3)
	setFloat(&sc.Oversold, 20)
	setFloat(&sc.Overbought, 80)
	if len(sc.TimeframeWeights) == 0 {
		sc.TimeframeWeights = map[string]float64{"15m": 0.1, "1h": 0.3, "4h": 0.3, "1d": 0.3}
	}

	setFloat(&cfg.Paper.InitialBalance, 1000)
	setFloat(&cfg.Paper.TakerFeeRate, 0.001)

	lc := &cfg.LogConfig
	setString(&lc.Level, "info")
	setString(&lc.Output, "console")
	setString(&lc.File, "logs/bot.log")
	setInt(&lc.MaxSize, 10)
	setInt(&lc.MaxBackups, 5)
	setInt(&lc.MaxAge, 30)
}

// ApplyEnv copies secrets and deployment overrides from the environment.
func ApplyEnv(cfg *models.Config, getenv func(string) string) {
	cfg.Exchange.APIKey = getenv("BINANCE_API_KEY")
	cfg.Exchange.SecretKey = getenv("BINANCE_API_SECRET")
	if cfg.Exchange.SecretKey == "" {
		cfg.Exchange.SecretKey = getenv("BINANCE_SECRET_KEY")
	}
	if v := getenv("USE_TESTNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Exchange.IsTestnet = b
		}
	}
	if v := getenv("EXCHANGE_NAME"); v != "" {
		cfg.Exchange.Name = v
	}

	cfg.Telegram.BotToken = getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.ChatID = getenv("TELEGRAM_CHAT_ID")

	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	cfg.Store.RedisPassword = getenv("REDIS_PASSWORD")
}

// Validate checks ranges and cross-field constraints.
func Validate(cfg *models.Config) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch cfg.Exchange.Name {
	case "binance":
		if cfg.Exchange.APIKey == "" || cfg.Exchange.SecretKey == "" {
			add("exchange: BINANCE_API_KEY and BINANCE_API_SECRET must be set for the binance gateway")
		}
	case "paper":
	default:
		add("exchange.name: unknown gateway %q", cfg.Exchange.Name)
	}

	g := cfg.Governor
	if g.MaxRequestsPerWindow < 1 || g.WindowSeconds < 1 {
		add("governor: max_requests_per_window and window_seconds must be positive")
	}
	if g.MaxOrdersPerSecond < 1 {
		add("governor.max_orders_per_second must be positive")
	}
	if g.ErrorThreshold < 1 {
		add("governor.error_threshold must be positive")
	}
	if g.InitialBackoff <= 0 || g.MaxBackoff < g.InitialBackoff {
		add("governor: need 0 < initial_backoff <= max_backoff")
	}
	if g.BackoffFactor < 1 {
		add("governor.backoff_factor must be >= 1")
	}

	t := cfg.Trading
	if t.MaxOpenTrades < 1 {
		add("trading.max_open_trades must be positive")
	}
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		add("trading.min_confidence must be within [0,1]")
	}
	if t.AllocationPerTrade <= 0 || t.AllocationPerTrade > 1 {
		add("trading.allocation_per_trade must be within (0,1]")
	}
	if t.MaxAllocation < t.MinAllocation {
		add("trading: max_allocation below min_allocation")
	}

	seen := make(map[string]bool, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		if p.Symbol == "" {
			add("pairs[%d].symbol is empty", i)
			continue
		}
		if seen[p.Symbol] {
			add("pairs[%d]: duplicate symbol %s", i, p.Symbol)
		}
		seen[p.Symbol] = true
		if p.MinQuantity <= 0 {
			add("pairs[%d].min_quantity must be positive", i)
		}
		if p.QuantityPrecision < 0 {
			add("pairs[%d].quantity_precision must not be negative", i)
		}
	}

	switch cfg.Store.Driver {
	case "badger", "redis":
	default:
		add("store.driver: unknown driver %q", cfg.Store.Driver)
	}

	if cfg.Telegram.Enabled && (cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "") {
		add("telegram: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set when enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
