package exchange

import (
	"context"
	"fmt"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// Gateway defines the exchange capability the bot needs. Implementations classify
// failures into apperr kinds so the governor can decide retries.
type Gateway interface {
	Name() string
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	// FetchBalances returns free amounts per asset, omitting zero balances.
	FetchBalances(ctx context.Context) (map[string]float64, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
	// PlaceMarketBuy and PlaceMarketSell take a client order id that the caller reuses
	// across retries of the same logical order.
	PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID int64, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
}

// clientOrderPrefix keeps ids recognisable in the exchange UI.
const clientOrderPrefix = "awan-"

// NewClientOrderID returns a fresh idempotency key: the prefix plus a base62 UUID (at most 27 chars,
// inside Binance's 36 char limit).
func NewClientOrderID() string {
	id := uuid.New()
	return clientOrderPrefix + base62.EncodeToString(id[:])
}

// New selects the gateway implementation once at startup.
func New(cfg *models.Config, market MarketData) (Gateway, error) {
	switch cfg.Exchange.Name {
	case "binance":
		return NewBinanceGateway(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.IsTestnet), nil
	case "paper":
		return NewPaperGateway(market, cfg.Trading.QuoteCurrency, cfg.Paper.InitialBalance, cfg.Paper.TakerFeeRate), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.Exchange.Name)
	}
}
