package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
)

// MarketData is the read-only half of a gateway; the paper gateway takes prices from it.
type MarketData interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
}

// PaperGateway simulates a spot account on top of real market data. Market orders fill
// immediately at the last price with a taker fee charged in the quote currency.
type PaperGateway struct {
	market        MarketData
	quoteCurrency string
	takerFeeRate  float64

	mu          sync.Mutex
	balances    map[string]float64
	orders      map[string]*models.Order // by client order id
	nextOrderID int64
	TotalFees   float64
}

func NewPaperGateway(market MarketData, quoteCurrency string, initialBalance, takerFeeRate float64) *PaperGateway {
	return &PaperGateway{
		market:        market,
		quoteCurrency: quoteCurrency,
		takerFeeRate:  takerFeeRate,
		balances:      map[string]float64{quoteCurrency: initialBalance},
		orders:        make(map[string]*models.Order),
		nextOrderID:   1,
	}
}

func (p *PaperGateway) Name() string { return "paper" }

func (p *PaperGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return p.market.FetchOHLCV(ctx, symbol, timeframe, limit)
}

func (p *PaperGateway) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	return p.market.FetchTicker(ctx, symbol)
}

func (p *PaperGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for asset, amount := range p.balances {
		if amount > 1e-12 {
			out[asset] = amount
		}
	}
	return out, nil
}

func (p *PaperGateway) PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	return p.fill(ctx, models.Buy, symbol, quantity, clientOrderID)
}

func (p *PaperGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	return p.fill(ctx, models.Sell, symbol, quantity, clientOrderID)
}

func (p *PaperGateway) fill(ctx context.Context, side models.Side, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	op := strings.ToLower(string(side)) + " " + symbol
	if quantity <= 0 {
		return nil, apperr.Order(op, fmt.Errorf("invalid quantity %v", quantity))
	}

	p.mu.Lock()
	if existing, ok := p.orders[clientOrderID]; ok && clientOrderID != "" {
		p.mu.Unlock()
		copied := *existing
		return &copied, nil
	}
	p.mu.Unlock()

	ticker, err := p.market.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price := ticker.LastPrice
	if price <= 0 {
		return nil, apperr.Exchange(op, true, fmt.Errorf("no price for %s", symbol))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.baseAsset(symbol)
	notional := price * quantity
	fee := notional * p.takerFeeRate

	switch side {
	case models.Buy:
		if p.balances[p.quoteCurrency] < notional+fee {
			return nil, apperr.Account(op, fmt.Errorf("insufficient balance: need %.4f %s, have %.4f",
				notional+fee, p.quoteCurrency, p.balances[p.quoteCurrency]))
		}
		p.balances[p.quoteCurrency] -= notional + fee
		p.balances[base] += quantity
	case models.Sell:
		// tolerate float dust left by rounding
		if p.balances[base]+1e-9 < quantity {
			return nil, apperr.Account(op, fmt.Errorf("insufficient balance: need %v %s, have %v",
				quantity, base, p.balances[base]))
		}
		p.balances[base] -= quantity
		if p.balances[base] < 0 {
			p.balances[base] = 0
		}
		p.balances[p.quoteCurrency] += notional - fee
	}
	p.TotalFees += fee

	order := &models.Order{
		OrderID:       p.nextOrderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Type:          "MARKET",
		Status:        models.OrderStatusFilled,
		OrigQty:       quantity,
		ExecutedQty:   quantity,
		AvgPrice:      price,
		Time:          time.Now(),
	}
	p.nextOrderID++
	if clientOrderID != "" {
		p.orders[clientOrderID] = order
	}
	copied := *order
	return &copied, nil
}

// RestorePositions brings positions recovered from a previous run into the simulated
// account: their base quantity is credited and their cost debited from the quote balance,
// so a restart leaves the restored positions sellable.
func (p *PaperGateway) RestorePositions(positions []models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pos := range positions {
		p.balances[p.baseAsset(pos.Symbol)] += pos.Quantity
		p.balances[p.quoteCurrency] -= pos.EntryPrice * pos.Quantity
	}
	if p.balances[p.quoteCurrency] < 0 {
		p.balances[p.quoteCurrency] = 0
	}
}

// CancelOrder always fails: paper market orders fill immediately, so nothing rests on the book.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID int64, symbol string) error {
	return apperr.Order("cancel "+symbol, fmt.Errorf("unknown order %d", orderID))
}

func (p *PaperGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}

func (p *PaperGateway) baseAsset(symbol string) string {
	if strings.HasSuffix(symbol, p.quoteCurrency) {
		return strings.TrimSuffix(symbol, p.quoteCurrency)
	}
	return symbol
}
