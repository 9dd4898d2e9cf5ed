package exchange

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/apperr"
	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// BinanceGateway implements Gateway on the Binance spot REST API.
type BinanceGateway struct {
	client *binance.Client
}

// NewBinanceGateway creates a spot client. Testnet selection is process-wide in go-binance,
// so it must happen before the client is built.
func NewBinanceGateway(apiKey, secretKey string, testnet bool) *BinanceGateway {
	binance.UseTestnet = testnet
	return &BinanceGateway{client: binance.NewClient(apiKey, secretKey)}
}

func (g *BinanceGateway) Name() string { return "binance" }

func (g *BinanceGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	klines, err := g.client.NewKlinesService().
		Symbol(symbol).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("klines "+symbol+" "+timeframe, false, err)
	}
	return candlesFromKlines(klines), nil
}

func (g *BinanceGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify("account", false, err)
	}
	balances := make(map[string]float64)
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		if free > 0 {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

func (g *BinanceGateway) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Ticker{}, classify("ticker "+symbol, false, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return models.Ticker{Symbol: symbol, LastPrice: parseFloat(p.Price)}, nil
		}
	}
	return models.Ticker{}, apperr.Exchange("ticker "+symbol, false, errors.New("symbol not in price list"))
}

func (g *BinanceGateway) PlaceMarketBuy(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	return g.placeMarket(ctx, binance.SideTypeBuy, symbol, quantity, clientOrderID)
}

func (g *BinanceGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	return g.placeMarket(ctx, binance.SideTypeSell, symbol, quantity, clientOrderID)
}

func (g *BinanceGateway) placeMarket(ctx context.Context, side binance.SideType, symbol string, quantity float64, clientOrderID string) (*models.Order, error) {
	op := strings.ToLower(string(side)) + " " + symbol
	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(decimal.NewFromFloat(quantity).String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		if clientOrderID != "" && isDuplicateOrder(err) {
			// an earlier attempt of this order went through; report that one
			return g.orderByClientID(ctx, op, symbol, clientOrderID)
		}
		return nil, classify(op, true, err)
	}

	order := &models.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          models.Side(resp.Side),
		Type:          string(resp.Type),
		Status:        string(resp.Status),
		OrigQty:       parseFloat(resp.OrigQuantity),
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
		Time:          time.UnixMilli(resp.TransactTime),
	}
	order.AvgPrice = averagePrice(resp.CummulativeQuoteQuantity, order.ExecutedQty, resp.Fills)
	return order, nil
}

func (g *BinanceGateway) orderByClientID(ctx context.Context, op, symbol, clientOrderID string) (*models.Order, error) {
	o, err := g.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return nil, classify(op, true, err)
	}
	order := orderFromBinance(o)
	return &order, nil
}

func isDuplicateOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == -2010 &&
		strings.Contains(strings.ToLower(apiErr.Message), "duplicate")
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, orderID int64, symbol string) error {
	_, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return classify("cancel "+symbol, true, err)
	}
	return nil
}

func (g *BinanceGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	open, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classify("open orders "+symbol, false, err)
	}
	orders := make([]models.Order, 0, len(open))
	for _, o := range open {
		orders = append(orders, orderFromBinance(o))
	}
	return orders, nil
}

func orderFromBinance(o *binance.Order) models.Order {
	executed := parseFloat(o.ExecutedQuantity)
	return models.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.Side(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		OrigQty:       parseFloat(o.OrigQuantity),
		ExecutedQty:   executed,
		AvgPrice:      averagePrice(o.CummulativeQuoteQuantity, executed, nil),
		Time:          time.UnixMilli(o.Time),
	}
}

func candlesFromKlines(klines []*binance.Kline) []models.Candle {
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return candles
}

func averagePrice(cumQuote string, executed float64, fills []*binance.Fill) float64 {
	if executed <= 0 {
		return 0
	}
	if quote := parseFloat(cumQuote); quote > 0 {
		return quote / executed
	}
	var notional, qty float64
	for _, f := range fills {
		q := parseFloat(f.Quantity)
		notional += parseFloat(f.Price) * q
		qty += q
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// classify maps go-binance and transport errors onto apperr kinds.
func classify(op string, orderOp bool, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		e := classifyAPIError(op, orderOp, apiErr)
		e.Code = apiErr.Code
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Network(op, err)
	}
	return apperr.Exchange(op, false, err)
}

func classifyAPIError(op string, orderOp bool, apiErr *common.APIError) *apperr.Error {
	code := apiErr.Code
	switch {
	case code == 0:
		// unparseable body, typically a 5xx from a proxy
		return apperr.Exchange(op, true, apiErr)
	case code == -1000, code == -1001, code == -1003, code == -1006, code == -1007,
		code == -1008, code == -1015, code == -1021:
		return apperr.Exchange(op, true, apiErr)
	case code == -1002, code == -1022, code == -2014, code == -2015:
		return apperr.Account(op, apiErr)
	case code == -2010:
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			return apperr.Account(op, apiErr)
		}
		return apperr.Order(op, apiErr)
	case code == -1013, code == -2011, code == -2013, code <= -1100 && code >= -1199:
		if orderOp {
			return apperr.Order(op, apiErr)
		}
		return apperr.Exchange(op, false, apiErr)
	default:
		return apperr.Exchange(op, false, apiErr)
	}
}
