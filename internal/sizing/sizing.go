// Package sizing turns a quote balance and a price into an order quantity that respects
// the pair's precision and minimum.
package sizing

import (
	"errors"
	"fmt"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinimum        = errors.New("quantity below pair minimum")
	ErrInsufficientBalance = errors.New("insufficient quote balance")
	ErrInvalidPrice        = errors.New("invalid price")
)

// Result is a sized entry.
type Result struct {
	Allocation float64 // quote amount
	Quantity   float64 // base amount, rounded down to the pair precision
}

// Allocation clamps balance*pct into [min, max].
func Allocation(balance float64, t models.TradingConfig) float64 {
	alloc := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(t.AllocationPerTrade))
	if t.MinAllocation > 0 {
		alloc = decimal.Max(alloc, decimal.NewFromFloat(t.MinAllocation))
	}
	if t.MaxAllocation > 0 {
		alloc = decimal.Min(alloc, decimal.NewFromFloat(t.MaxAllocation))
	}
	f, _ := alloc.Float64()
	return f
}

// RoundQuantity truncates q to precision decimals, never rounding up past what was paid for.
func RoundQuantity(q float64, precision int32) float64 {
	f, _ := decimal.NewFromFloat(q).Truncate(precision).Float64()
	return f
}

// Size computes the entry for pair at price given the free quote balance.
func Size(balance, price float64, pair models.PairConfig, t models.TradingConfig) (Result, error) {
	if price <= 0 {
		return Result{}, ErrInvalidPrice
	}
	alloc := Allocation(balance, t)
	if alloc > balance {
		return Result{Allocation: alloc}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, alloc, balance)
	}

	qty := decimal.NewFromFloat(alloc).Div(decimal.NewFromFloat(price)).Truncate(pair.QuantityPrecision)
	quantity, _ := qty.Float64()
	res := Result{Allocation: alloc, Quantity: quantity}
	if quantity <= 0 || quantity < pair.MinQuantity {
		return res, fmt.Errorf("%w: %s %v < %v", ErrBelowMinimum, pair.Symbol, quantity, pair.MinQuantity)
	}
	return res, nil
}
