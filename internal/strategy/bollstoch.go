// Package strategy turns OHLCV series into a directional signal.
package strategy

import (
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
)

// ErrNoData is returned when no timeframe has enough candles to evaluate.
var ErrNoData = errors.New("not enough candles in any timeframe")

// Engine analyses candle series keyed by timeframe.
type Engine interface {
	Analyze(symbol string, series map[string][]models.Candle) (models.Signal, error)
}

// BollStoch combines Bollinger Bands, Stochastic RSI and an EMA trend filter.
// A timeframe votes buy or sell when at least three of its four conditions hold;
// votes are weighted per timeframe and scaled by the share of conditions met.
type BollStoch struct {
	cfg models.StrategyConfig
}

func NewBollStoch(cfg models.StrategyConfig) *BollStoch {
	return &BollStoch{cfg: cfg}
}

func (s *BollStoch) minCandles() int {
	n := s.cfg.RSIWindow + s.cfg.StochWindow + s.cfg.SmoothK + s.cfg.SmoothD
	if s.cfg.BollWindow > n {
		n = s.cfg.BollWindow
	}
	if s.cfg.EMAWindow > n {
		n = s.cfg.EMAWindow
	}
	return n
}

func (s *BollStoch) Analyze(symbol string, series map[string][]models.Candle) (models.Signal, error) {
	var buyWeight, sellWeight float64
	evaluated := 0

	for _, tf := range sortedTimeframes(series) {
		candles := series[tf]
		if len(candles) < s.minCandles() {
			continue
		}
		prices := make([]float64, len(candles))
		for i, c := range candles {
			prices[i] = c.Close
		}

		_, upper, lower := Bollinger(prices, s.cfg.BollWindow, s.cfg.BollStd)
		ema := EMA(prices, s.cfg.EMAWindow)
		k, d, ok := StochRSI(prices, s.cfg.RSIWindow, s.cfg.StochWindow, s.cfg.SmoothK, s.cfg.SmoothD)
		if !ok {
			continue
		}
		evaluated++
		price := prices[len(prices)-1]

		buy := count(price < lower, price > ema, k < s.cfg.Oversold, k > d)
		sell := count(price > upper, price < ema, k > s.cfg.Overbought, k < d)
		weight := s.weight(tf)
		switch {
		case buy >= 3:
			buyWeight += weight * float64(buy) / 4
		case sell >= 3:
			sellWeight += weight * float64(sell) / 4
		}
	}
	if evaluated == 0 {
		return models.Signal{Direction: models.SignalNeutral}, ErrNoData
	}

	sig := models.Signal{Direction: models.SignalNeutral}
	switch {
	case buyWeight > sellWeight:
		sig.Direction = models.SignalBuy
		sig.Confidence = buyWeight / (buyWeight + sellWeight)
	case sellWeight > buyWeight:
		sig.Direction = models.SignalSell
		sig.Confidence = sellWeight / (buyWeight + sellWeight)
	}
	if sig.Direction == models.SignalBuy {
		sig.Levels = riskLevels(series[sortedTimeframes(series)[0]])
	}
	return sig, nil
}

func (s *BollStoch) weight(tf string) float64 {
	if w, ok := s.cfg.TimeframeWeights[tf]; ok {
		return w
	}
	return 0.1
}

// riskLevels places the stop two and the target three last-bar ranges away from the close.
func riskLevels(candles []models.Candle) models.RiskLevels {
	if len(candles) == 0 {
		return models.RiskLevels{}
	}
	last := candles[len(candles)-1]
	rng := last.High - last.Low
	if rng <= 0 {
		return models.RiskLevels{}
	}
	return models.RiskLevels{
		StopLoss:   last.Close - 2*rng,
		TakeProfit: last.Close + 3*rng,
	}
}

func count(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}

// sortedTimeframes orders timeframes from shortest to longest.
func sortedTimeframes(series map[string][]models.Candle) []string {
	tfs := make([]string, 0, len(series))
	for tf := range series {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool {
		di, dj := TimeframeDuration(tfs[i]), TimeframeDuration(tfs[j])
		if di == dj {
			return tfs[i] < tfs[j]
		}
		return di < dj
	})
	return tfs
}

// TimeframeDuration parses Binance interval strings such as 15m, 4h, 1d, 1w. Unknown values yield 0.
func TimeframeDuration(tf string) time.Duration {
	if len(tf) < 2 {
		return 0
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil {
		return 0
	}
	unit := map[byte]time.Duration{
		's': time.Second,
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[tf[len(tf)-1]]
	return time.Duration(n) * unit
}
