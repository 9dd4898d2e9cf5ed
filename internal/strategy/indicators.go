package strategy

import "math"

// tail returns the last n values.
func tail(values []float64, n int) []float64 {
	if n > len(values) {
		n = len(values)
	}
	return values[len(values)-n:]
}

// SMA is the simple mean of the last window values.
func SMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range tail(values, window) {
		sum += v
	}
	return sum / float64(window)
}

// Bollinger returns the middle, upper and lower bands over the last window values
// using the population standard deviation.
func Bollinger(values []float64, window int, k float64) (mid, upper, lower float64) {
	mid = SMA(values, window)
	if math.IsNaN(mid) {
		return mid, mid, mid
	}
	variance := 0.0
	for _, v := range tail(values, window) {
		variance += (v - mid) * (v - mid)
	}
	std := math.Sqrt(variance / float64(window))
	return mid, mid + k*std, mid - k*std
}

// EMA returns the exponential moving average of the full series, seeded with the SMA of the first window values.
func EMA(values []float64, window int) float64 {
	if window <= 0 || len(values) < window {
		return math.NaN()
	}
	alpha := 2.0 / float64(window+1)
	ema := SMA(values[:window], window)
	for _, v := range values[window:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// RSI returns Wilder's RSI for every index from window onwards.
func RSI(values []float64, window int) []float64 {
	if window <= 0 || len(values) <= window {
		return nil
	}
	var gain, loss float64
	for i := 1; i <= window; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(window), loss/float64(window)
	out := []float64{rsiFrom(avgGain, avgLoss)}
	for i := window + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(window-1) + g) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + l) / float64(window)
		out = append(out, rsiFrom(avgGain, avgLoss))
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StochRSI returns the last %K and %D of the stochastic oscillator applied to RSI.
func StochRSI(values []float64, rsiWindow, stochWindow, smoothK, smoothD int) (k, d float64, ok bool) {
	rsi := RSI(values, rsiWindow)
	if len(rsi) < stochWindow+smoothK+smoothD-2 {
		return 0, 0, false
	}
	var raw []float64
	for i := stochWindow - 1; i < len(rsi); i++ {
		lo, hi := rsi[i], rsi[i]
		for _, v := range rsi[i-stochWindow+1 : i+1] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, (rsi[i]-lo)/(hi-lo)*100)
	}

	var kSeries []float64
	for i := smoothK; i <= len(raw); i++ {
		kSeries = append(kSeries, SMA(raw[:i], smoothK))
	}
	if len(kSeries) < smoothD {
		return 0, 0, false
	}
	return kSeries[len(kSeries)-1], SMA(kSeries, smoothD), true
}
