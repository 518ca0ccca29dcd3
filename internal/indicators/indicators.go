// Package indicators provides technical indicator calculations over daily
// candle series. Series are chronological, most-recent last. Result slices
// are index-aligned with the input; positions before the warm-up period
// hold zero.
package indicators

import (
	"errors"
	"math"

	"kis-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when the series is shorter than the
	// indicator's warm-up period.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrInvalidPeriod is returned when a period is not positive.
	ErrInvalidPeriod = errors.New("invalid period")
)

// Closes extracts closing prices from a candle series.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes from a candle series.
func Volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = float64(c.Volume)
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SMA calculates the simple moving average.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) < period {
		return nil, ErrInsufficientData
	}

	result := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			result[i] = sum / float64(period)
		}
	}
	return result, nil
}

// EMA calculates the exponential moving average, seeded with the SMA of
// the first period values.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) < period {
		return nil, ErrInsufficientData
	}

	result := make([]float64, len(values))
	multiplier := 2.0 / float64(period+1)

	result[period-1] = mean(values[:period])
	for i := period; i < len(values); i++ {
		result[i] = (values[i]-result[i-1])*multiplier + result[i-1]
	}
	return result, nil
}

// RSI calculates the Relative Strength Index with Wilder smoothing.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) < period+1 {
		return nil, ErrInsufficientData
	}

	n := len(values)
	result := make([]float64, n)
	gains := make([]float64, n)
	losses := make([]float64, n)

	for i := 1; i < n; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	avgGain := mean(gains[1 : period+1])
	avgLoss := mean(losses[1 : period+1])
	result[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result[i] = rsiValue(avgGain, avgLoss)
	}
	return result, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult holds the MACD line, signal line, and histogram, all
// index-aligned with the input series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD calculates Moving Average Convergence Divergence. Conventional
// periods are 12, 26, 9.
func MACD(values []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return nil, ErrInvalidPeriod
	}
	if len(values) < slow+signal {
		return nil, ErrInsufficientData
	}

	fastEMA, err := EMA(values, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return nil, err
	}

	n := len(values)
	macd := make([]float64, n)
	for i := slow - 1; i < n; i++ {
		macd[i] = fastEMA[i] - slowEMA[i]
	}

	// Signal is an EMA of the MACD line, computed over the region where
	// MACD is defined and shifted back into alignment.
	sigRegion, err := EMA(macd[slow-1:], signal)
	if err != nil {
		return nil, err
	}
	sig := make([]float64, n)
	copy(sig[slow-1:], sigRegion)

	hist := make([]float64, n)
	for i := slow + signal - 2; i < n; i++ {
		hist[i] = macd[i] - sig[i]
	}

	return &MACDResult{MACD: macd, Signal: sig, Histogram: hist}, nil
}

// StochasticResult holds the %K and %D lines.
type StochasticResult struct {
	K []float64
	D []float64
}

// Stochastic calculates the stochastic oscillator. Conventional periods
// are 14 for %K and 3 for %D.
func Stochastic(candles []models.Candle, kPeriod, dPeriod int) (*StochasticResult, error) {
	if kPeriod <= 0 || dPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < kPeriod+dPeriod-1 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	k := make([]float64, n)
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := candles[i].High, candles[i].Low
		for j := i - kPeriod + 1; j <= i; j++ {
			hi = math.Max(hi, candles[j].High)
			lo = math.Min(lo, candles[j].Low)
		}
		if hi == lo {
			k[i] = 50
			continue
		}
		k[i] = (candles[i].Close - lo) / (hi - lo) * 100
	}

	d := make([]float64, n)
	for i := kPeriod + dPeriod - 2; i < n; i++ {
		d[i] = mean(k[i-dPeriod+1 : i+1])
	}

	return &StochasticResult{K: k, D: d}, nil
}

// OBV calculates On-Balance Volume.
func OBV(candles []models.Candle) []float64 {
	result := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			result[i] = result[i-1] + float64(candles[i].Volume)
		case candles[i].Close < candles[i-1].Close:
			result[i] = result[i-1] - float64(candles[i].Volume)
		default:
			result[i] = result[i-1]
		}
	}
	return result
}

// BollingerResult holds the middle band and the upper/lower envelopes.
type BollingerResult struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger calculates Bollinger bands: an SMA middle band with envelopes
// width standard deviations away.
func Bollinger(values []float64, period int, width float64) (*BollingerResult, error) {
	middle, err := SMA(values, period)
	if err != nil {
		return nil, err
	}

	n := len(values)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := period - 1; i < n; i++ {
		window := values[i-period+1 : i+1]
		m := middle[i]
		var variance float64
		for _, v := range window {
			variance += (v - m) * (v - m)
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = m + width*sd
		lower[i] = m - width*sd
	}

	return &BollingerResult{Middle: middle, Upper: upper, Lower: lower}, nil
}

// BreakoutTarget returns the volatility breakout trigger price for a
// session: today's open plus k times the previous session's range.
func BreakoutTarget(prev models.Candle, todayOpen, k float64) float64 {
	return todayOpen + (prev.High-prev.Low)*k
}

// CrossedAbove reports whether series a crossed above series b at the last
// step: a was at or below b on the previous index and is strictly above on
// the last.
func CrossedAbove(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	return a[n-2] <= b[n-2] && a[n-1] > b[n-1]
}

// Rising reports whether the series increased over the given lookback.
func Rising(values []float64, lookback int) bool {
	n := len(values)
	if n < lookback+1 || lookback <= 0 {
		return false
	}
	return values[n-1] > values[n-1-lookback]
}
