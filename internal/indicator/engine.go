// Package indicator implements the pure indicator math for candle series:
// rolling SMA and standard deviation, Bollinger Bands, a simple-average RSI,
// ATR, an SMA-approximated MACD, whole-series enrichment and the snapshot
// builder. All functions are stateless and never look ahead of the index
// they are computed for.
package indicator

import (
	"math"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

const (
	// SMAShortPeriod and SMALongPeriod are the enrichment windows
	SMAShortPeriod = 20
	SMALongPeriod  = 50

	// BollingerPeriod and BollingerK define the band computation
	BollingerPeriod = 20
	BollingerK      = 2.0

	// RSIPeriod is the number of close-to-close transitions averaged
	RSIPeriod = 14

	// ATRPeriod is the number of true ranges averaged
	ATRPeriod = 14

	// MACD uses short/long simple averages instead of exponential ones.
	// The signal line is a fixed fraction of the value, not an EMA of it.
	MACDShortPeriod  = 12
	MACDLongPeriod   = 26
	macdSignalFactor = 0.9
)

// SMA returns the arithmetic mean of the last period closes. ok is false
// when fewer than period values exist; callers must not use the value then.
func SMA(closes []float64, period int) (float64, bool) {
	if period < 1 || len(closes) < period {
		return 0, false
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// smaOrZero is the legacy snapshot-path SMA: zero, not an error, when the
// window is short. The per-point enrichment path keeps the ok-flag form;
// downstream consumers rely on each convention at its own call site.
func smaOrZero(closes []float64, period int) float64 {
	v, ok := SMA(closes, period)
	if !ok {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation (divide by period, not
// period-1) of the last period closes.
func StdDev(closes []float64, period int) (float64, bool) {
	mean, ok := SMA(closes, period)
	if !ok {
		return 0, false
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		d := c - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(period)), true
}

// BollingerBands returns upper/middle/lower for the last period closes.
// ok is false when the window is short.
func BollingerBands(closes []float64, period int, k float64) (upper, middle, lower float64, ok bool) {
	middle, ok = SMA(closes, period)
	if !ok {
		return 0, 0, 0, false
	}
	sd, _ := StdDev(closes, period)
	return middle + k*sd, middle, middle - k*sd, true
}

// RSI computes a simple-average RSI over the last period transitions.
// Unlike Wilder's RSI there is no smoothing: gains and losses are plain
// means. Returns 50 when fewer than period+1 closes exist and 100 when
// there are no losses in the window.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	tail := closes[len(closes)-(period+1):]
	var avgGain, avgLoss float64
	for i := 1; i < len(tail); i++ {
		change := tail[i] - tail[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// ATR computes the mean true range over the last period bars, substituting
// the close for a missing high or low. Returns 0 with fewer than two bars.
func ATR(series models.Series, period int) float64 {
	if len(series) < 2 {
		return 0
	}
	start := len(series) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	n := 0
	for i := start; i < len(series); i++ {
		high := series[i].High
		low := series[i].Low
		if high == 0 {
			high = series[i].Close
		}
		if low == 0 {
			low = series[i].Close
		}
		prevClose := series[i-1].Close
		tr := high - low
		if hc := math.Abs(high - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(low - prevClose); lc > tr {
			tr = lc
		}
		sum += tr
		n++
	}
	return sum / float64(n)
}

// MACDApprox computes the SMA-based MACD approximation. Short windows fall
// back to the zero SMA sentinel, so early values drift toward zero rather
// than being undefined.
func MACDApprox(closes []float64) models.MACD {
	value := smaOrZero(closes, MACDShortPeriod) - smaOrZero(closes, MACDLongPeriod)
	return models.MACD{
		Value:     value,
		Signal:    macdSignalFactor * value,
		Histogram: (1 - macdSignalFactor) * value,
	}
}

// ClassifyTrend maps the SMA20/SMA50 relationship to a trend
func ClassifyTrend(sma20, sma50 float64) models.Trend {
	switch {
	case sma20 > sma50:
		return models.TrendUp
	case sma20 < sma50:
		return models.TrendDown
	default:
		return models.TrendSideways
	}
}

// Enrich recomputes the rolling indicator fields for every point of the
// series, using only the prefix [0..i] at each index. Already-enriched
// input is fine: every field is overwritten, so re-running is idempotent.
// This is O(n*w) and is re-run in full on every streaming update.
func Enrich(series models.Series) models.Series {
	closes := series.Closes()
	out := make(models.Series, len(series))
	for i := range series {
		out[i] = models.EnrichedCandle{Candle: series[i].Candle}
		prefix := closes[:i+1]
		if v, ok := SMA(prefix, SMAShortPeriod); ok {
			out[i].SMA20 = ptr(v)
		}
		if v, ok := SMA(prefix, SMALongPeriod); ok {
			out[i].SMA50 = ptr(v)
		}
		if upper, _, lower, ok := BollingerBands(prefix, BollingerPeriod, BollingerK); ok {
			out[i].BollingerUpper = ptr(upper)
			out[i].BollingerLower = ptr(lower)
		}
	}
	return out
}

func ptr(v float64) *float64 {
	return &v
}
