package indicator

import (
	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

// Snapshot summarizes the tail of a series into a point-in-time indicator
// view. This path uses the zero sentinel for short SMA windows (the
// enrichment path keeps nil instead); the Bollinger middle inherits that
// zero, which keeps the band ordering invariant intact even on short input.
func Snapshot(series models.Series) models.IndicatorSnapshot {
	closes := series.Closes()

	sma20 := smaOrZero(closes, SMAShortPeriod)
	sma50 := smaOrZero(closes, SMALongPeriod)

	upper, middle, lower, ok := BollingerBands(closes, BollingerPeriod, BollingerK)
	if !ok {
		upper, middle, lower = 0, 0, 0
	}

	rsi := RSI(closes, RSIPeriod)

	snap := models.IndicatorSnapshot{
		RSI:   rsi,
		SMA20: sma20,
		SMA50: sma50,
		MACD:  MACDApprox(closes),
		Bollinger: models.Bollinger{
			Upper:  upper,
			Middle: middle,
			Lower:  lower,
		},
		ATR:   ATR(series, ATRPeriod),
		Trend: ClassifyTrend(sma20, sma50),
	}
	snap.Signal = snapshotSignal(rsi)
	return snap
}

// snapshotSignal is the coarse overbought/oversold call attached to the
// snapshot itself; the scored Prediction is computed separately.
func snapshotSignal(rsi float64) models.Signal {
	switch {
	case rsi < 30:
		return models.SignalBuy
	case rsi > 70:
		return models.SignalSell
	default:
		return models.SignalNeutral
	}
}
