package indicator

import (
	"fmt"
	"testing"
	"time"

	"github.com/sdcoffey/big"
	"github.com/sdcoffey/techan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// techanSeries builds a techan time series from close prices
func techanSeries(closes []float64) *techan.TimeSeries {
	series := techan.NewTimeSeries()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candle := techan.NewCandle(techan.NewTimePeriod(start.Add(time.Duration(i)*time.Hour), time.Hour))
		candle.OpenPrice = big.NewDecimal(c)
		candle.MaxPrice = big.NewDecimal(c)
		candle.MinPrice = big.NewDecimal(c)
		candle.ClosePrice = big.NewDecimal(c)
		candle.Volume = big.NewDecimal(1)
		series.AddCandle(candle)
	}
	return series
}

// Cross-check the full-window SMA against an independent implementation
func TestSMA_MatchesTechan(t *testing.T) {
	closes := []float64{
		101.2, 99.8, 103.4, 97.1, 105.9, 100.0, 102.3, 98.7, 104.1, 96.5,
		101.9, 99.2, 103.8, 97.6, 105.2, 100.4, 102.8, 98.1, 104.6, 96.9,
		107.3, 93.4, 108.8, 91.2, 110.5,
	}
	ts := techanSeries(closes)

	for _, period := range []int{5, 12, 20} {
		ref := techan.NewSimpleMovingAverage(techan.NewClosePriceIndicator(ts), period)
		for i := period - 1; i < len(closes); i++ {
			got, ok := SMA(closes[:i+1], period)
			require.True(t, ok, "period %d index %d", period, i)
			assert.InDelta(t, ref.Calculate(i).Float(), got, 1e-9,
				fmt.Sprintf("period %d index %d", period, i))
		}
	}
}

// Cross-check the Bollinger middle band against techan's moving average
func TestBollingerMiddle_MatchesTechan(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + 5*float64(i%7) - float64(i)/3
	}
	ts := techanSeries(closes)
	ref := techan.NewSimpleMovingAverage(techan.NewClosePriceIndicator(ts), BollingerPeriod)

	for i := BollingerPeriod - 1; i < len(closes); i++ {
		_, middle, _, ok := BollingerBands(closes[:i+1], BollingerPeriod, BollingerK)
		require.True(t, ok)
		assert.InDelta(t, ref.Calculate(i).Float(), middle, 1e-9, "index %d", i)
	}
}
