package backtest

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/signal"
)

// scriptedScorer replays a fixed prediction per step, ignoring indicators
type scriptedScorer struct {
	script []models.Prediction
	step   int
}

func (s *scriptedScorer) Score(models.IndicatorSnapshot, float64) models.Prediction {
	if s.step >= len(s.script) {
		return models.Prediction{Signal: models.SignalHold}
	}
	p := s.script[s.step]
	s.step++
	return p
}

func seriesFromCloses(closes []float64) models.Series {
	out := make(models.Series, len(closes))
	for i, c := range closes {
		out[i] = models.EnrichedCandle{Candle: models.Candle{
			Label: fmt.Sprintf("t%03d", i),
			Close: c,
		}}
	}
	return out
}

func constantSeries(n int, price float64) models.Series {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return seriesFromCloses(closes)
}

func hold() models.Prediction {
	return models.Prediction{Signal: models.SignalHold}
}

func buy(confidence float64) models.Prediction {
	return models.Prediction{Signal: models.SignalBuy, Confidence: confidence}
}

func sell() models.Prediction {
	return models.Prediction{Signal: models.SignalSell, Confidence: 90}
}

func TestRun_RejectsNonPositiveBalance(t *testing.T) {
	sim := NewSimulator(&scriptedScorer{})
	_, err := sim.Run(constantSeries(60, 100), 0)
	assert.Error(t, err)
}

func TestRun_ShortSeriesNoTrades(t *testing.T) {
	sim := NewSimulator(&scriptedScorer{})
	result, err := sim.Run(constantSeries(WarmupBars, 100), 10000)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Trades)
	assert.Equal(t, 10000.0, result.FinalBalance)
	assert.Equal(t, 0.0, result.TotalReturn)
	assert.Empty(t, result.EquityCurve)
}

func TestRun_BuyThenSell(t *testing.T) {
	// 54 candles: decision steps are indices 50..53
	closes := make([]float64, 54)
	for i := range closes {
		closes[i] = 100
	}
	closes[50] = 100 // entry price
	closes[52] = 110 // exit price
	series := seriesFromCloses(closes)

	scorer := &scriptedScorer{script: []models.Prediction{
		buy(80), hold(), sell(), hold(),
	}}
	result, err := NewSimulator(scorer).Run(series, 10000)
	require.NoError(t, err)

	// All-in at 100, all-out at 110
	assert.Equal(t, 1, result.Trades)
	assert.Equal(t, 1, result.WinningTrades)
	assert.InDelta(t, 11000.0, result.FinalBalance, 1e-9)
	assert.InDelta(t, 10.0, result.TotalReturn, 1e-9)
}

func TestRun_LowConfidenceBuyIgnored(t *testing.T) {
	scorer := &scriptedScorer{script: []models.Prediction{
		buy(60), buy(59), buy(10), hold(),
	}}
	result, err := NewSimulator(scorer).Run(constantSeries(54, 100), 10000)
	require.NoError(t, err)

	// Entry requires confidence strictly above 60
	assert.Equal(t, 0, result.Trades)
	assert.Equal(t, 10000.0, result.FinalBalance)
}

func TestRun_HoldWhileInPositionIsNoOp(t *testing.T) {
	closes := make([]float64, 54)
	for i := range closes {
		closes[i] = 100
	}
	closes[53] = 120
	series := seriesFromCloses(closes)

	scorer := &scriptedScorer{script: []models.Prediction{
		buy(90), hold(), hold(), hold(),
	}}
	result, err := NewSimulator(scorer).Run(series, 10000)
	require.NoError(t, err)

	// Open position is valued at the last close
	assert.Equal(t, 1, result.Trades)
	assert.InDelta(t, 12000.0, result.FinalBalance, 1e-9)
	assert.InDelta(t, 20.0, result.TotalReturn, 1e-9)
}

func TestRun_LosingExitNotCountedAsWin(t *testing.T) {
	closes := make([]float64, 54)
	for i := range closes {
		closes[i] = 100
	}
	closes[52] = 90
	closes[53] = 90
	series := seriesFromCloses(closes)

	scorer := &scriptedScorer{script: []models.Prediction{
		buy(90), hold(), sell(), hold(),
	}}
	result, err := NewSimulator(scorer).Run(series, 10000)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Trades)
	assert.Equal(t, 0, result.WinningTrades)
	assert.InDelta(t, 9000.0, result.FinalBalance, 1e-9)
	assert.InDelta(t, -10.0, result.TotalReturn, 1e-9)
}

func TestRun_DrawdownTracksPeakEquity(t *testing.T) {
	closes := make([]float64, 55)
	for i := range closes {
		closes[i] = 100
	}
	closes[51] = 150 // peak while holding
	closes[52] = 75  // trough
	closes[53] = 75
	closes[54] = 75
	series := seriesFromCloses(closes)

	scorer := &scriptedScorer{script: []models.Prediction{
		buy(90), hold(), hold(), hold(), hold(),
	}}
	result, err := NewSimulator(scorer).Run(series, 10000)
	require.NoError(t, err)

	// Equity peaked at 15000, fell to 7500: a 50% drawdown
	assert.InDelta(t, 50.0, result.MaxDrawdown, 1e-9)
}

func TestRun_EquityCurveShapeAndInvariants(t *testing.T) {
	series := constantSeries(80, 100)
	scorer := &scriptedScorer{script: []models.Prediction{
		buy(90), hold(), sell(), buy(70), hold(), sell(),
	}}
	result, err := NewSimulator(scorer).Run(series, 10000)
	require.NoError(t, err)

	require.Len(t, result.EquityCurve, len(series)-WarmupBars)
	for _, p := range result.EquityCurve {
		assert.NotEmpty(t, p.Label)
		assert.GreaterOrEqual(t, p.Equity, 0.0)
	}
}

func TestRun_MonotonicUptrendWithRealScorer(t *testing.T) {
	// Sustained increase leaves RSI at 100, so the overbought penalty
	// cancels the trend bonus and the strategy never enters.
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	scorer := signal.NewScorerWithSource(rand.New(rand.NewSource(1)))
	result, err := NewSimulator(scorer).Run(seriesFromCloses(closes), 10000)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Trades)
	assert.Equal(t, 10000.0, result.FinalBalance)
	assert.Equal(t, 0.0, result.MaxDrawdown)
}
