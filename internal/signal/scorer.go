// Package signal converts an indicator snapshot plus the current price into
// a bounded-confidence BUY/SELL/HOLD prediction. The scorer is a fixed
// point-scoring rule set, not a trained model; the weights and thresholds
// are the behavioral contract and must not drift.
package signal

import (
	"math"
	"math/rand"
	"time"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

const (
	trendWeight     = 30
	reversionWeight = 40
	breakoutWeight  = 20
	momentumWeight  = 10

	buyThreshold  = 25
	sellThreshold = -25

	rsiOversold   = 30
	rsiOverbought = 70

	// A band width below this counts as a volatility squeeze
	squeezeWidth = 0.05

	maxConfidence = 98
	jitterRange   = 5
)

// Scorer scores indicator snapshots into predictions. Confidence carries
// injected random jitter, so two calls with identical inputs may differ;
// tests inject a fixed source.
type Scorer struct {
	rng *rand.Rand
}

// NewScorer creates a scorer with a time-seeded jitter source
func NewScorer() *Scorer {
	return NewScorerWithSource(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewScorerWithSource creates a scorer with the given jitter source
func NewScorerWithSource(rng *rand.Rand) *Scorer {
	return &Scorer{rng: rng}
}

// Score evaluates the rule nodes against the snapshot and current price
func (s *Scorer) Score(snap models.IndicatorSnapshot, currentPrice float64) models.Prediction {
	var score float64

	// Trend following: ride the move only when price confirms the long SMA
	if snap.Trend == models.TrendUp && currentPrice > snap.SMA50 {
		score += trendWeight
	} else if snap.Trend == models.TrendDown && currentPrice < snap.SMA50 {
		score -= trendWeight
	}

	// Mean reversion on RSI extremes
	if snap.RSI < rsiOversold {
		score += reversionWeight
	} else if snap.RSI > rsiOverbought {
		score -= reversionWeight
	}

	// Volatility squeeze: a tight band plus a close outside it is a breakout
	width := bandWidth(snap.Bollinger)
	if width < squeezeWidth {
		if currentPrice > snap.Bollinger.Upper {
			score += breakoutWeight
		} else if currentPrice < snap.Bollinger.Lower {
			score -= breakoutWeight
		}
	}

	// Momentum from the MACD histogram sign
	if snap.MACD.Histogram > 0 {
		score += momentumWeight
	} else {
		score -= momentumWeight
	}

	sig := models.SignalHold
	if score > buyThreshold {
		sig = models.SignalBuy
	} else if score < sellThreshold {
		sig = models.SignalSell
	}

	confidence := math.Min(math.Abs(score), maxConfidence)
	confidence -= s.rng.Float64() * jitterRange
	if confidence < 0 {
		confidence = 0
	}

	return models.Prediction{
		Signal:     sig,
		Confidence: confidence,
		Features: models.PredictionFeatures{
			RSINormalized: (snap.RSI - 50) / 50,
			TrendStrength: trendStrength(snap.Trend),
			Volatility:    width,
		},
	}
}

// bandWidth is the relative Bollinger band width, zero when undefined
func bandWidth(b models.Bollinger) float64 {
	if b.Middle == 0 {
		return 0
	}
	w := (b.Upper - b.Lower) / b.Middle
	if w < 0 {
		return 0
	}
	return w
}

func trendStrength(t models.Trend) float64 {
	switch t {
	case models.TrendUp:
		return 1
	case models.TrendDown:
		return -1
	default:
		return 0
	}
}
