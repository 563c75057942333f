// Package stream keeps the live candle window and its derived views
// consistent as kline ticks arrive: each tick is merged into the window and
// indicators, prediction and backtest are recomputed from scratch over the
// merged window. The derived views are disposable; there is no incremental
// update path.
package stream

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/crypto-insight/internal/backtest"
	"github.com/mohamedkhairy/crypto-insight/internal/indicator"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

var (
	ticksMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_ticks_merged_total",
			Help: "Total number of ticks merged into the live window",
		},
		[]string{"mode"}, // "replace" or "append"
	)

	ticksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_ticks_dropped_total",
			Help: "Total number of ticks dropped by validation",
		},
	)

	recomputeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stream_recompute_duration_seconds",
			Help:    "Full pipeline recompute latency per merged tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

// DefaultWindowSize caps the live window length
const DefaultWindowSize = 200

// Update is the full derived state after one merged tick
type Update struct {
	Series     models.Series
	Snapshot   models.IndicatorSnapshot
	Prediction models.Prediction
	Backtest   *models.BacktestResult
}

// Enricher merges live ticks into a candle window and recomputes every
// derived view over the result.
type Enricher struct {
	scorer          backtest.Scorer
	simulator       *backtest.Simulator
	windowSize      int
	backtestBalance float64
}

// NewEnricher creates an enricher. windowSize bounds the live window;
// backtestBalance seeds the per-tick simulation.
func NewEnricher(scorer backtest.Scorer, windowSize int, backtestBalance float64) (*Enricher, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("window size must be at least 1, got %d", windowSize)
	}
	if backtestBalance <= 0 {
		return nil, fmt.Errorf("backtest balance must be positive, got %f", backtestBalance)
	}
	return &Enricher{
		scorer:          scorer,
		simulator:       backtest.NewSimulator(scorer),
		windowSize:      windowSize,
		backtestBalance: backtestBalance,
	}, nil
}

// Merge applies one tick to the current series and returns the recomputed
// state. The input series is not modified. A tick failing validation
// returns an error and the caller keeps its current state.
func (e *Enricher) Merge(current models.Series, tick models.LiveTick) (*Update, error) {
	if err := tick.Validate(); err != nil {
		ticksDropped.Inc()
		return nil, fmt.Errorf("dropping tick: %w", err)
	}

	start := time.Now()

	merged := make(models.Series, len(current), len(current)+1)
	copy(merged, current)

	candle := models.EnrichedCandle{Candle: tick.Candle()}
	if n := len(merged); n > 0 && merged[n-1].Label == tick.Label {
		// Same bucket: the in-progress candle is being updated
		merged[n-1] = candle
		ticksMerged.WithLabelValues("replace").Inc()
	} else {
		merged = append(merged, candle)
		ticksMerged.WithLabelValues("append").Inc()
	}
	if len(merged) > e.windowSize {
		merged = merged[len(merged)-e.windowSize:]
	}

	enriched := indicator.Enrich(merged)
	snapshot := indicator.Snapshot(enriched)
	prediction := e.scorer.Score(snapshot, tick.Close)
	result, err := e.simulator.Run(enriched, e.backtestBalance)
	if err != nil {
		return nil, fmt.Errorf("backtest over merged window: %w", err)
	}

	recomputeLatency.Observe(time.Since(start).Seconds())

	return &Update{
		Series:     enriched,
		Snapshot:   snapshot,
		Prediction: prediction,
		Backtest:   result,
	}, nil
}
