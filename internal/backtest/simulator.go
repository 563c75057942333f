// Package backtest replays a candle series through the indicator engine and
// signal scorer and simulates an all-in/all-out single-position strategy.
package backtest

import (
	"fmt"

	"github.com/mohamedkhairy/crypto-insight/internal/indicator"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/signal"
)

const (
	// WarmupBars is the number of candles skipped before the first decision,
	// enough for the 50-bar SMA window behind the trend classification.
	WarmupBars = 50

	// minEntryConfidence gates new positions
	minEntryConfidence = 60
)

// Scorer scores a snapshot and price into a prediction. *signal.Scorer
// satisfies it; tests substitute scripted implementations.
type Scorer interface {
	Score(snap models.IndicatorSnapshot, currentPrice float64) models.Prediction
}

var _ Scorer = (*signal.Scorer)(nil)

// Simulator runs walk-forward simulations. Each step only sees the series
// prefix up to its own index; indicators and predictions are recomputed
// from that prefix, never from the full series.
type Simulator struct {
	scorer Scorer
}

// NewSimulator creates a simulator using the given scorer
func NewSimulator(scorer Scorer) *Simulator {
	return &Simulator{scorer: scorer}
}

// Run simulates the strategy over the series starting from initialBalance.
// A series shorter than the warmup produces a result with no trades.
func (s *Simulator) Run(series models.Series, initialBalance float64) (*models.BacktestResult, error) {
	if initialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %f", initialBalance)
	}

	balance := initialBalance
	shares := 0.0
	maxBalance := initialBalance
	maxDrawdown := 0.0
	trades := 0
	winningTrades := 0
	curve := make([]models.EquityPoint, 0, max(0, len(series)-WarmupBars))

	lastPrice := 0.0
	for i := WarmupBars; i < len(series); i++ {
		price := series[i].Close
		lastPrice = price

		snap := indicator.Snapshot(series[:i+1])
		pred := s.scorer.Score(snap, price)

		if shares == 0 && pred.Signal == models.SignalBuy && pred.Confidence > minEntryConfidence {
			shares = balance / price
			balance = 0
			trades++
		} else if shares > 0 && pred.Signal == models.SignalSell {
			balance = shares * price
			shares = 0
			// A winning exit is one that sets a new equity high. This is a
			// peak comparison, not a per-trade entry/exit P&L check.
			if balance > maxBalance {
				winningTrades++
			}
		}

		equity := balance + shares*price
		if equity > maxBalance {
			maxBalance = equity
		}
		if dd := (maxBalance - equity) / maxBalance * 100; dd > maxDrawdown {
			maxDrawdown = dd
		}
		curve = append(curve, models.EquityPoint{Label: series[i].Label, Equity: equity})
	}

	finalBalance := balance
	if shares > 0 && lastPrice > 0 {
		finalBalance += shares * lastPrice
	}

	return &models.BacktestResult{
		InitialBalance: initialBalance,
		FinalBalance:   finalBalance,
		TotalReturn:    (finalBalance - initialBalance) / initialBalance * 100,
		Trades:         trades,
		WinningTrades:  winningTrades,
		MaxDrawdown:    maxDrawdown,
		EquityCurve:    curve,
	}, nil
}
