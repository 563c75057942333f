package models

import (
	"fmt"
	"math"
	"time"
)

// MarketType identifies which market a series belongs to
type MarketType string

const (
	MarketSpot    MarketType = "SPOT"
	MarketFutures MarketType = "FUTURES"
)

// Validate validates a MarketType
func (m MarketType) Validate() error {
	switch m {
	case MarketSpot, MarketFutures:
		return nil
	}
	return ErrInvalidMarketType
}

// Interval is a candle bucket size
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

var validIntervals = map[Interval]bool{
	Interval1m: true, Interval5m: true, Interval15m: true,
	Interval1h: true, Interval4h: true, Interval1d: true, Interval1w: true,
}

// Validate validates an Interval
func (i Interval) Validate() error {
	if !validIntervals[i] {
		return ErrInvalidInterval
	}
	return nil
}

// Trend is the SMA20/SMA50 relationship
type Trend string

const (
	TrendUp       Trend = "UP"
	TrendDown     Trend = "DOWN"
	TrendSideways Trend = "SIDEWAYS"
)

// Signal is a discrete directional signal
type Signal string

const (
	SignalBuy     Signal = "BUY"
	SignalSell    Signal = "SELL"
	SignalHold    Signal = "HOLD"
	SignalNeutral Signal = "NEUTRAL"
)

// SeriesKey identifies a cached candle series
type SeriesKey struct {
	Symbol     string     `json:"symbol"`
	Interval   Interval   `json:"interval"`
	MarketType MarketType `json:"market_type"`
}

// Validate validates a SeriesKey
func (k SeriesKey) Validate() error {
	if k.Symbol == "" {
		return ErrInvalidSymbol
	}
	if err := k.Interval.Validate(); err != nil {
		return err
	}
	return k.MarketType.Validate()
}

// String returns the key in symbol:interval:market form
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Symbol, k.Interval, k.MarketType)
}

// BucketLabel formats a bucket open time into the label shared by history
// candles and live ticks. Replace-in-place merging depends on both sides
// producing identical labels.
func BucketLabel(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// Candle is a single OHLCV bar. High/Low/Volume are zero for imported or
// simulated data that only carries a close price.
type Candle struct {
	Label  string    `json:"label"` // bucket label, stable across updates
	Time   time.Time `json:"time,omitempty"`
	Close  float64   `json:"close"`
	High   float64   `json:"high,omitempty"`
	Low    float64   `json:"low,omitempty"`
	Volume float64   `json:"volume,omitempty"`
}

// Validate validates a Candle
func (c *Candle) Validate() error {
	if c.Label == "" {
		return ErrInvalidLabel
	}
	if c.Close <= 0 || math.IsNaN(c.Close) || math.IsInf(c.Close, 0) {
		return ErrInvalidPrice
	}
	if c.High != 0 && c.Low != 0 && c.High < c.Low {
		return ErrInvalidCandle
	}
	return nil
}

// EnrichedCandle is a Candle plus rolling-window indicator fields. The
// pointer fields stay nil until the window behind them is full.
type EnrichedCandle struct {
	Candle
	SMA20          *float64 `json:"sma20,omitempty"`
	SMA50          *float64 `json:"sma50,omitempty"`
	BollingerUpper *float64 `json:"bollinger_upper,omitempty"`
	BollingerLower *float64 `json:"bollinger_lower,omitempty"`
}

// Series is a chronological candle sequence with no duplicate labels
type Series []EnrichedCandle

// Closes extracts the close prices in order
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i := range s {
		closes[i] = s[i].Close
	}
	return closes
}

// Clone returns a deep-enough copy; indicator pointers are not shared
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	for i := range out {
		out[i].SMA20 = clonePtr(s[i].SMA20)
		out[i].SMA50 = clonePtr(s[i].SMA50)
		out[i].BollingerUpper = clonePtr(s[i].BollingerUpper)
		out[i].BollingerLower = clonePtr(s[i].BollingerLower)
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MACD holds the approximate MACD triple
type MACD struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bollinger holds the three Bollinger band values
type Bollinger struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// IndicatorSnapshot is a point-in-time summary over a series tail. It is
// rebuilt wholesale on every update, never mutated in place.
type IndicatorSnapshot struct {
	RSI       float64   `json:"rsi"`
	SMA20     float64   `json:"sma20"`
	SMA50     float64   `json:"sma50"`
	MACD      MACD      `json:"macd"`
	Bollinger Bollinger `json:"bollinger"`
	ATR       float64   `json:"atr"`
	Trend     Trend     `json:"trend"`
	Signal    Signal    `json:"signal"`
}

// PredictionFeatures are the inputs the scorer derived its decision from
type PredictionFeatures struct {
	RSINormalized float64 `json:"rsiNormalized"` // [-1, 1]
	TrendStrength float64 `json:"trendStrength"` // -1, 0 or 1
	Volatility    float64 `json:"volatility"`    // band width, >= 0
}

// Prediction is the scored directional call for the current price
type Prediction struct {
	Signal     Signal             `json:"signal"` // BUY, SELL or HOLD
	Confidence float64            `json:"confidence"`
	Features   PredictionFeatures `json:"features"`
}

// EquityPoint is one step of a backtest equity curve
type EquityPoint struct {
	Label  string  `json:"label"`
	Equity float64 `json:"equity"`
}

// BacktestResult summarizes one full simulation run
type BacktestResult struct {
	InitialBalance float64       `json:"initialBalance"`
	FinalBalance   float64       `json:"finalBalance"`
	TotalReturn    float64       `json:"totalReturn"` // percent
	Trades         int           `json:"trades"`
	WinningTrades  int           `json:"winningTrades"`
	MaxDrawdown    float64       `json:"maxDrawdown"` // percent
	EquityCurve    []EquityPoint `json:"equityCurve"`
}

// LiveTick is one streamed kline update for the subscribed (symbol, interval).
// The same Label may arrive many times while its bucket is still open.
type LiveTick struct {
	Label  string  `json:"label"`
	Close  float64 `json:"close"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
}

// Validate validates a LiveTick before it is merged into the live window
func (t *LiveTick) Validate() error {
	if t.Label == "" {
		return ErrInvalidLabel
	}
	for _, v := range []float64{t.Close, t.High, t.Low, t.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrInvalidTick
		}
	}
	if t.Close <= 0 {
		return ErrInvalidPrice
	}
	if t.High != 0 && t.Low != 0 && t.High < t.Low {
		return ErrInvalidTick
	}
	return nil
}

// Candle converts the tick into a candle for merging
func (t *LiveTick) Candle() Candle {
	return Candle{
		Label:  t.Label,
		Close:  t.Close,
		High:   t.High,
		Low:    t.Low,
		Volume: t.Volume,
	}
}
