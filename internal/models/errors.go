package models

import "errors"

var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrInvalidMarketType = errors.New("invalid market type")
	ErrInvalidLabel      = errors.New("invalid bucket label")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidCandle     = errors.New("invalid candle (high < low)")
	ErrInvalidTick       = errors.New("invalid tick payload")
	ErrEmptySeries       = errors.New("empty candle series")
	ErrNoSubscription    = errors.New("no active subscription")
)
