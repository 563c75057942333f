// Package history acquires candle series for a (symbol, interval, market)
// key. Live data comes from a Binance-style klines endpoint behind the
// series cache; any failure at that boundary resolves to a synthetic series
// instead of an error, so downstream stages always have data to work with.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/crypto-insight/internal/cache"
	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/indicator"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_fetch_total",
			Help: "Total number of history fetches by outcome",
		},
		[]string{"outcome"}, // "live" or "synthetic"
	)

	fetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "history_fetch_duration_seconds",
			Help:    "Upstream kline request latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)
)

// Provider fetches candle history through the series cache
type Provider struct {
	cfg    config.MarketDataConfig
	cache  *cache.ResultCache
	client *http.Client
}

// NewProvider creates a provider. A nil cache disables memoization.
func NewProvider(cfg config.MarketDataConfig, seriesCache *cache.ResultCache) *Provider {
	return &Provider{
		cfg:    cfg,
		cache:  seriesCache,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Fetch returns an enriched series of up to limit candles for key. It never
// fails: source errors fall back to the synthetic generator, and the result
// is always non-empty.
func (p *Provider) Fetch(ctx context.Context, key models.SeriesKey, limit int) models.Series {
	fetchFn := func(ctx context.Context) (models.Series, error) {
		return p.fetchWithFallback(ctx, key, limit), nil
	}

	if p.cache != nil {
		series, err := p.cache.GetOrFetch(ctx, key, fetchFn)
		if err == nil {
			return series
		}
		// Only an invalid key reaches here; degrade rather than fail
		logger.Warn("Cache lookup rejected, serving synthetic series",
			logger.String("key", key.String()),
			logger.ErrorField(err),
		)
	}
	return p.fetchWithFallback(ctx, key, limit)
}

func (p *Provider) fetchWithFallback(ctx context.Context, key models.SeriesKey, limit int) models.Series {
	series, err := p.fetchKlines(ctx, key, limit)
	if err != nil {
		logger.Warn("Kline fetch failed, falling back to synthetic series",
			logger.String("key", key.String()),
			logger.ErrorField(err),
		)
		fetchTotal.WithLabelValues("synthetic").Inc()
		return indicator.Enrich(Synthetic(key.Symbol, limit))
	}
	fetchTotal.WithLabelValues("live").Inc()
	return indicator.Enrich(series)
}

// fetchKlines requests candles from the REST klines endpoint
func (p *Provider) fetchKlines(ctx context.Context, key models.SeriesKey, limit int) (models.Series, error) {
	base := p.cfg.SpotBaseURL
	path := "/api/v3/klines"
	if key.MarketType == models.MarketFutures {
		base = p.cfg.FuturesBaseURL
		path = "/fapi/v1/klines"
	}

	endpoint := fmt.Sprintf("%s%s?%s", base, path, url.Values{
		"symbol":   {key.Symbol},
		"interval": {string(key.Interval)},
		"limit":    {strconv.Itoa(limit)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build kline request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kline request failed: %w", err)
	}
	defer resp.Body.Close()
	fetchLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kline request returned status %d", resp.StatusCode)
	}

	var rows [][]any
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode kline response: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrEmptySeries
	}

	series := make(models.Series, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("kline row %d: %w", i, err)
		}
		series = append(series, models.EnrichedCandle{Candle: candle})
	}
	return series, nil
}

// parseKlineRow maps one kline array row onto a Candle. The row layout is
// [openTime, open, high, low, close, volume, ...] with prices quoted as
// strings and timestamps as numbers.
func parseKlineRow(row []any) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("short kline row (%d fields)", len(row))
	}

	openTimeRaw, ok := row[0].(json.Number)
	if !ok {
		return models.Candle{}, fmt.Errorf("invalid open time %v", row[0])
	}
	openTimeMs, err := openTimeRaw.Int64()
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		v, err := rowFloat(row[i])
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	openTime := time.UnixMilli(openTimeMs).UTC()
	candle := models.Candle{
		Label:  models.BucketLabel(openTime),
		Time:   openTime,
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}
	if err := candle.Validate(); err != nil {
		return models.Candle{}, err
	}
	return candle, nil
}

// rowFloat accepts the string-quoted and bare-number field encodings
func rowFloat(v any) (float64, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("unexpected field type %T", v)
	}
}
