package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/engine"
	"github.com/mohamedkhairy/crypto-insight/internal/history"
	"github.com/mohamedkhairy/crypto-insight/internal/indicator"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/signal"
)

type fakeHistory struct{}

func (fakeHistory) Fetch(ctx context.Context, key models.SeriesKey, limit int) models.Series {
	return indicator.Enrich(history.Synthetic(key.Symbol, limit))
}

func testKey() models.SeriesKey {
	return models.SeriesKey{
		Symbol:     "BTCUSDT",
		Interval:   models.Interval1h,
		MarketType: models.MarketSpot,
	}
}

func newTestHandler(t *testing.T, subscribed bool) *Handler {
	t.Helper()

	cfg := config.EngineConfig{
		Symbol:          "BTCUSDT",
		Interval:        models.Interval1h,
		MarketType:      models.MarketSpot,
		HistoryLimit:    72,
		WindowSize:      200,
		BacktestBalance: 10000,
	}

	svc, err := engine.NewService(cfg, fakeHistory{}, signal.NewScorer())
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	if subscribed {
		require.NoError(t, svc.Subscribe(context.Background(), testKey()))
	}
	return NewHandler(svc)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "BTCUSDT", body["symbol"])
}

func TestGetSeries(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/api/v1/series", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Key     models.SeriesKey        `json:"key"`
		Candles []models.EnrichedCandle `json:"candles"`
		Count   int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, testKey(), body.Key)
	assert.Equal(t, len(body.Candles), body.Count)
	assert.NotEmpty(t, body.Candles)
}

func TestGetSeries_NotSubscribed(t *testing.T) {
	h := newTestHandler(t, false)

	req := httptest.NewRequest("GET", "/api/v1/series", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetIndicators(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/api/v1/indicators", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Snapshot models.IndicatorSnapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.GreaterOrEqual(t, body.Snapshot.RSI, 0.0)
	assert.LessOrEqual(t, body.Snapshot.RSI, 100.0)
	assert.NotEmpty(t, body.Snapshot.Trend)
}

func TestGetPrediction(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/api/v1/prediction", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Prediction models.Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, []models.Signal{models.SignalBuy, models.SignalSell, models.SignalHold}, body.Prediction.Signal)
	assert.GreaterOrEqual(t, body.Prediction.Confidence, 0.0)
	assert.LessOrEqual(t, body.Prediction.Confidence, 98.0)
}

func TestGetBacktest(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/api/v1/backtest", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body models.BacktestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 10000.0, body.InitialBalance)
	assert.Greater(t, body.FinalBalance, 0.0)
}

func TestGetInsight(t *testing.T) {
	h := newTestHandler(t, true)

	req := httptest.NewRequest("GET", "/api/v1/insight", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body engine.InsightContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTCUSDT", body.Symbol)
	assert.False(t, body.GeneratedAt.IsZero())
}

func TestSetInsightContext(t *testing.T) {
	h := newTestHandler(t, true)

	payload := `{"context": "funding positive, order book bid heavy"}`
	req := httptest.NewRequest("PUT", "/api/v1/insight/context", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/insight", nil)
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body engine.InsightContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "funding positive, order book bid heavy", body.MarketContext)
}

func TestSubscribe(t *testing.T) {
	h := newTestHandler(t, false)

	payload := `{"symbol": "ETHUSDT", "interval": "4h", "market_type": "FUTURES"}`
	req := httptest.NewRequest("POST", "/api/v1/subscribe", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string           `json:"status"`
		Key    models.SeriesKey `json:"key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "subscribed", body.Status)
	assert.Equal(t, "ETHUSDT", body.Key.Symbol)
	assert.Equal(t, models.Interval4h, body.Key.Interval)
}

func TestSubscribe_InvalidInterval(t *testing.T) {
	h := newTestHandler(t, false)

	payload := `{"symbol": "ETHUSDT", "interval": "3h"}`
	req := httptest.NewRequest("POST", "/api/v1/subscribe", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribe_BadBody(t *testing.T) {
	h := newTestHandler(t, false)

	req := httptest.NewRequest("POST", "/api/v1/subscribe", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportCSV(t *testing.T) {
	h := newTestHandler(t, false)

	var sb strings.Builder
	sb.WriteString("date,close\n")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		label := base.Add(time.Duration(i) * time.Hour).Format("2006-01-02 15:04")
		fmt.Fprintf(&sb, "%s,%.2f\n", label, 100.0+float64(i))
	}

	req := httptest.NewRequest("POST", "/api/v1/import?symbol=TESTUSDT", strings.NewReader(sb.String()))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string `json:"status"`
		Symbol  string `json:"symbol"`
		Candles int    `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "imported", body.Status)
	assert.Equal(t, 60, body.Candles)

	// Imported data is immediately queryable
	req = httptest.NewRequest("GET", "/api/v1/series", nil)
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImportCSV_MissingSymbol(t *testing.T) {
	h := newTestHandler(t, false)

	req := httptest.NewRequest("POST", "/api/v1/import", strings.NewReader("date,close\n2024-06-01,1\n"))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
