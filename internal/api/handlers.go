// Package api exposes the engine state over a read-only HTTP interface.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/crypto-insight/internal/engine"
	"github.com/mohamedkhairy/crypto-insight/internal/importer"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

// Handler serves the analytics endpoints backed by an engine service
type Handler struct {
	service *engine.Service
}

// NewHandler creates a new API handler
func NewHandler(service *engine.Service) *Handler {
	return &Handler{service: service}
}

// Router builds the HTTP router
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/series", h.GetSeries).Methods("GET")
	v1.HandleFunc("/indicators", h.GetIndicators).Methods("GET")
	v1.HandleFunc("/prediction", h.GetPrediction).Methods("GET")
	v1.HandleFunc("/backtest", h.GetBacktest).Methods("GET")
	v1.HandleFunc("/insight", h.GetInsight).Methods("GET")
	v1.HandleFunc("/insight/context", h.SetInsightContext).Methods("PUT")
	v1.HandleFunc("/subscribe", h.Subscribe).Methods("POST")
	v1.HandleFunc("/import", h.ImportCSV).Methods("POST")

	return r
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"symbol": h.service.Key().Symbol,
		"time":   time.Now().UTC(),
	})
}

// GetSeries handles GET /api/v1/series
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	series := h.service.Series()
	if len(series) == 0 {
		respondWithError(w, http.StatusNotFound, "No series loaded")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"key":     h.service.Key(),
		"candles": series,
		"count":   len(series),
	})
}

// GetIndicators handles GET /api/v1/indicators
func (h *Handler) GetIndicators(w http.ResponseWriter, r *http.Request) {
	if len(h.service.Series()) == 0 {
		respondWithError(w, http.StatusNotFound, "No series loaded")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"key":      h.service.Key(),
		"snapshot": h.service.Snapshot(),
	})
}

// GetPrediction handles GET /api/v1/prediction
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	if len(h.service.Series()) == 0 {
		respondWithError(w, http.StatusNotFound, "No series loaded")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"key":        h.service.Key(),
		"prediction": h.service.Prediction(),
	})
}

// GetBacktest handles GET /api/v1/backtest
func (h *Handler) GetBacktest(w http.ResponseWriter, r *http.Request) {
	result := h.service.Backtest()
	if result == nil {
		respondWithError(w, http.StatusNotFound, "No backtest available")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// GetInsight handles GET /api/v1/insight
func (h *Handler) GetInsight(w http.ResponseWriter, r *http.Request) {
	if len(h.service.Series()) == 0 {
		respondWithError(w, http.StatusNotFound, "No series loaded")
		return
	}

	respondWithJSON(w, http.StatusOK, h.service.Insight())
}

// SetInsightContext handles PUT /api/v1/insight/context. The body is an
// opaque textual market summary attached verbatim to subsequent insights.
func (h *Handler) SetInsightContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.service.SetMarketContext(req.Context)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status": "updated",
	})
}

// subscribeRequest is the body of POST /api/v1/subscribe
type subscribeRequest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	MarketType string `json:"market_type"`
}

// Subscribe handles POST /api/v1/subscribe
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.MarketType == "" {
		req.MarketType = string(models.MarketSpot)
	}

	key := models.SeriesKey{
		Symbol:     req.Symbol,
		Interval:   models.Interval(req.Interval),
		MarketType: models.MarketType(req.MarketType),
	}
	if err := key.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.Subscribe(r.Context(), key); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to subscribe: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status": "subscribed",
		"key":    key,
	})
}

// ImportCSV handles POST /api/v1/import. The body is a CSV document with a
// date and close column; the query parameter "symbol" names the series.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "Missing symbol parameter")
		return
	}

	candles, err := importer.ReadCandles(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse CSV: %v", err))
		return
	}

	if err := h.service.Import(r.Context(), symbol, candles); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to import: %v", err))
		return
	}

	logger.Info("Imported candle series",
		logger.String("symbol", symbol),
		logger.Int("candles", len(candles)),
	)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "imported",
		"symbol":  symbol,
		"candles": len(candles),
	})
}

// Helper functions

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		logger.Info("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", wrapped.statusCode),
			logger.Duration("duration", time.Since(start)),
		)
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
