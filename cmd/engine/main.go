package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/crypto-insight/internal/api"
	"github.com/mohamedkhairy/crypto-insight/internal/cache"
	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/engine"
	"github.com/mohamedkhairy/crypto-insight/internal/history"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/publish"
	scoring "github.com/mohamedkhairy/crypto-insight/internal/signal"
	"github.com/mohamedkhairy/crypto-insight/internal/storage"
	"github.com/mohamedkhairy/crypto-insight/internal/stream"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting analytics engine",
		logger.String("symbol", cfg.Engine.Symbol),
		logger.String("interval", string(cfg.Engine.Interval)),
		logger.String("market_type", string(cfg.Engine.MarketType)),
		logger.Int("port", cfg.API.Port),
	)

	// Series cache and history provider
	seriesCache := cache.New(cfg.Engine.CacheTTL, time.Now)
	provider := history.NewProvider(cfg.MarketData, seriesCache)

	// Optional collaborators
	opts := []engine.Option{
		engine.WithSourceFactory(func(symbol string, interval models.Interval) (stream.TickSource, error) {
			return stream.NewWSSource(cfg.MarketData.WebSocketURL, symbol, interval)
		}),
	}

	if cfg.Redis.Enabled {
		publisher, err := publish.NewRedisPublisher(cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to initialize Redis publisher",
				logger.ErrorField(err),
			)
		}
		defer publisher.Close()
		opts = append(opts, engine.WithPublisher(publisher))
	}

	if cfg.Database.Enabled {
		store, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to initialize Postgres store",
				logger.ErrorField(err),
			)
		}
		defer store.Close()
		opts = append(opts, engine.WithStore(store))
	}

	// Engine service
	service, err := engine.NewService(cfg.Engine, provider, scoring.NewScorer(), opts...)
	if err != nil {
		logger.Fatal("Failed to initialize engine service",
			logger.ErrorField(err),
		)
	}
	defer service.Close()

	// Initial subscription
	key := models.SeriesKey{
		Symbol:     cfg.Engine.Symbol,
		Interval:   cfg.Engine.Interval,
		MarketType: cfg.Engine.MarketType,
	}
	if err := service.Subscribe(context.Background(), key); err != nil {
		logger.Fatal("Failed to subscribe",
			logger.ErrorField(err),
			logger.String("key", key.String()),
		)
	}

	// Start HTTP server
	handler := api.NewHandler(service)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down analytics engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error",
			logger.ErrorField(err),
		)
	}
}
