// Package publish pushes analysis snapshots onto a Redis stream so that
// downstream consumers (alerting, dashboards) can react to recomputes.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/stream"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_publish_total",
			Help: "Total number of snapshots published to the Redis stream",
		},
		[]string{"stream"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_publish_errors_total",
			Help: "Total number of snapshot publish errors",
		},
		[]string{"stream"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapshot_publish_latency_seconds",
			Help:    "Snapshot publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream"},
	)
)

// snapshotMessage is the wire format written to the stream
type snapshotMessage struct {
	Symbol      string                   `json:"symbol"`
	Interval    string                   `json:"interval"`
	MarketType  string                   `json:"market_type"`
	Snapshot    models.IndicatorSnapshot `json:"snapshot"`
	Prediction  models.Prediction        `json:"prediction"`
	PublishedAt time.Time                `json:"published_at"`
}

// RedisPublisher writes snapshot updates to a Redis stream via XADD
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("stream", cfg.Stream),
	)

	return &RedisPublisher{client: rdb, stream: cfg.Stream}, nil
}

// PublishUpdate serializes the update and appends it to the stream
func (p *RedisPublisher) PublishUpdate(ctx context.Context, key models.SeriesKey, update *stream.Update) error {
	if update == nil {
		return fmt.Errorf("update cannot be nil")
	}

	start := time.Now()

	msg := snapshotMessage{
		Symbol:      key.Symbol,
		Interval:    string(key.Interval),
		MarketType:  string(key.MarketType),
		Snapshot:    update.Snapshot,
		Prediction:  update.Prediction,
		PublishedAt: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"snapshot": string(jsonData),
		},
	}).Err()

	if err != nil {
		publishErrors.WithLabelValues(p.stream).Inc()
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	publishTotal.WithLabelValues(p.stream).Inc()
	publishLatency.WithLabelValues(p.stream).Observe(time.Since(start).Seconds())

	logger.Debug("Published snapshot",
		logger.String("stream", p.stream),
		logger.String("symbol", key.Symbol),
	)
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
