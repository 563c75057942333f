// Package storage persists fetched candle series and backtest results to
// Postgres. Persistence is optional; the engine runs fully without it.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

var (
	writeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_write_total",
			Help: "Total number of storage writes by status",
		},
		[]string{"operation", "status"}, // status: "success" or "error"
	)

	writeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_write_latency_seconds",
			Help:    "Storage write latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol      TEXT        NOT NULL,
	interval    TEXT        NOT NULL,
	market_type TEXT        NOT NULL,
	label       TEXT        NOT NULL,
	close       DOUBLE PRECISION NOT NULL,
	high        DOUBLE PRECISION,
	low         DOUBLE PRECISION,
	volume      DOUBLE PRECISION,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, interval, market_type, label)
);

CREATE TABLE IF NOT EXISTS backtests (
	id              SERIAL PRIMARY KEY,
	symbol          TEXT        NOT NULL,
	interval        TEXT        NOT NULL,
	market_type     TEXT        NOT NULL,
	initial_balance DOUBLE PRECISION NOT NULL,
	final_balance   DOUBLE PRECISION NOT NULL,
	total_return    DOUBLE PRECISION NOT NULL,
	trades          INTEGER     NOT NULL,
	winning_trades  INTEGER     NOT NULL,
	max_drawdown    DOUBLE PRECISION NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore persists series and backtest results
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and ensures the schema exists
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger.Info("Connected to Postgres",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database),
	)
	return &PostgresStore{db: db}, nil
}

// SaveSeries upserts every candle of the series for key
func (s *PostgresStore) SaveSeries(ctx context.Context, key models.SeriesKey, series models.Series) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		writeTotal.WithLabelValues("series", "error").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, interval, market_type, label, close, high, low, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, market_type, label)
		DO UPDATE SET close = EXCLUDED.close, high = EXCLUDED.high,
		              low = EXCLUDED.low, volume = EXCLUDED.volume,
		              fetched_at = now()`)
	if err != nil {
		writeTotal.WithLabelValues("series", "error").Inc()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range series {
		c := series[i]
		if _, err := stmt.ExecContext(ctx, key.Symbol, string(key.Interval), string(key.MarketType),
			c.Label, c.Close, c.High, c.Low, c.Volume); err != nil {
			writeTotal.WithLabelValues("series", "error").Inc()
			return fmt.Errorf("failed to insert candle %s: %w", c.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		writeTotal.WithLabelValues("series", "error").Inc()
		return fmt.Errorf("failed to commit series: %w", err)
	}

	writeTotal.WithLabelValues("series", "success").Inc()
	writeLatency.WithLabelValues("series").Observe(time.Since(start).Seconds())
	return nil
}

// SaveBacktest appends one backtest result row for key
func (s *PostgresStore) SaveBacktest(ctx context.Context, key models.SeriesKey, result *models.BacktestResult) error {
	if result == nil {
		return nil
	}
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtests (symbol, interval, market_type, initial_balance,
			final_balance, total_return, trades, winning_trades, max_drawdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.Symbol, string(key.Interval), string(key.MarketType),
		result.InitialBalance, result.FinalBalance, result.TotalReturn,
		result.Trades, result.WinningTrades, result.MaxDrawdown,
	)
	if err != nil {
		writeTotal.WithLabelValues("backtest", "error").Inc()
		return fmt.Errorf("failed to insert backtest: %w", err)
	}

	writeTotal.WithLabelValues("backtest", "success").Inc()
	writeLatency.WithLabelValues("backtest").Observe(time.Since(start).Seconds())
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
