// Package engine owns the live analysis state: the active subscription, the
// candle window it feeds, and the derived snapshot/prediction/backtest views
// published to the API and the narrative-insight collaborator. At most one
// subscription is active at a time; switching closes the old tick source
// before the new one is opened, so a stale tick can never touch the newly
// selected series.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohamedkhairy/crypto-insight/internal/backtest"
	"github.com/mohamedkhairy/crypto-insight/internal/config"
	"github.com/mohamedkhairy/crypto-insight/internal/indicator"
	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/internal/signal"
	"github.com/mohamedkhairy/crypto-insight/internal/stream"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

// HistoryFetcher acquires an enriched series for a key. history.Provider
// satisfies it.
type HistoryFetcher interface {
	Fetch(ctx context.Context, key models.SeriesKey, limit int) models.Series
}

// Publisher forwards derived state to an external stream. Optional.
type Publisher interface {
	PublishUpdate(ctx context.Context, key models.SeriesKey, update *stream.Update) error
}

// Store persists fetched series and backtest results. Optional.
type Store interface {
	SaveSeries(ctx context.Context, key models.SeriesKey, series models.Series) error
	SaveBacktest(ctx context.Context, key models.SeriesKey, result *models.BacktestResult) error
}

// SourceFactory opens a tick source for a (symbol, interval)
type SourceFactory func(symbol string, interval models.Interval) (stream.TickSource, error)

// subscription is one live tick feed and its consumer goroutine
type subscription struct {
	id     string
	key    models.SeriesKey
	source stream.TickSource
	wg     sync.WaitGroup
}

// Service composes the pipeline and publishes its read-only state
type Service struct {
	cfg       config.EngineConfig
	history   HistoryFetcher
	enricher  *stream.Enricher
	scorer    *signal.Scorer
	simulator *backtest.Simulator
	newSource SourceFactory
	publisher Publisher
	store     Store

	// opMu serializes Subscribe/Import/Close. Without it two concurrent
	// switches could both pass the close step and leak a live source.
	opMu sync.Mutex

	mu            sync.RWMutex
	key           models.SeriesKey
	series        models.Series
	snapshot      models.IndicatorSnapshot
	prediction    models.Prediction
	backtest      *models.BacktestResult
	marketContext string
	imported      bool
	sub           *subscription
}

// Option configures optional collaborators
type Option func(*Service)

// WithPublisher attaches a snapshot publisher
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithStore attaches a persistence store
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithSourceFactory overrides how tick sources are opened
func WithSourceFactory(f SourceFactory) Option {
	return func(s *Service) { s.newSource = f }
}

// NewService creates the engine service
func NewService(cfg config.EngineConfig, history HistoryFetcher, scorer *signal.Scorer, opts ...Option) (*Service, error) {
	enricher, err := stream.NewEnricher(scorer, cfg.WindowSize, cfg.BacktestBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to build enricher: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		history:   history,
		enricher:  enricher,
		scorer:    scorer,
		simulator: backtest.NewSimulator(scorer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subscribe switches the engine to (symbol, interval, marketType): the
// prior subscription is fully closed first, history is loaded through the
// cache, derived state is computed, and the live tick feed is opened.
func (s *Service) Subscribe(ctx context.Context, key models.SeriesKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Strict ordering: the old feed must be drained and closed before any
	// state for the new key exists.
	s.closeSubscription()

	series := s.history.Fetch(ctx, key, s.cfg.HistoryLimit)
	if len(series) > s.cfg.WindowSize {
		series = series[len(series)-s.cfg.WindowSize:]
	}
	if err := s.installState(ctx, key, series, false); err != nil {
		return err
	}

	if s.newSource == nil {
		return nil
	}
	source, err := s.newSource(key.Symbol, key.Interval)
	if err != nil {
		// Degraded but usable: historical state stands, no live updates
		logger.Warn("Tick source unavailable, state will not stream",
			logger.String("key", key.String()),
			logger.ErrorField(err),
		)
		return nil
	}

	sub := &subscription{
		id:     uuid.New().String(),
		key:    key,
		source: source,
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	sub.wg.Add(1)
	go s.consume(sub)

	logger.Info("Subscription opened",
		logger.String("subscription_id", sub.id),
		logger.String("key", key.String()),
	)
	return nil
}

// Import replaces the live pipeline with an imported candle series. No tick
// source is opened for an imported session.
func (s *Service) Import(ctx context.Context, symbol string, candles []models.Candle) error {
	if len(candles) == 0 {
		return models.ErrEmptySeries
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.closeSubscription()

	series := make(models.Series, 0, len(candles))
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return fmt.Errorf("imported candle %d: %w", i, err)
		}
		series = append(series, models.EnrichedCandle{Candle: candles[i]})
	}
	if len(series) > s.cfg.WindowSize {
		series = series[len(series)-s.cfg.WindowSize:]
	}

	key := models.SeriesKey{Symbol: symbol, Interval: s.cfg.Interval, MarketType: s.cfg.MarketType}
	return s.installState(ctx, key, indicator.Enrich(series), true)
}

// Close tears down the active subscription, if any
func (s *Service) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.closeSubscription()
}

// installState recomputes every derived view for series and swaps it in
func (s *Service) installState(ctx context.Context, key models.SeriesKey, series models.Series, imported bool) error {
	snapshot := indicator.Snapshot(series)
	var price float64
	if len(series) > 0 {
		price = series[len(series)-1].Close
	}
	prediction := s.scorer.Score(snapshot, price)
	result, err := s.simulator.Run(series, s.cfg.BacktestBalance)
	if err != nil {
		return fmt.Errorf("initial backtest: %w", err)
	}

	s.mu.Lock()
	s.key = key
	s.series = series
	s.snapshot = snapshot
	s.prediction = prediction
	s.backtest = result
	s.imported = imported
	s.mu.Unlock()

	s.persist(ctx, key, series, result)
	return nil
}

// consume applies ticks from one subscription until its source closes
func (s *Service) consume(sub *subscription) {
	defer sub.wg.Done()

	for tick := range sub.source.Ticks() {
		s.mu.RLock()
		current := s.series
		s.mu.RUnlock()

		update, err := s.enricher.Merge(current, tick)
		if err != nil {
			// Fail-soft: the current state stands
			logger.Warn("Tick rejected",
				logger.String("subscription_id", sub.id),
				logger.ErrorField(err),
			)
			continue
		}

		s.mu.Lock()
		s.series = update.Series
		s.snapshot = update.Snapshot
		s.prediction = update.Prediction
		s.backtest = update.Backtest
		s.mu.Unlock()

		if s.publisher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.publisher.PublishUpdate(ctx, sub.key, update); err != nil {
				logger.Warn("Snapshot publish failed", logger.ErrorField(err))
			}
			cancel()
		}
	}
}

// closeSubscription closes the current source and waits for its consumer,
// establishing the happens-before edge the next subscription relies on
func (s *Service) closeSubscription() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.source.Close(); err != nil {
		logger.Warn("Tick source close failed", logger.ErrorField(err))
	}
	sub.wg.Wait()
	logger.Info("Subscription closed", logger.String("subscription_id", sub.id))
}

func (s *Service) persist(ctx context.Context, key models.SeriesKey, series models.Series, result *models.BacktestResult) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSeries(ctx, key, series); err != nil {
		logger.Warn("Series persist failed", logger.ErrorField(err))
	}
	if err := s.store.SaveBacktest(ctx, key, result); err != nil {
		logger.Warn("Backtest persist failed", logger.ErrorField(err))
	}
}

// Key returns the key of the current state
func (s *Service) Key() models.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Series returns a copy of the current enriched window
func (s *Service) Series() models.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series.Clone()
}

// Snapshot returns the current indicator snapshot
func (s *Service) Snapshot() models.IndicatorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Prediction returns the current prediction
func (s *Service) Prediction() models.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prediction
}

// Backtest returns the current backtest result, nil before the first load
func (s *Service) Backtest() *models.BacktestResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backtest
}

// Imported reports whether the current session is import-driven
func (s *Service) Imported() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imported
}

// SetMarketContext stores the opaque on-chain / order-book summary passed
// through to the insight collaborator. The engine does not interpret it.
func (s *Service) SetMarketContext(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketContext = text
}

// InsightContext is the point-in-time bundle handed to the narrative
// collaborator
type InsightContext struct {
	Symbol        string                   `json:"symbol"`
	Interval      models.Interval          `json:"interval"`
	GeneratedAt   time.Time                `json:"generated_at"`
	Snapshot      models.IndicatorSnapshot `json:"snapshot"`
	Prediction    models.Prediction        `json:"prediction"`
	Backtest      *models.BacktestResult   `json:"backtest,omitempty"`
	MarketContext string                   `json:"market_context,omitempty"`
}

// Insight builds the current insight context
func (s *Service) Insight() InsightContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return InsightContext{
		Symbol:        s.key.Symbol,
		Interval:      s.key.Interval,
		GeneratedAt:   time.Now().UTC(),
		Snapshot:      s.snapshot,
		Prediction:    s.prediction,
		Backtest:      s.backtest,
		MarketContext: s.marketContext,
	}
}
