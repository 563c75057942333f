package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
	"github.com/mohamedkhairy/crypto-insight/pkg/logger"
)

var wsParseErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_ws_parse_errors_total",
		Help: "Total number of websocket messages that failed to parse",
	},
)

// TickSource delivers live kline updates for one (symbol, interval).
// Close tears the source down; Ticks is closed afterwards.
type TickSource interface {
	Ticks() <-chan models.LiveTick
	Close() error
}

// klineEvent is the Binance kline stream envelope
type klineEvent struct {
	EventType string       `json:"e"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime int64  `json:"t"`
	Close    string `json:"c"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Volume   string `json:"v"`
}

// WSSource streams kline updates over a Binance-style websocket. Malformed
// messages are counted and skipped; the stream keeps running.
type WSSource struct {
	conn      *websocket.Conn
	ticks     chan models.LiveTick
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewWSSource dials the kline stream for the given symbol and interval
func NewWSSource(baseURL, symbol string, interval models.Interval) (*WSSource, error) {
	if err := interval.Validate(); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s@kline_%s", baseURL, strings.ToLower(symbol), interval)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kline stream: %w", err)
	}

	s := &WSSource{
		conn:  conn,
		ticks: make(chan models.LiveTick, 100),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()

	logger.Info("Kline stream connected",
		logger.String("symbol", symbol),
		logger.String("interval", string(interval)),
	)
	return s, nil
}

// Ticks returns the live tick channel
func (s *WSSource) Ticks() <-chan models.LiveTick {
	return s.ticks
}

// Close closes the websocket and the tick channel. It is safe to call more
// than once and must complete before a replacement source is opened, so a
// stale tick can never reach the next subscription's window.
func (s *WSSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *WSSource) readLoop() {
	defer s.wg.Done()
	defer close(s.ticks)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed locally, not an error
			default:
				logger.Warn("Kline stream read failed", logger.ErrorField(err))
			}
			return
		}

		tick, err := parseKline(payload)
		if err != nil {
			wsParseErrors.Inc()
			logger.Warn("Skipping unparseable kline message", logger.ErrorField(err))
			continue
		}

		select {
		case s.ticks <- tick:
		case <-s.done:
			return
		}
	}
}

// parseKline converts a raw kline event into a LiveTick
func parseKline(payload []byte) (models.LiveTick, error) {
	var event klineEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.LiveTick{}, fmt.Errorf("invalid kline json: %w", err)
	}
	if event.EventType != "kline" {
		return models.LiveTick{}, fmt.Errorf("unexpected event type %q", event.EventType)
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return models.LiveTick{}, fmt.Errorf("invalid close price: %w", err)
	}
	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return models.LiveTick{}, fmt.Errorf("invalid high price: %w", err)
	}
	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return models.LiveTick{}, fmt.Errorf("invalid low price: %w", err)
	}
	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return models.LiveTick{}, fmt.Errorf("invalid volume: %w", err)
	}

	return models.LiveTick{
		Label:  models.BucketLabel(time.UnixMilli(event.Kline.OpenTime)),
		Close:  closePrice,
		High:   high,
		Low:    low,
		Volume: volume,
	}, nil
}

// ChannelSource adapts a plain channel into a TickSource. CSV-driven
// sessions and tests use it in place of a live socket.
type ChannelSource struct {
	ch        chan models.LiveTick
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewChannelSource creates a channel-backed tick source
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan models.LiveTick, buffer)}
}

// Send pushes a tick into the source. A tick sent after Close is dropped;
// engine teardown may race a late producer.
func (c *ChannelSource) Send(tick models.LiveTick) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.ch <- tick
}

// Ticks returns the tick channel
func (c *ChannelSource) Ticks() <-chan models.LiveTick {
	return c.ch
}

// Close closes the tick channel
func (c *ChannelSource) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
	return nil
}
