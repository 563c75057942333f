package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func testKey() models.SeriesKey {
	return models.SeriesKey{
		Symbol:     "BTCUSDT",
		Interval:   models.Interval1h,
		MarketType: models.MarketSpot,
	}
}

func testSeries(price float64) models.Series {
	return models.Series{
		{Candle: models.Candle{Label: "2024-06-01 11:00", Close: price}},
	}
}

func countingFetch(calls *int32, series models.Series) FetchFunc {
	return func(context.Context) (models.Series, error) {
		atomic.AddInt32(calls, 1)
		return series, nil
	}
}

func TestGetOrFetch_SecondCallWithinTTLHits(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32
	fetch := countingFetch(&calls, testSeries(100))

	first, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(59 * time.Second)
	second, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first[0].Close, second[0].Close)
}

func TestGetOrFetch_ExpiredEntryRefetches(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32
	fetch := countingFetch(&calls, testSeries(100))

	_, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	_, err = c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrFetch_RefreshOverwritesEntry(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)

	_, err := c.GetOrFetch(context.Background(), testKey(), func(context.Context) (models.Series, error) {
		return testSeries(100), nil
	})
	require.NoError(t, err)

	clock.Advance(2 * DefaultTTL)
	series, err := c.GetOrFetch(context.Background(), testKey(), func(context.Context) (models.Series, error) {
		return testSeries(200), nil
	})
	require.NoError(t, err)

	assert.Equal(t, 200.0, series[0].Close)
	assert.Equal(t, 1, c.Len())
}

func TestGetOrFetch_FailedFetchNotCached(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)

	_, err := c.GetOrFetch(context.Background(), testKey(), func(context.Context) (models.Series, error) {
		return nil, errors.New("source down")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	// The next call goes back to the source, which has recovered
	series, err := c.GetOrFetch(context.Background(), testKey(), func(context.Context) (models.Series, error) {
		return testSeries(100), nil
	})
	require.NoError(t, err)
	assert.Len(t, series, 1)
}

func TestGetOrFetch_EmptyEntryIsAMiss(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32

	_, err := c.GetOrFetch(context.Background(), testKey(), func(context.Context) (models.Series, error) {
		atomic.AddInt32(&calls, 1)
		return models.Series{}, nil
	})
	require.NoError(t, err)

	_, err = c.GetOrFetch(context.Background(), testKey(), countingFetch(&calls, testSeries(100)))
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrFetch_ReturnedSeriesIsACopy(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32
	fetch := countingFetch(&calls, testSeries(100))

	first, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	first[0].Close = 999

	second, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	assert.Equal(t, 100.0, second[0].Close)
}

func TestGetOrFetch_ConcurrentCallersShareOneFetch(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32

	slowFetch := func(context.Context) (models.Series, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return testSeries(100), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrFetch(context.Background(), testKey(), slowFetch)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrFetch_DistinctKeysDistinctEntries(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32
	fetch := countingFetch(&calls, testSeries(100))

	spot := testKey()
	futures := spot
	futures.MarketType = models.MarketFutures

	_, err := c.GetOrFetch(context.Background(), spot, fetch)
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), futures, fetch)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, c.Len())
}

func TestGetOrFetch_InvalidKey(t *testing.T) {
	c := New(DefaultTTL, nil)
	_, err := c.GetOrFetch(context.Background(), models.SeriesKey{}, countingFetch(new(int32), nil))
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}

func TestInvalidate(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultTTL, clock.Now)
	var calls int32
	fetch := countingFetch(&calls, testSeries(100))

	_, err := c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	c.Invalidate(testKey())

	_, err = c.GetOrFetch(context.Background(), testKey(), fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
