package history

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

// maxStepChange bounds the per-bar multiplicative walk to ±2%
const maxStepChange = 0.02

// basePrices anchors the synthetic walk per symbol; unknown symbols get a
// hash-derived base so distinct symbols still diverge.
var basePrices = map[string]float64{
	"BTCUSDT":  43000,
	"ETHUSDT":  2300,
	"BNBUSDT":  310,
	"SOLUSDT":  98,
	"XRPUSDT":  0.52,
	"ADAUSDT":  0.58,
	"DOGEUSDT": 0.082,
}

// Synthetic generates a deterministic-shape candle series for symbol: the
// walk is seeded from the symbol, so repeated calls produce the same bars.
// limit/24 pseudo-days of hourly bars are produced, at least one day.
func Synthetic(symbol string, limit int) models.Series {
	days := limit / 24
	if days < 1 {
		days = 1
	}
	bars := days * 24

	rng := rand.New(rand.NewSource(symbolSeed(symbol)))
	price := basePrice(symbol, rng)

	// Anchor labels to the most recent full hour, walking backwards
	end := time.Now().UTC().Truncate(time.Hour)
	start := end.Add(-time.Duration(bars-1) * time.Hour)

	series := make(models.Series, 0, bars)
	for i := 0; i < bars; i++ {
		step := (rng.Float64()*2 - 1) * maxStepChange
		price *= 1 + step

		high := price * (1 + rng.Float64()*0.01)
		low := price * (1 - rng.Float64()*0.01)
		volume := 500 + rng.Float64()*1500

		openTime := start.Add(time.Duration(i) * time.Hour)
		series = append(series, models.EnrichedCandle{Candle: models.Candle{
			Label:  models.BucketLabel(openTime),
			Time:   openTime,
			Close:  price,
			High:   high,
			Low:    low,
			Volume: volume,
		}})
	}
	return series
}

func basePrice(symbol string, rng *rand.Rand) float64 {
	if base, ok := basePrices[symbol]; ok {
		return base
	}
	return 50 + rng.Float64()*450
}

func symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return int64(h.Sum64())
}
