// Package importer reads tabular candle datasets that substitute for the
// live history provider. A file needs at least a date/time column and a
// price/close column; high, low and volume are carried when present.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

var (
	// ErrMissingDateColumn is returned when no date/time column is found
	ErrMissingDateColumn = errors.New("no date/time column in header")
	// ErrMissingCloseColumn is returned when no price/close column is found
	ErrMissingCloseColumn = errors.New("no price/close column in header")
)

var (
	dateColumns   = []string{"date", "time", "datetime", "timestamp"}
	closeColumns  = []string{"close", "price", "close_price", "last"}
	highColumns   = []string{"high"}
	lowColumns    = []string{"low"}
	volumeColumns = []string{"volume", "vol"}
)

// dateLayouts are tried in order when normalizing the date column
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ReadCandles parses a CSV stream into candles. Rows with an unparseable
// close price are skipped; a row count of zero is an error.
func ReadCandles(r io.Reader) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	dateIdx := findColumn(header, dateColumns)
	if dateIdx < 0 {
		return nil, ErrMissingDateColumn
	}
	closeIdx := findColumn(header, closeColumns)
	if closeIdx < 0 {
		return nil, ErrMissingCloseColumn
	}
	highIdx := findColumn(header, highColumns)
	lowIdx := findColumn(header, lowColumns)
	volumeIdx := findColumn(header, volumeColumns)

	var candles []models.Candle
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if dateIdx >= len(row) || closeIdx >= len(row) {
			continue
		}

		closePrice, err := strconv.ParseFloat(strings.TrimSpace(row[closeIdx]), 64)
		if err != nil || closePrice <= 0 {
			continue
		}

		candle := models.Candle{
			Label: normalizeLabel(strings.TrimSpace(row[dateIdx])),
			Close: closePrice,
		}
		if highIdx >= 0 && highIdx < len(row) {
			candle.High, _ = strconv.ParseFloat(strings.TrimSpace(row[highIdx]), 64)
		}
		if lowIdx >= 0 && lowIdx < len(row) {
			candle.Low, _ = strconv.ParseFloat(strings.TrimSpace(row[lowIdx]), 64)
		}
		if volumeIdx >= 0 && volumeIdx < len(row) {
			candle.Volume, _ = strconv.ParseFloat(strings.TrimSpace(row[volumeIdx]), 64)
		}
		if candle.Label == "" {
			continue
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, models.ErrEmptySeries
	}
	return candles, nil
}

// normalizeLabel reformats recognized date layouts into the engine's bucket
// label form; unrecognized values pass through as-is.
func normalizeLabel(raw string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return models.BucketLabel(t)
		}
	}
	return raw
}

func findColumn(header []string, names []string) int {
	for i, col := range header {
		normalized := strings.ToLower(strings.TrimSpace(col))
		for _, name := range names {
			if normalized == name {
				return i
			}
		}
	}
	return -1
}
