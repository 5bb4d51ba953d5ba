// Package importer loads bulk price lists submitted by admins as CSV.
// Files exported from spreadsheet tools are often Windows-1252 encoded,
// so input that is not valid UTF-8 is decoded through charmap first.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agrihub/marketprice/internal/models"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var columns = []string{"market_id", "crop_id", "price", "unit"}

// Importer appends price records parsed from CSV files
type Importer struct {
	store store.Store
	log   zerolog.Logger
}

// New creates a new importer
func New(st store.Store, log zerolog.Logger) *Importer {
	return &Importer{store: st, log: log.With().Str("component", "importer").Logger()}
}

// ImportCSV parses r and appends one price record per row, attributed to
// submitterID. Every row is validated upfront and the batch is appended
// atomically, so a malformed file or a write failure partway through
// leaves the store untouched. Returns the number of records appended.
func (imp *Importer) ImportCSV(ctx context.Context, r io.Reader, submitterID int) (int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read csv data: %w", err)
	}
	if !utf8.Valid(raw) {
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
		if err != nil {
			return 0, fmt.Errorf("failed to decode csv data: %w", err)
		}
		raw = decoded
	}

	csvReader := csv.NewReader(strings.NewReader(string(raw)))
	csvReader.LazyQuotes = true
	rows, err := csvReader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("csv read error: %w", err)
	}
	if len(rows) > 0 && isHeader(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("csv data is empty")
	}

	recs := make([]models.PriceRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseRow(row)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		if _, err := imp.store.GetMarket(ctx, rec.MarketID); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		if _, err := imp.store.GetCrop(ctx, rec.CropID); err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		rec.SubmitterID = submitterID
		recs = append(recs, rec)
	}

	stored, err := imp.store.AppendPriceRecords(ctx, recs)
	if err != nil {
		imp.log.Error().Err(err).Msg("import rolled back")
		return 0, fmt.Errorf("failed to append records: %w", err)
	}

	imp.log.Info().Int("records", len(stored)).Msg("csv import complete")
	return len(stored), nil
}

func parseRow(row []string) (models.PriceRecord, error) {
	var rec models.PriceRecord
	if len(row) != len(columns) {
		return rec, fmt.Errorf("expected %d columns, got %d", len(columns), len(row))
	}

	marketID, err := strconv.Atoi(strings.TrimSpace(row[0]))
	if err != nil {
		return rec, fmt.Errorf("invalid market_id %q", row[0])
	}
	cropID, err := strconv.Atoi(strings.TrimSpace(row[1]))
	if err != nil {
		return rec, fmt.Errorf("invalid crop_id %q", row[1])
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil || price <= 0 {
		return rec, fmt.Errorf("invalid price %q", row[2])
	}
	unit := strings.TrimSpace(row[3])
	if unit == "" {
		return rec, fmt.Errorf("unit must not be empty")
	}

	rec.MarketID = marketID
	rec.CropID = cropID
	rec.Price = price
	rec.Unit = unit
	return rec, nil
}

func isHeader(row []string) bool {
	if len(row) != len(columns) {
		return false
	}
	for i, col := range columns {
		if !strings.EqualFold(strings.TrimSpace(row[i]), col) {
			return false
		}
	}
	return true
}
