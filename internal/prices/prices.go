// Package prices derives dashboard-facing price data from the append-only
// price record log: the current/previous comparison per (market, crop)
// pair, the full-board snapshot, and the time series used for charts.
// Every operation is read-only; the algorithms live here as plain
// functions over the store so they can be tested against an in-memory
// implementation.
package prices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/agrihub/marketprice/internal/models"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/rs/zerolog"
)

// ErrNoData means the pair references valid entities but has no price
// records yet. Presentation renders it as an empty state, not an error.
var ErrNoData = errors.New("no price records for pair")

// IntegrityError marks a price record whose market or crop reference no
// longer resolves. It aborts the aggregation pass containing it: silently
// skipping the pair would hide an ingestion bug.
type IntegrityError struct {
	MarketID int
	CropID   int
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("price records for pair (market %d, crop %d) reference missing entity: %v", e.MarketID, e.CropID, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Store is the slice of the record store the price services read.
// *store.Postgres and *store.Memory both satisfy it.
type Store interface {
	GetMarket(ctx context.Context, id int) (*models.Market, error)
	GetCrop(ctx context.Context, id int) (*models.Crop, error)
	LatestPriceRecords(ctx context.Context, marketID, cropID, limit int) ([]models.PriceRecord, error)
	ScanPriceRecords(ctx context.Context, marketID, cropID int, window models.TimeWindow) ([]models.PriceRecord, error)
	ActivePairs(ctx context.Context) ([]models.PairKey, error)
}

// Service resolves, aggregates and serves price data
type Service struct {
	store Store
	log   zerolog.Logger
}

// NewService creates a new price service
func NewService(st Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log.With().Str("component", "prices").Logger()}
}

// Resolve computes the current/previous comparison for one pair.
// Returns store.ErrMarketNotFound or store.ErrCropNotFound when a
// reference is missing, and ErrNoData when the pair has no records.
func (s *Service) Resolve(ctx context.Context, marketID, cropID int) (*models.MarketPriceData, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	crop, err := s.store.GetCrop(ctx, cropID)
	if err != nil {
		return nil, err
	}

	recs, err := s.store.LatestPriceRecords(ctx, marketID, cropID, 2)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoData
	}

	current := recs[0]
	data := &models.MarketPriceData{
		MarketID:     market.ID,
		MarketName:   market.Name,
		CropID:       crop.ID,
		CropName:     crop.Name,
		Category:     crop.Category,
		CurrentPrice: current.Price,
		Unit:         current.Unit,
		UpdatedAt:    current.CreatedAt,
	}

	if len(recs) > 1 {
		previous := recs[1].Price
		data.PreviousPrice = &previous
		data.PriceChange = current.Price - previous
		// Explicit guard: a zero previous price yields 0, not Inf/NaN.
		if previous != 0 {
			data.PriceChangePercent = round2(data.PriceChange / previous * 100)
		}
	}

	return data, nil
}

// Snapshot resolves every pair that has at least one record. Output
// ordering is deterministic for a given store state: market name, crop
// name, then ids. A pair whose records reference a missing market or
// crop fails the whole pass with an *IntegrityError.
func (s *Service) Snapshot(ctx context.Context) ([]models.MarketPriceData, error) {
	pairs, err := s.store.ActivePairs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.MarketPriceData, 0, len(pairs))
	for _, pair := range pairs {
		data, err := s.Resolve(ctx, pair.MarketID, pair.CropID)
		if err != nil {
			if errors.Is(err, store.ErrMarketNotFound) || errors.Is(err, store.ErrCropNotFound) {
				ie := &IntegrityError{MarketID: pair.MarketID, CropID: pair.CropID, Err: err}
				s.log.Error().
					Int("market_id", pair.MarketID).
					Int("crop_id", pair.CropID).
					Err(err).
					Msg("orphaned price records detected during snapshot")
				return nil, ie
			}
			if errors.Is(err, ErrNoData) {
				// ActivePairs only reports pairs with records and the
				// log is append-only, so this cannot happen.
				continue
			}
			return nil, err
		}
		out = append(out, *data)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MarketName != b.MarketName {
			return a.MarketName < b.MarketName
		}
		if a.CropName != b.CropName {
			return a.CropName < b.CropName
		}
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.CropID < b.CropID
	})
	return out, nil
}

// History returns the pair's price series inside the window, oldest
// first. An empty series is a valid outcome, distinct from the NotFound
// errors returned for unknown ids.
func (s *Service) History(ctx context.Context, cropID, marketID int, window models.TimeWindow) ([]models.PricePoint, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCrop(ctx, cropID); err != nil {
		return nil, err
	}

	recs, err := s.store.ScanPriceRecords(ctx, marketID, cropID, window)
	if err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(recs))
	for _, rec := range recs {
		points = append(points, models.PricePoint{
			Price:     rec.Price,
			Unit:      rec.Unit,
			CreatedAt: rec.CreatedAt,
		})
	}
	return points, nil
}

// round2 rounds to two decimals, the display precision for percent changes
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
