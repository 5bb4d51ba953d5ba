package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agrihub/marketprice/internal/models"
)

// Memory implements Store on in-process slices. It exists so the price
// services can be unit tested deterministically without a database, and
// doubles as a backend for local development.
type Memory struct {
	mu      sync.RWMutex
	markets []models.Market
	crops   []models.Crop
	users   []models.User
	records []models.PriceRecord

	nextMarketID int
	nextCropID   int
	nextUserID   int
	nextRecordID int64
	lastAppend   time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		nextMarketID: 1,
		nextCropID:   1,
		nextUserID:   1,
		nextRecordID: 1,
	}
}

// AppendPriceRecord appends one record. A non-zero CreatedAt on rec is
// honored so fixtures stay deterministic; otherwise the store assigns a
// timestamp that never moves backwards across appends.
func (m *Memory) AppendPriceRecord(ctx context.Context, rec *models.PriceRecord) (*models.PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.validateRecordLocked(*rec); err != nil {
		return nil, err
	}
	out := m.appendLocked(*rec)
	return &out, nil
}

// AppendPriceRecords appends every record or none. All records are
// validated before the first one is staged, so a bad row anywhere in
// the batch leaves the log untouched.
func (m *Memory) AppendPriceRecords(ctx context.Context, recs []models.PriceRecord) ([]models.PriceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range recs {
		if err := m.validateRecordLocked(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
	}

	out := make([]models.PriceRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.appendLocked(rec))
	}
	return out, nil
}

// validateRecordLocked checks a record against the reference data.
// Callers hold m.mu.
func (m *Memory) validateRecordLocked(rec models.PriceRecord) error {
	if rec.Price <= 0 {
		return errPositivePrice
	}
	if rec.Unit == "" {
		return errEmptyUnit
	}
	if m.findMarket(rec.MarketID) == nil {
		return ErrMarketNotFound
	}
	if m.findCrop(rec.CropID) == nil {
		return ErrCropNotFound
	}
	return nil
}

// appendLocked assigns the id and timestamp and writes the record.
// Callers hold m.mu and have already validated rec.
func (m *Memory) appendLocked(rec models.PriceRecord) models.PriceRecord {
	stored := rec
	stored.ID = m.nextRecordID
	m.nextRecordID++
	if stored.CreatedAt.IsZero() {
		now := time.Now()
		if now.Before(m.lastAppend) {
			now = m.lastAppend
		}
		stored.CreatedAt = now
	}
	if stored.CreatedAt.After(m.lastAppend) {
		m.lastAppend = stored.CreatedAt
	}

	m.records = append(m.records, stored)
	return stored
}

// LatestPriceRecords returns up to limit records for the pair, newest first
func (m *Memory) LatestPriceRecords(ctx context.Context, marketID, cropID, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		return nil, errPositiveLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.pairRecords(marketID, cropID, models.TimeWindow{})
	// Newest first: CreatedAt descending, ID descending on ties.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ScanPriceRecords returns the pair's records inside the window, oldest first
func (m *Memory) ScanPriceRecords(ctx context.Context, marketID, cropID int, window models.TimeWindow) ([]models.PriceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.pairRecords(marketID, cropID, window)
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
	return recs, nil
}

// pairRecords copies the pair's records matching the window. Callers hold m.mu.
func (m *Memory) pairRecords(marketID, cropID int, window models.TimeWindow) []models.PriceRecord {
	var recs []models.PriceRecord
	for _, rec := range m.records {
		if rec.MarketID == marketID && rec.CropID == cropID && window.Contains(rec.CreatedAt) {
			recs = append(recs, rec)
		}
	}
	return recs
}

// ActivePairs enumerates every pair with at least one record
func (m *Memory) ActivePairs(ctx context.Context) ([]models.PairKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[models.PairKey]bool)
	var pairs []models.PairKey
	for _, rec := range m.records {
		key := models.PairKey{MarketID: rec.MarketID, CropID: rec.CropID}
		if !seen[key] {
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].MarketID == pairs[j].MarketID {
			return pairs[i].CropID < pairs[j].CropID
		}
		return pairs[i].MarketID < pairs[j].MarketID
	})
	return pairs, nil
}

// GetMarket retrieves a market by id
func (m *Memory) GetMarket(ctx context.Context, id int) (*models.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if mk := m.findMarket(id); mk != nil {
		out := *mk
		return &out, nil
	}
	return nil, ErrMarketNotFound
}

// CreateMarket inserts a new market
func (m *Memory) CreateMarket(ctx context.Context, name, region string) (*models.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mk := models.Market{ID: m.nextMarketID, Name: name, Region: region, CreatedAt: time.Now()}
	m.nextMarketID++
	m.markets = append(m.markets, mk)
	out := mk
	return &out, nil
}

// ListMarkets retrieves all markets ordered by name
func (m *Memory) ListMarkets(ctx context.Context) ([]models.Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Market, len(m.markets))
	copy(out, m.markets)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetCrop retrieves a crop by id
func (m *Memory) GetCrop(ctx context.Context, id int) (*models.Crop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if c := m.findCrop(id); c != nil {
		out := *c
		return &out, nil
	}
	return nil, ErrCropNotFound
}

// CreateCrop inserts a new crop
func (m *Memory) CreateCrop(ctx context.Context, name, category string) (*models.Crop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := models.Crop{ID: m.nextCropID, Name: name, Category: category, CreatedAt: time.Now()}
	m.nextCropID++
	m.crops = append(m.crops, c)
	out := c
	return &out, nil
}

// ListCrops retrieves all crops ordered by name
func (m *Memory) ListCrops(ctx context.Context) ([]models.Crop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Crop, len(m.crops))
	copy(out, m.crops)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// CreateUser inserts a new user
func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, errDuplicateUsername
		}
	}
	u := models.User{ID: m.nextUserID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.nextUserID++
	m.users = append(m.users, u)
	out := u
	return &out, nil
}

// GetUserByUsername retrieves a user by username
func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *Memory) findMarket(id int) *models.Market {
	for i := range m.markets {
		if m.markets[i].ID == id {
			return &m.markets[i]
		}
	}
	return nil
}

func (m *Memory) findCrop(id int) *models.Crop {
	for i := range m.crops {
		if m.crops[i].ID == id {
			return &m.crops[i]
		}
	}
	return nil
}
