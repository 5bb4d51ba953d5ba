package models

import "time"

// Market is a physical marketplace prices are reported from
type Market struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// Crop is a commodity prices are reported for
type Crop struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a market officer account allowed to submit prices
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// PriceRecord is a single price submission. Records are immutable once
// written; the store assigns ID and CreatedAt on append. For a given
// (MarketID, CropID) pair records are totally ordered by CreatedAt,
// ties broken by ID.
type PriceRecord struct {
	ID          int64     `json:"id"`
	MarketID    int       `json:"market_id"`
	CropID      int       `json:"crop_id"`
	SubmitterID int       `json:"submitter_id"`
	Price       float64   `json:"price"`
	Unit        string    `json:"unit"` // free-form label ("kg", "bag"); not normalized
	CreatedAt   time.Time `json:"created_at"`
}

// MarketPriceData is the derived current/previous comparison for one
// (market, crop) pair. It is computed on demand and never persisted.
//
// PreviousPrice is nil when the pair has exactly one record; PriceChange
// and PriceChangePercent are then zero. PriceChangePercent is also zero
// when PreviousPrice is zero. Prices are IEEE-754 float64;
// PriceChangePercent is rounded to two decimals, PriceChange is not.
type MarketPriceData struct {
	MarketID           int       `json:"market_id"`
	MarketName         string    `json:"market_name"`
	CropID             int       `json:"crop_id"`
	CropName           string    `json:"crop_name"`
	Category           string    `json:"category,omitempty"`
	CurrentPrice       float64   `json:"current_price"`
	PreviousPrice      *float64  `json:"previous_price,omitempty"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Unit               string    `json:"unit"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PricePoint is one entry of a price history series
type PricePoint struct {
	Price     float64   `json:"price"`
	Unit      string    `json:"unit"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeWindow restricts a history query to the half-open interval
// [From, To). A zero From or To leaves that bound unrestricted.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// PairKey identifies one (market, crop) price series
type PairKey struct {
	MarketID int
	CropID   int
}
