package store

import (
	"context"
	"errors"

	"github.com/agrihub/marketprice/internal/models"
)

var (
	// ErrMarketNotFound is returned when a market id does not exist
	ErrMarketNotFound = errors.New("market not found")
	// ErrCropNotFound is returned when a crop id does not exist
	ErrCropNotFound = errors.New("crop not found")
	// ErrUserNotFound is returned when a username does not exist
	ErrUserNotFound = errors.New("user not found")

	errPositivePrice     = errors.New("price must be positive")
	errEmptyUnit         = errors.New("unit must not be empty")
	errPositiveLimit     = errors.New("limit must be positive")
	errDuplicateUsername = errors.New("username already taken")
)

// Store is the explicitly passed handle to the price record log and the
// reference data it hangs off. The log is append-only: records are never
// updated or deleted, so concurrent readers need no locking against
// writers.
type Store interface {
	// AppendPriceRecord appends one record, assigning ID and CreatedAt.
	// CreatedAt is non-decreasing across appends.
	AppendPriceRecord(ctx context.Context, rec *models.PriceRecord) (*models.PriceRecord, error)

	// AppendPriceRecords appends every record or none. A validation or
	// write failure on any record leaves the log untouched.
	AppendPriceRecords(ctx context.Context, recs []models.PriceRecord) ([]models.PriceRecord, error)

	// LatestPriceRecords returns up to limit records for the pair,
	// newest first (CreatedAt descending, ID descending on ties).
	// limit must be positive.
	LatestPriceRecords(ctx context.Context, marketID, cropID, limit int) ([]models.PriceRecord, error)

	// ScanPriceRecords returns the pair's records inside the window,
	// oldest first (CreatedAt ascending, ID ascending on ties).
	ScanPriceRecords(ctx context.Context, marketID, cropID int, window models.TimeWindow) ([]models.PriceRecord, error)

	// ActivePairs enumerates every (market, crop) pair that has at
	// least one record, ordered by market id then crop id.
	ActivePairs(ctx context.Context) ([]models.PairKey, error)

	GetMarket(ctx context.Context, id int) (*models.Market, error)
	CreateMarket(ctx context.Context, name, region string) (*models.Market, error)
	ListMarkets(ctx context.Context) ([]models.Market, error)

	GetCrop(ctx context.Context, id int) (*models.Crop, error)
	CreateCrop(ctx context.Context, name, category string) (*models.Crop, error)
	ListCrops(ctx context.Context) ([]models.Crop, error)

	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}
