package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agrihub/marketprice/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a PostgreSQL connection pool
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres initializes a new database connection pool
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *Postgres) Close() {
	db.Pool.Close()
}

// AppendPriceRecord inserts a new price record. The database assigns id
// and created_at; existing rows are never touched.
func (db *Postgres) AppendPriceRecord(ctx context.Context, rec *models.PriceRecord) (*models.PriceRecord, error) {
	if rec.Price <= 0 {
		return nil, errPositivePrice
	}
	if rec.Unit == "" {
		return nil, errEmptyUnit
	}

	// Verify references before writing; an orphaned record would poison
	// every later aggregation pass over its pair.
	if _, err := db.GetMarket(ctx, rec.MarketID); err != nil {
		return nil, err
	}
	if _, err := db.GetCrop(ctx, rec.CropID); err != nil {
		return nil, err
	}

	newRec := &models.PriceRecord{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO price_records (market_id, crop_id, submitter_id, price, unit) VALUES ($1, $2, $3, $4, $5) "+
			"RETURNING id, market_id, crop_id, submitter_id, price, unit, created_at",
		rec.MarketID, rec.CropID, rec.SubmitterID, rec.Price, rec.Unit).Scan(
		&newRec.ID, &newRec.MarketID, &newRec.CropID, &newRec.SubmitterID, &newRec.Price, &newRec.Unit, &newRec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append price record: %w", err)
	}
	return newRec, nil
}

// AppendPriceRecords inserts the whole batch inside one transaction, so
// a failed row rolls back everything before it and the log never holds
// a partial batch.
func (db *Postgres) AppendPriceRecords(ctx context.Context, recs []models.PriceRecord) ([]models.PriceRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]models.PriceRecord, 0, len(recs))
	for i, rec := range recs {
		if rec.Price <= 0 {
			return nil, fmt.Errorf("record %d: %w", i+1, errPositivePrice)
		}
		if rec.Unit == "" {
			return nil, fmt.Errorf("record %d: %w", i+1, errEmptyUnit)
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", rec.MarketID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check market: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("record %d: %w", i+1, ErrMarketNotFound)
		}
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM crops WHERE id = $1)", rec.CropID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check crop: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("record %d: %w", i+1, ErrCropNotFound)
		}

		var stored models.PriceRecord
		err := tx.QueryRow(ctx,
			"INSERT INTO price_records (market_id, crop_id, submitter_id, price, unit) VALUES ($1, $2, $3, $4, $5) "+
				"RETURNING id, market_id, crop_id, submitter_id, price, unit, created_at",
			rec.MarketID, rec.CropID, rec.SubmitterID, rec.Price, rec.Unit).Scan(
			&stored.ID, &stored.MarketID, &stored.CropID, &stored.SubmitterID, &stored.Price, &stored.Unit, &stored.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to append record %d: %w", i+1, err)
		}
		out = append(out, stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

// LatestPriceRecords retrieves up to limit records for a pair, newest first
func (db *Postgres) LatestPriceRecords(ctx context.Context, marketID, cropID, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		return nil, errPositiveLimit
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, market_id, crop_id, submitter_id, price, unit, created_at
		FROM price_records
		WHERE market_id = $1 AND crop_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, marketID, cropID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price records: %w", err)
	}
	defer rows.Close()

	return scanPriceRecords(rows)
}

// ScanPriceRecords retrieves a pair's records inside the half-open window
// [From, To), oldest first
func (db *Postgres) ScanPriceRecords(ctx context.Context, marketID, cropID int, window models.TimeWindow) ([]models.PriceRecord, error) {
	var from, to *time.Time
	if !window.From.IsZero() {
		from = &window.From
	}
	if !window.To.IsZero() {
		to = &window.To
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, market_id, crop_id, submitter_id, price, unit, created_at
		FROM price_records
		WHERE market_id = $1 AND crop_id = $2
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at ASC, id ASC
	`, marketID, cropID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to scan price records: %w", err)
	}
	defer rows.Close()

	return scanPriceRecords(rows)
}

func scanPriceRecords(rows pgx.Rows) ([]models.PriceRecord, error) {
	var recs []models.PriceRecord
	for rows.Next() {
		var rec models.PriceRecord
		if err := rows.Scan(&rec.ID, &rec.MarketID, &rec.CropID, &rec.SubmitterID, &rec.Price, &rec.Unit, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ActivePairs enumerates every pair with at least one record
func (db *Postgres) ActivePairs(ctx context.Context) ([]models.PairKey, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT market_id, crop_id
		FROM price_records
		ORDER BY market_id, crop_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate active pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.PairKey
	for rows.Next() {
		var p models.PairKey
		if err := rows.Scan(&p.MarketID, &p.CropID); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// GetMarket retrieves a market by id
func (db *Postgres) GetMarket(ctx context.Context, id int) (*models.Market, error) {
	m := &models.Market{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, region, created_at FROM markets WHERE id = $1",
		id).Scan(&m.ID, &m.Name, &m.Region, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("failed to get market: %w", err)
	}
	return m, nil
}

// CreateMarket inserts a new market
func (db *Postgres) CreateMarket(ctx context.Context, name, region string) (*models.Market, error) {
	m := &models.Market{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO markets (name, region) VALUES ($1, $2) RETURNING id, name, region, created_at",
		name, region).Scan(&m.ID, &m.Name, &m.Region, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create market: %w", err)
	}
	return m, nil
}

// ListMarkets retrieves all markets ordered by name
func (db *Postgres) ListMarkets(ctx context.Context) ([]models.Market, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, name, region, created_at FROM markets ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		var m models.Market
		if err := rows.Scan(&m.ID, &m.Name, &m.Region, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return markets, nil
}

// GetCrop retrieves a crop by id
func (db *Postgres) GetCrop(ctx context.Context, id int) (*models.Crop, error) {
	c := &models.Crop{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, name, category, created_at FROM crops WHERE id = $1",
		id).Scan(&c.ID, &c.Name, &c.Category, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCropNotFound
		}
		return nil, fmt.Errorf("failed to get crop: %w", err)
	}
	return c, nil
}

// CreateCrop inserts a new crop
func (db *Postgres) CreateCrop(ctx context.Context, name, category string) (*models.Crop, error) {
	c := &models.Crop{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO crops (name, category) VALUES ($1, $2) RETURNING id, name, category, created_at",
		name, category).Scan(&c.ID, &c.Name, &c.Category, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create crop: %w", err)
	}
	return c, nil
}

// ListCrops retrieves all crops ordered by name
func (db *Postgres) ListCrops(ctx context.Context) ([]models.Crop, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, name, category, created_at FROM crops ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list crops: %w", err)
	}
	defer rows.Close()

	var crops []models.Crop
	for rows.Next() {
		var c models.Crop
		if err := rows.Scan(&c.ID, &c.Name, &c.Category, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crop: %w", err)
		}
		crops = append(crops, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return crops, nil
}

// CreateUser inserts a new user
func (db *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *Postgres) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
