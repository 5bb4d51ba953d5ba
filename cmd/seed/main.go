package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/agrihub/marketprice/config"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/rs/zerolog"
)

// bcrypt hash of "password123", for the demo officer account only
const demoPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

// Seed the database with demo markets, crops and a short price series
// per pair. Safe to re-run: does nothing once price records exist.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pairs, err := db.ActivePairs(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check existing records")
	}
	if len(pairs) > 0 {
		fmt.Printf("Database already has records for %d pairs. No need to seed.\n", len(pairs))
		return
	}

	var officerID int
	err = db.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = 'officer1'").Scan(&officerID)
	if err != nil {
		err = db.Pool.QueryRow(ctx,
			"INSERT INTO users (username, password_hash) VALUES ('officer1', $1) RETURNING id",
			demoPasswordHash).Scan(&officerID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create officer")
		}
	}

	markets := []struct{ name, region string }{
		{"Kigali Central", "Kigali"},
		{"Huye Market", "Southern"},
		{"Musanze Market", "Northern"},
	}
	var marketIDs []int
	for _, m := range markets {
		created, err := db.CreateMarket(ctx, m.name, m.region)
		if err != nil {
			log.Fatal().Err(err).Str("market", m.name).Msg("failed to create market")
		}
		marketIDs = append(marketIDs, created.ID)
	}

	crops := []struct{ name, category, unit string }{
		{"Rice", "Cereals", "kg"},
		{"Beans", "Legumes", "kg"},
		{"Irish Potatoes", "Tubers", "bag"},
	}
	type seededCrop struct {
		id   int
		unit string
	}
	var cropRows []seededCrop
	for _, c := range crops {
		created, err := db.CreateCrop(ctx, c.name, c.category)
		if err != nil {
			log.Fatal().Err(err).Str("crop", c.name).Msg("failed to create crop")
		}
		cropRows = append(cropRows, seededCrop{id: created.ID, unit: c.unit})
	}

	// Three submissions per pair over the past three days so the
	// dashboard shows deltas and the charts have a line to draw.
	base := 100.0
	for mi, marketID := range marketIDs {
		for ci, crop := range cropRows {
			start := base + float64(mi*20+ci*10)
			for day := 3; day >= 1; day-- {
				price := start + float64(3-day)*5
				_, err := db.Pool.Exec(ctx,
					"INSERT INTO price_records (market_id, crop_id, submitter_id, price, unit, created_at) "+
						"VALUES ($1, $2, $3, $4, $5, NOW() - make_interval(days => $6))",
					marketID, crop.id, officerID, price, crop.unit, day)
				if err != nil {
					log.Fatal().Err(err).Msg("failed to seed price record")
				}
			}
		}
	}

	fmt.Println("Successfully seeded the database with demo price data!")
}
