package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agrihub/marketprice/config"
	"github.com/agrihub/marketprice/internal/api"
	"github.com/agrihub/marketprice/internal/auth"
	"github.com/agrihub/marketprice/internal/importer"
	"github.com/agrihub/marketprice/internal/prices"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Main entry point: wires the store, price services and HTTP server
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	priceService := prices.NewService(db, log)
	authService := auth.NewService(db, cfg.JWTSecret)
	imp := importer.New(db, log)
	hub := api.NewHub(priceService, log)
	limiter := rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), cfg.SubmitBurst)

	handler := api.NewHandler(db, priceService, authService, imp, hub, limiter, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", api.NewRouter(handler))

	go hub.Run(ctx, cfg.BroadcastInterval())

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
