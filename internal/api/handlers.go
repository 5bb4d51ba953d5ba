package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agrihub/marketprice/internal/auth"
	"github.com/agrihub/marketprice/internal/importer"
	"github.com/agrihub/marketprice/internal/models"
	"github.com/agrihub/marketprice/internal/prices"
	"github.com/agrihub/marketprice/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type ctxKey string

const ctxUserID ctxKey = "user_id"

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store    store.Store
	Prices   *prices.Service
	Auth     *auth.Service
	Importer *importer.Importer
	Hub      *Hub
	Limiter  *rate.Limiter
	Log      zerolog.Logger
}

// NewHandler creates a new handler
func NewHandler(st store.Store, ps *prices.Service, as *auth.Service, imp *importer.Importer, hub *Hub, limiter *rate.Limiter, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    st,
		Prices:   ps,
		Auth:     as,
		Importer: imp,
		Hub:      hub,
		Limiter:  limiter,
		Log:      log.With().Str("component", "api").Logger(),
	}
}

// NewRouter mounts all routes on a fresh chi router
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	if h.Hub != nil {
		r.Get("/ws", h.Hub.Handle)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/prices", h.GetSnapshot)
		r.Get("/prices/history", h.GetHistory)
		r.Get("/markets", h.ListMarkets)
		r.Get("/crops", h.ListCrops)

		r.Group(func(r chi.Router) {
			r.Use(h.JWTAuthMiddleware)
			r.Post("/prices", h.SubmitPrice)
			r.Post("/prices/import", h.ImportPrices)
			r.Post("/markets", h.CreateMarket)
			r.Post("/crops", h.CreateCrop)
		})
	})

	return r
}

// snapshotResponse is the wire shape for dashboard snapshot requests
type snapshotResponse struct {
	Success bool                     `json:"success"`
	Count   int                      `json:"count"`
	Data    []models.MarketPriceData `json:"data"`
}

// Register handles officer registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles officer login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubmitPrice handles a price submission from a market officer
func (h *Handler) SubmitPrice(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if h.Limiter != nil && !h.Limiter.Allow() {
		http.Error(w, `{"error": "Too many submissions, slow down"}`, http.StatusTooManyRequests)
		return
	}

	var req struct {
		MarketID int     `json:"market_id"`
		CropID   int     `json:"crop_id"`
		Price    float64 `json:"price"`
		Unit     string  `json:"unit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Price <= 0 {
		http.Error(w, `{"error": "Price must be positive"}`, http.StatusBadRequest)
		return
	}
	if req.Unit == "" {
		http.Error(w, `{"error": "Unit required"}`, http.StatusBadRequest)
		return
	}

	rec, err := h.Store.AppendPriceRecord(r.Context(), &models.PriceRecord{
		MarketID:    req.MarketID,
		CropID:      req.CropID,
		SubmitterID: userID,
		Price:       req.Price,
		Unit:        req.Unit,
	})
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) || errors.Is(err, store.ErrCropNotFound) {
			http.Error(w, `{"error": "Unknown market or crop"}`, http.StatusNotFound)
			return
		}
		h.Log.Error().Err(err).Msg("failed to append price record")
		http.Error(w, `{"error": "Failed to record price"}`, http.StatusInternalServerError)
		return
	}

	if h.Hub != nil {
		h.Hub.Broadcast(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    rec,
	})
}

// GetSnapshot serves the full current-state aggregation for dashboard cards
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.Prices.Snapshot(r.Context())
	if err != nil {
		var ie *prices.IntegrityError
		if errors.As(err, &ie) {
			http.Error(w, `{"error": "Price data is inconsistent"}`, http.StatusInternalServerError)
			return
		}
		h.Log.Error().Err(err).Msg("snapshot failed")
		http.Error(w, `{"error": "Failed to aggregate prices"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshotResponse{
		Success: true,
		Count:   len(data),
		Data:    data,
	})
}

// GetHistory serves the price series for one pair, for chart rendering.
// crop_id and market_id are required; from/to (RFC 3339) restrict the
// series to the half-open window [from, to).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	cropID, err := requiredIntParam(r, "crop_id")
	if err != nil {
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	marketID, err := requiredIntParam(r, "market_id")
	if err != nil {
		http.Error(w, `{"error": "`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	var window models.TimeWindow
	if v := r.URL.Query().Get("from"); v != "" {
		window.From, err = time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error": "from must be RFC 3339"}`, http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		window.To, err = time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error": "to must be RFC 3339"}`, http.StatusBadRequest)
			return
		}
	}

	points, err := h.Prices.History(r.Context(), cropID, marketID, window)
	if err != nil {
		if errors.Is(err, store.ErrMarketNotFound) || errors.Is(err, store.ErrCropNotFound) {
			http.Error(w, `{"error": "Unknown market or crop"}`, http.StatusNotFound)
			return
		}
		h.Log.Error().Err(err).Msg("history query failed")
		http.Error(w, `{"error": "Failed to retrieve history"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// ImportPrices handles an admin CSV bulk upload
func (h *Handler) ImportPrices(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(ctxUserID).(int)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	n, err := h.Importer.ImportCSV(r.Context(), r.Body, userID)
	if err != nil {
		http.Error(w, `{"error": "Import failed: `+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	if h.Hub != nil {
		h.Hub.Broadcast(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"imported": n,
	})
}

// ListMarkets retrieves all markets
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.Store.ListMarkets(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to list markets")
		http.Error(w, `{"error": "Failed to retrieve markets"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// CreateMarket creates a new market (admin)
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Region string `json:"region"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error": "Name required"}`, http.StatusBadRequest)
		return
	}

	market, err := h.Store.CreateMarket(r.Context(), req.Name, req.Region)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to create market")
		http.Error(w, `{"error": "Failed to create market"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// ListCrops retrieves all crops
func (h *Handler) ListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := h.Store.ListCrops(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to list crops")
		http.Error(w, `{"error": "Failed to retrieve crops"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(crops)
}

// CreateCrop creates a new crop (admin)
func (h *Handler) CreateCrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, `{"error": "Name required"}`, http.StatusBadRequest)
		return
	}

	crop, err := h.Store.CreateCrop(r.Context(), req.Name, req.Category)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to create crop")
		http.Error(w, `{"error": "Failed to create crop"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(crop)
}

// requiredIntParam reads an integer query parameter. The error message
// tells the caller whether the parameter was missing or unparseable.
func requiredIntParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.New(name + " required")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
