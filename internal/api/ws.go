package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agrihub/marketprice/internal/prices"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub pushes price snapshots to connected websocket clients: once on
// connect, after every accepted submission, and on a fixed interval so
// dashboards converge even if a broadcast is missed.
type Hub struct {
	prices   *prices.Service
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHub creates a new websocket hub
func NewHub(ps *prices.Service, log zerolog.Logger) *Hub {
	return &Hub{
		prices: ps,
		log:    log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}
}

// Handle upgrades the connection and keeps it registered until the peer
// disconnects
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Initial push so the client does not wait for the next tick.
	h.Broadcast(r.Context())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// Broadcast computes the current snapshot and sends it to every client.
// Clients whose writes fail are dropped.
func (h *Hub) Broadcast(ctx context.Context) {
	data, err := h.prices.Snapshot(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to compute snapshot for broadcast")
		return
	}

	payload, err := json.Marshal(snapshotResponse{
		Success: true,
		Count:   len(data),
		Data:    data,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.Unlock()

	var dead []*wsClient
	for _, client := range targets {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, payload)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, client := range dead {
			delete(h.clients, client)
			client.conn.Close()
		}
		h.mu.Unlock()
	}
}

// Run broadcasts on a fixed interval until ctx is cancelled
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		}
	}
}
