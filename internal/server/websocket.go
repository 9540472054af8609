package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/careflow/akimon/internal/metrics"
)

const wsWriteTimeout = 5 * time.Second

// Hub fans the collector's snapshot broadcasts out to the monitor clients
// connected on /api/v1/ws.
type Hub struct {
	collector *metrics.Collector
	logger    zerolog.Logger

	mu      sync.Mutex
	clients map[*statsClient]struct{}
}

type statsClient struct {
	conn *websocket.Conn
}

func newHub(collector *metrics.Collector, logger zerolog.Logger) *Hub {
	return &Hub{
		collector: collector,
		logger:    logger.With().Str("component", "ws-hub").Logger(),
		clients:   make(map[*statsClient]struct{}),
	}
}

// start pumps collector broadcasts to the connected clients until the
// context ends.
func (h *Hub) start(ctx context.Context) {
	ch := h.collector.Subscribe()
	defer h.collector.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(snap)
		}
	}
}

func (h *Hub) broadcast(snap metrics.Snapshot) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	clients := make([]*statsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Err(err).Msg("marshal snapshot for ws")
		return
	}

	for _, c := range clients {
		if err := h.send(c, data); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) send(c *statsClient, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) add(c *statsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", n).Msg("monitor connected")
}

func (h *Hub) drop(c *statsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close(websocket.StatusNormalClosure, "stats stream closed")
	}
	h.mu.Unlock()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow cross-origin for dev.
	})
	if err != nil {
		h.logger.Err(err).Msg("ws accept")
		return
	}

	client := &statsClient{conn: conn}
	h.add(client)

	// A monitor should not wait half a broadcast interval for its first
	// numbers; push the current snapshot right away.
	if data, err := json.Marshal(h.collector.Snapshot()); err == nil {
		_ = h.send(client, data)
	}

	// Monitors never send data; reading only drains pings and detects the
	// disconnect.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			h.drop(client)
			return
		}
	}
}
