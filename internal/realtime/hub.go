package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the wire shape pushed to connected clients. Type carries the
// event's routing key; the hello greeting uses type "hello" with Msg set.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Ts      int64           `json:"ts"`
}

// Hub tracks live websocket connections. Delivery is best-effort: clients
// that connect late never receive past events, and a failed write drops the
// client.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// Add registers a connection and sends the greeting envelope.
func (h *Hub) Add(conn *websocket.Conn) {
	hello, err := json.Marshal(Envelope{Type: "hello", Msg: "connected", Ts: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Error("failed to encode greeting", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[conn] = struct{}{}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		h.logger.Error("failed to send greeting", "error", err)
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast pushes an envelope to every connected client. Clients whose
// write fails are dropped.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", "error", err, "type", env.Type)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Warn("dropping client after failed write", "error", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}
