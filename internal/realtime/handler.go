package realtime

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket connections and parks them in
// the hub until they disconnect.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Live order view, no credentials involved.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.logger.Info("client connected", "remote", conn.RemoteAddr().String())
	h.hub.Add(conn)

	go h.readUntilClose(conn)
}

// readUntilClose drains incoming frames so close/ping control messages are
// processed; the server never expects client data.
func (h *Handler) readUntilClose(conn *websocket.Conn) {
	defer func() {
		h.hub.Remove(conn)
		_ = conn.Close()
		h.logger.Info("client disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
