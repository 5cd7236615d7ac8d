package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTestServer(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	return env
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	handler := NewHandler(hub, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", handler.HandleWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestHub_GreetsOnConnect(t *testing.T) {
	hub := NewHub(testLogger())
	server := newTestServer(t, hub)

	conn := dialTestServer(t, server)

	env := readEnvelope(t, conn)
	if env.Type != "hello" {
		t.Errorf("expected hello envelope, got %s", env.Type)
	}
	if env.Ts == 0 {
		t.Error("expected ts to be set")
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(testLogger())
	server := newTestServer(t, hub)

	first := dialTestServer(t, server)
	second := dialTestServer(t, server)

	// Drain greetings.
	readEnvelope(t, first)
	readEnvelope(t, second)

	if hub.Count() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Count())
	}

	hub.Broadcast(Envelope{
		Type:    "order.confirmed",
		Payload: json.RawMessage(`{"order_id":"order-1"}`),
		Ts:      time.Now().UnixMilli(),
	})

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		if env.Type != "order.confirmed" {
			t.Errorf("expected order.confirmed, got %s", env.Type)
		}
		if !strings.Contains(string(env.Payload), "order-1") {
			t.Errorf("unexpected payload: %s", env.Payload)
		}
	}
}

func TestHub_RemovesClosedClients(t *testing.T) {
	hub := NewHub(testLogger())
	server := newTestServer(t, hub)

	conn := dialTestServer(t, server)
	readEnvelope(t, conn)

	if hub.Count() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.Count())
	}

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcaster_HandleEvent(t *testing.T) {
	t.Run("pushes valid payloads", func(t *testing.T) {
		hub := NewHub(testLogger())
		server := newTestServer(t, hub)
		conn := dialTestServer(t, server)
		readEnvelope(t, conn)

		broadcaster := NewBroadcaster(hub)
		err := broadcaster.HandleEvent(context.Background(), "order.ready", []byte(`{"order_id":"order-1"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		env := readEnvelope(t, conn)
		if env.Type != "order.ready" {
			t.Errorf("expected order.ready, got %s", env.Type)
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		broadcaster := NewBroadcaster(NewHub(testLogger()))
		err := broadcaster.HandleEvent(context.Background(), "order.confirmed", []byte("{broken"))
		if err == nil {
			t.Fatal("expected error for malformed payload")
		}
	})
}
