package livefeed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, h.Clients())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	first := dial(t, srv)
	defer first.Close()
	second := dial(t, srv)
	defer second.Close()

	waitForClients(t, h, 2)

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	pos := rem.Position{X: 1, Y: 2, Z: 0.5}

	h.PublishScan(Scan{Kind: "opened", StartTime: ts, Position: pos})
	h.PublishMeasurement(rem.NewMeasurement(ts, pos, "office", -42, "a0b1c2d3e4f5", 6))

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var scan Event
		if err := conn.ReadJSON(&scan); err != nil {
			t.Fatalf("Failed to read scan event: %v", err)
		}
		if scan.Type != EventScan || scan.Scan == nil || scan.Scan.Kind != "opened" || scan.Scan.Position != pos {
			t.Errorf("Unexpected scan event %+v", scan)
		}

		var m Event
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("Failed to read measurement event: %v", err)
		}
		if m.Type != EventMeasurement || m.Measurement == nil || m.Measurement.SSID != "office" || m.Measurement.RSSI != -42 {
			t.Errorf("Unexpected measurement event %+v", m)
		}
	}
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	_ = conn.Close()
	waitForClients(t, h, 0)

	// publishing with nobody listening is a no-op
	h.PublishScan(Scan{Kind: "closed"})
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := NewHub(WithSendBuffer(1))
	h.writeTimeout = 100 * time.Millisecond
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitForClients(t, h, 1)

	// the client never reads, so its queue overflows eventually
	payload := rem.Measurement{SSID: strings.Repeat("x", 64*1024)}
	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected slow client to be dropped")
		}
		h.PublishMeasurement(payload)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	waitForClients(t, h, 1)

	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal closure, got %v", err)
	}
	if h.Clients() != 0 {
		t.Errorf("Expected no clients after Close, got %d", h.Clients())
	}
}

func TestHub_RejectsForeignOrigins(t *testing.T) {
	h := NewHub(WithAllowedOrigins("http://localhost:8080"))
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("Expected handshake from a foreign origin to fail")
	}
}
