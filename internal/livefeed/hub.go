// Package livefeed broadcasts scan progress and measurements to web clients
// over websockets while the mission is flying.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/rem-builder/internal/rem"
)

const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 5 * time.Second

	Path = "/ws"

	EventMeasurement = "measurement"
	EventScan        = "scan"
)

// Scan summarises an opened or closed scan window
type Scan struct {
	Kind      string       `json:"kind"` // opened or closed
	StartTime time.Time    `json:"startTime"`
	Position  rem.Position `json:"position"`
	Count     int          `json:"count"`
}

// Event is a single message sent to every client
type Event struct {
	Type        string           `json:"type"`
	Measurement *rem.Measurement `json:"measurement,omitempty"`
	Scan        *Scan            `json:"scan,omitempty"`
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Hub) {
	return func(h *Hub) {
		h.logger = logger.With(slog.String("component", "livefeed"))
	}
}

// WithSendBuffer sets how many events may queue up per client before the
// client is considered too slow and dropped
func WithSendBuffer(n int) func(*Hub) {
	return func(h *Hub) {
		h.sendBuffer = n
	}
}

// WithAllowedOrigins restricts which browser origins may connect. Any origin
// is accepted when none is given.
func WithAllowedOrigins(origins ...string) func(*Hub) {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		}
	}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub keeps track of connected websocket clients and fans events out to them
type Hub struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a new Hub
func NewHub(options ...func(*Hub)) *Hub {
	h := Hub{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	for _, option := range options {
		option(&h)
	}

	return &h
}

// Handler returns the HTTP handler serving the websocket endpoint
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, h.serveWS)
	return mux
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Info("client connected", slog.String("remote", r.RemoteAddr))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards incoming messages and detects disconnects
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("websocket write error", slog.Any("error", err))
			h.remove(c)
			break
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishMeasurement sends a measurement to every client
func (h *Hub) PublishMeasurement(m rem.Measurement) {
	h.broadcast(Event{Type: EventMeasurement, Measurement: &m})
}

// PublishScan sends a scan window summary to every client
func (h *Hub) PublishScan(s Scan) {
	h.broadcast(Event{Type: EventScan, Scan: &s})
}

func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow client", slog.String("remote", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

// Close disconnects every client and waits for their writers to exit
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ListenAndServe serves the hub on addr until ctx is cancelled
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("serving live feed", slog.String("addr", addr), slog.String("path", Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	h.Close()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
