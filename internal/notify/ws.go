package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteDeadline = 5 * time.Second
	wsReadDeadline  = 120 * time.Second
	wsPingInterval  = 15 * time.Second
	wsSendBuffer    = 256
)

// wsClient owns one socket. Only its writer goroutine writes to conn.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes payment status changes to browsers waiting on a reference,
// typically the payment callback page.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs: make(map[string]map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws"),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Handle queues the event on every socket watching its reference. A socket
// whose queue is full misses the event.
func (h *Hub) Handle(_ context.Context, ev Event) error {
	if ev.Reference == "" {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[ev.Reference] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("websocket subscriber too slow, event dropped", "reference", ev.Reference, "kind", ev.Kind)
		}
	}
	return nil
}

// Subscribers reports how many sockets watch a reference.
func (h *Hub) Subscribers(reference string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[reference])
}

// Serve upgrades the request and keeps the socket subscribed to reference
// until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, reference string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.add(reference, c)
	defer h.remove(reference, c)

	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	done := make(chan struct{})
	defer close(done)
	go c.writeLoop(done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writeLoop(done <-chan struct{}) {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteDeadline)); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) add(reference string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[reference]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.subs[reference] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(reference string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[reference]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, reference)
	}
	_ = c.conn.Close()
}
