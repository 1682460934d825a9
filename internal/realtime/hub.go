// Package realtime pushes change events to browsers over WebSocket.
//
// Every connection owns a notifier subscription and a pair of goroutines:
// writePump forwards signals and pings, readPump discards client frames and
// detects dead peers through the pong deadline.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sundayezeilo/qrlinks/internal/notify"
)

const (
	DefaultPingInterval = 54 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultWriteWait    = 10 * time.Second
	DefaultEvent        = "updateClicks"

	maxMessageSize = 512
)

// Subscriber hands out change subscriptions. *notify.Notifier satisfies it.
type Subscriber interface {
	Subscribe() *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

type Config struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Event        string
	Logger       *slog.Logger
}

type Hub struct {
	subscriber   Subscriber
	upgrader     websocket.Upgrader
	message      []byte
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	conns  map[*connection]struct{}
	closed bool
}

type connection struct {
	hub       *Hub
	ws        *websocket.Conn
	sub       *notify.Subscription
	done      chan struct{}
	closeOnce sync.Once
}

type eventMessage struct {
	Event string `json:"event"`
}

func NewHub(subscriber Subscriber, config *Config) *Hub {
	if config == nil {
		config = &Config{}
	}

	name := config.Event
	if name == "" {
		name = DefaultEvent
	}
	message, _ := json.Marshal(eventMessage{Event: name})

	pongWait := config.PongWait
	if pongWait <= 0 {
		pongWait = DefaultPongWait
	}
	pingInterval := config.PingInterval
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = pongWait * 9 / 10
	}
	writeWait := config.WriteWait
	if writeWait <= 0 {
		writeWait = DefaultWriteWait
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the event stream is public and carries no data
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		message:      message,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		writeWait:    writeWait,
		logger:       logger.With("component", "realtime_hub"),
		conns:        make(map[*connection]struct{}),
	}
}

// ServeWS upgrades the request and streams change events until the peer goes
// away or the hub is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	// subscribe before the handshake completes so a connected client
	// never misses a change
	sub := h.subscriber.Subscribe()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.subscriber.Unsubscribe(sub)
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		hub:  h,
		ws:   ws,
		sub:  sub,
		done: make(chan struct{}),
	}

	if !h.register(c) {
		c.close()
		return
	}

	go c.writePump()
	go c.readPump()

	h.logger.DebugContext(r.Context(), "websocket connected", "remote_addr", r.RemoteAddr)
}

func (h *Hub) register(c *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		c.close()
	}

	h.logger.Info("realtime hub closed", "connections", len(conns))
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)
		c.hub.subscriber.Unsubscribe(c.sub)
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *connection) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case _, ok := <-c.sub.C:
			if !ok {
				_ = c.ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(c.hub.writeWait),
				)
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, c.hub.message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
