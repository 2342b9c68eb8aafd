// Package relay carries bridge messages over WebSockets so preview frames can
// live in other processes or browsers.
//
// The Hub runs next to the parent endpoint and accepts frame connections;
// the Client runs next to a frame endpoint and keeps reconnecting. Every
// (re)connect fires OnJoin on the hub, which is where the parent replays its
// current snapshot.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"designsync/pkg/bridge"
)

var (
	// ErrConnClosed is returned when sending on a closed connection.
	ErrConnClosed = errors.New("relay: connection closed")
	// ErrSendQueueFull is returned when a slow peer's queue overflows.
	ErrSendQueueFull = errors.New("relay: send queue full")
	// ErrHubClosed is returned when the hub no longer accepts connections.
	ErrHubClosed = errors.New("relay: hub closed")
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Endpoint receives every message sent by frames. Its policy also gates
	// the WebSocket handshake.
	Endpoint *bridge.Endpoint

	SendQueue      int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	// OnJoin runs once a frame connection is ready to send to.
	OnJoin func(id string, peer bridge.Peer)
	// OnLeave runs after a frame connection has gone away.
	OnLeave func(id string)

	Logger *slog.Logger
}

func (c *HubConfig) defaults() {
	if c.SendQueue <= 0 {
		c.SendQueue = 32
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hub accepts WebSocket connections from preview frames.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub. cfg.Endpoint is required.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("relay: hub needs an endpoint")
	}
	cfg.defaults()
	h := &Hub{
		cfg:   cfg,
		conns: make(map[string]*Conn),
	}
	policy := cfg.Endpoint.Policy()
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return policy.Allowed(r.Header.Get("Origin"))
		},
	}
	return h, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	origin := r.Header.Get("Origin")
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.cfg.Logger.Warn("Relay: upgrade failed", "origin", origin, "error", err)
		return
	}

	c := &Conn{
		id:     uuid.NewString(),
		origin: origin,
		ws:     ws,
		send:   make(chan []byte, h.cfg.SendQueue),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[c.id] = c
	h.mu.Unlock()

	h.cfg.Logger.Info("Relay: frame connected", "conn", c.id, "origin", origin)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	if h.cfg.OnJoin != nil {
		h.cfg.OnJoin(c.id, c)
	}

	h.readPump(c)
	c.Close()
	<-writerDone
	_ = ws.Close()

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	if h.cfg.OnLeave != nil {
		h.cfg.OnLeave(c.id)
	}
	h.cfg.Logger.Info("Relay: frame disconnected", "conn", c.id)
}

func (h *Hub) readPump(c *Conn) {
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	deadline := 2 * h.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.cfg.Logger.Debug("Relay: read failed", "conn", c.id, "error", err)
			}
			return
		}
		select {
		case <-c.closed:
			return
		default:
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		if err := h.cfg.Endpoint.Deliver(c.origin, data); err != nil {
			h.cfg.Logger.Debug("Relay: inbound message not delivered", "conn", c.id, "error", err)
		}
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.cfg.Logger.Debug("Relay: write failed", "conn", c.id, "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Count returns the number of connected frames.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Disconnect drops the frame connection with the given id.
func (h *Hub) Disconnect(id string) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// Close disconnects every frame and waits for their handlers to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	h.wg.Wait()
}

// Conn is one frame connection. It implements bridge.Peer.
type Conn struct {
	id     string
	origin string
	ws     *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Origin returns the Origin header the frame connected with.
func (c *Conn) Origin() string { return c.origin }

// Send queues data for the frame without blocking. A full queue drops data.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts the connection down. The read deadline unblocks the reader.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.SetReadDeadline(time.Now())
	})
}
