package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"designsync/pkg/bridge"
)

// ErrNotConnected is returned by Client.Send between sessions.
var ErrNotConnected = errors.New("relay: not connected")

// ClientConfig configures a frame-side Client.
type ClientConfig struct {
	// URL is the hub address, e.g. "ws://127.0.0.1:4100/ws/frame".
	URL string
	// Endpoint receives messages from the parent. Its origin is sent as the
	// Origin header and its policy must allow the hub's origin.
	Endpoint *bridge.Endpoint

	// MaxFailures stops Run after that many consecutive failed dials. Zero retries forever.
	MaxFailures  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration

	// OnConnect runs at the start of every session.
	OnConnect func(peer bridge.Peer)

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Client keeps a frame endpoint connected to a Hub.
type Client struct {
	cfg          ClientConfig
	serverOrigin string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient validates cfg and derives the hub's origin from its URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("relay: client needs an endpoint")
	}
	origin, err := OriginFromURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg, serverOrigin: origin}, nil
}

// OriginFromURL maps a ws/wss URL to the http/https origin of its host.
func OriginFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay: invalid url %q: %w", raw, err)
	}
	var scheme string
	switch u.Scheme {
	case "ws", "http":
		scheme = "http"
	case "wss", "https":
		scheme = "https"
	default:
		return "", fmt.Errorf("relay: unsupported scheme %q", u.Scheme)
	}
	return bridge.NormalizeOrigin(scheme + "://" + u.Host)
}

// ServerOrigin is the origin inbound messages are attributed to.
func (c *Client) ServerOrigin() string { return c.serverOrigin }

// Send writes data on the current connection.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Run connects, serves the session and reconnects with exponential backoff
// until ctx is done or MaxFailures consecutive dials fail.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if c.cfg.MaxFailures > 0 && failures >= c.cfg.MaxFailures {
				return fmt.Errorf("relay: giving up after %d failed dials: %w", failures, err)
			}
			delay := c.backoff(failures)
			c.cfg.Logger.Warn("Relay: dial failed, retrying", "url", c.cfg.URL, "attempt", failures, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.cfg.Logger.Info("Relay: session ended, reconnecting", "url", c.cfg.URL)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < attempt && d < c.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxDelay)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", c.cfg.Endpoint.Origin())
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			c.cfg.Logger.Warn("Relay: handshake rejected", "status", resp.Status, "status_code", resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	sessionDone := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			_ = conn.Close()
		case <-sessionDone:
		}
	}()

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(c)
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := c.cfg.Endpoint.Deliver(c.serverOrigin, data); err != nil {
			c.cfg.Logger.Debug("Relay: inbound message not delivered", "error", err)
		}
	}

	close(sessionDone)
	<-stopped

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()
}
