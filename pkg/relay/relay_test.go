package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const frameOrigin = "http://frame.test"

type harness struct {
	srv    *httptest.Server
	hub    *Hub
	parent *bridge.Endpoint
	wsURL  string

	mu     sync.Mutex
	joined []string
	peers  map[string]bridge.Peer
	joins  chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	policy, err := bridge.NewOriginPolicy([]string{frameOrigin})
	require.NoError(t, err)
	parent, err := bridge.NewEndpoint(bridge.Config{Origin: "http://parent.test", Policy: policy})
	require.NoError(t, err)

	h := &harness{parent: parent, peers: map[string]bridge.Peer{}, joins: make(chan string, 8)}
	h.hub, err = NewHub(HubConfig{
		Endpoint:     parent,
		PingInterval: time.Second,
		OnJoin: func(id string, peer bridge.Peer) {
			h.mu.Lock()
			h.joined = append(h.joined, id)
			h.peers[id] = peer
			h.mu.Unlock()
			// Replay on connect.
			_ = parent.Post(peer, message.Params{Values: params.Parse("theme=rose").Subset(params.DefaultTrackedKeys)})
			h.joins <- id
		},
		OnLeave: func(id string) {
			h.mu.Lock()
			delete(h.peers, id)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("/ws/frame", h.hub)
	h.srv = httptest.NewServer(mux)
	h.wsURL = "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/frame"

	t.Cleanup(func() {
		h.hub.Close()
		h.srv.Close()
		parent.Close()
	})
	return h
}

func (h *harness) waitJoin(t *testing.T) string {
	t.Helper()
	select {
	case id := <-h.joins:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("frame never joined")
		return ""
	}
}

func newFrame(t *testing.T, serverOrigin string) *bridge.Endpoint {
	t.Helper()
	policy, err := bridge.NewOriginPolicy([]string{serverOrigin})
	require.NoError(t, err)
	ep, err := bridge.NewEndpoint(bridge.Config{Origin: frameOrigin, Policy: policy})
	require.NoError(t, err)
	t.Cleanup(ep.Close)
	return ep
}

func TestOriginFromURL(t *testing.T) {
	o, err := OriginFromURL("ws://127.0.0.1:4100/ws/frame")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:4100", o)

	o, err = OriginFromURL("wss://preview.example.com/ws/frame")
	require.NoError(t, err)
	assert.Equal(t, "https://preview.example.com", o)

	_, err = OriginFromURL("ftp://example.com")
	assert.Error(t, err)
}

func TestRelay_ReplayOnConnectAndReport(t *testing.T) {
	h := newHarness(t)
	serverOrigin, err := OriginFromURL(h.wsURL)
	require.NoError(t, err)
	frame := newFrame(t, serverOrigin)

	gotParams := make(chan message.Params, 4)
	frame.Listen(message.KindParams, func(in bridge.Inbound) {
		gotParams <- in.Message.(message.Params)
	})
	reports := make(chan float64, 4)
	h.parent.Listen(message.KindZoomReport, func(in bridge.Inbound) {
		assert.Equal(t, frameOrigin, in.Origin)
		reports <- in.Message.(message.ZoomReport).Zoom
	})

	client, err := NewClient(ClientConfig{URL: h.wsURL, Endpoint: frame, BaseDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	h.waitJoin(t)
	select {
	case p := <-gotParams:
		assert.Equal(t, "rose", p.Values[params.KeyTheme])
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not replayed on connect")
	}

	require.NoError(t, frame.Post(client, message.ZoomReport{Zoom: 1.5}))
	select {
	case z := <-reports:
		assert.Equal(t, 1.5, z)
	case <-time.After(2 * time.Second):
		t.Fatal("report not received")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Eventually(t, func() bool { return h.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_ReconnectReplays(t *testing.T) {
	h := newHarness(t)
	serverOrigin, err := OriginFromURL(h.wsURL)
	require.NoError(t, err)
	frame := newFrame(t, serverOrigin)

	snapshots := make(chan struct{}, 4)
	frame.Listen(message.KindParams, func(bridge.Inbound) { snapshots <- struct{}{} })

	client, err := NewClient(ClientConfig{URL: h.wsURL, Endpoint: frame, BaseDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	first := h.waitJoin(t)
	<-snapshots
	require.True(t, h.hub.Disconnect(first))

	second := h.waitJoin(t)
	assert.NotEqual(t, first, second)
	select {
	case <-snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not replayed after reconnect")
	}

	cancel()
	<-done
}

func TestHub_RejectsDisallowedOrigin(t *testing.T) {
	h := newHarness(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 0, h.hub.Count())
}

func TestClient_GivesUp(t *testing.T) {
	frame := newFrame(t, "http://127.0.0.1:1")
	client, err := NewClient(ClientConfig{
		URL:         "ws://127.0.0.1:1/ws/frame",
		Endpoint:    frame,
		MaxFailures: 2,
		BaseDelay:   time.Millisecond,
	})
	require.NoError(t, err)

	err = client.Run(context.Background())
	assert.ErrorContains(t, err, "giving up after 2 failed dials")
	assert.ErrorIs(t, client.Send([]byte("{}")), ErrNotConnected)
}

func TestClient_Backoff(t *testing.T) {
	c := &Client{cfg: ClientConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}}
	assert.Equal(t, 100*time.Millisecond, c.backoff(1))
	assert.Equal(t, 200*time.Millisecond, c.backoff(2))
	assert.Equal(t, 800*time.Millisecond, c.backoff(4))
	assert.Equal(t, time.Second, c.backoff(10))
}

func TestConn_SendQueueFull(t *testing.T) {
	c := &Conn{send: make(chan []byte, 1), closed: make(chan struct{})}
	require.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendQueueFull)

	close(c.closed)
	assert.ErrorIs(t, c.Send([]byte("c")), ErrConnClosed)
}
