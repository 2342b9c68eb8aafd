package preview

import (
	"errors"
	"log/slog"
	"sync"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
	"designsync/pkg/syncstore"
	"designsync/pkg/zoom"
)

// FrameConfig configures a Frame.
type FrameConfig struct {
	Endpoint *bridge.Endpoint
	// Kind is the message kind the store follows. Zero means message.KindParams.
	Kind message.Kind
	// Initial seeds the store, usually parsed from the frame's own URL.
	Initial params.Set
	Tracked []params.Key
	Limits  zoom.Limits
	Logger  *slog.Logger
}

// Frame renders from the parent's broadcasts. It never writes parameters
// upstream; the only thing it sends back is the zoom level it ended up at.
type Frame struct {
	ep     *bridge.Endpoint
	store  *syncstore.Store
	canvas *zoom.Canvas
	logger *slog.Logger

	mu       sync.Mutex
	parent   bridge.Peer
	stopZoom func()
}

// NewFrame creates the frame's store and canvas and attaches both to the endpoint.
func NewFrame(cfg FrameConfig) (*Frame, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("preview: frame needs an endpoint")
	}
	if cfg.Limits == (zoom.Limits{}) {
		cfg.Limits = zoom.DefaultLimits
	}
	if cfg.Kind == 0 {
		cfg.Kind = message.KindParams
	}
	if cfg.Initial == nil {
		cfg.Initial = params.Defaults()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	canvas, err := zoom.NewCanvas(cfg.Limits)
	if err != nil {
		return nil, err
	}

	f := &Frame{
		ep:     cfg.Endpoint,
		store:  syncstore.New(cfg.Kind, cfg.Initial, cfg.Tracked...),
		canvas: canvas,
		logger: cfg.Logger,
	}
	f.store.Attach(f.ep)
	f.stopZoom = f.ep.Listen(message.KindZoomCommand, f.onZoomCommand)
	return f, nil
}

// Store returns the frame's parameter store.
func (f *Frame) Store() *syncstore.Store { return f.store }

// Canvas returns the frame's zoom canvas.
func (f *Frame) Canvas() *zoom.Canvas { return f.canvas }

// SetParent sets where zoom reports go. A nil peer stops reporting.
func (f *Frame) SetParent(peer bridge.Peer) {
	f.mu.Lock()
	f.parent = peer
	f.mu.Unlock()
}

func (f *Frame) onZoomCommand(in bridge.Inbound) {
	cmd, ok := in.Message.(message.ZoomCommand)
	if !ok {
		return
	}
	level, err := f.canvas.Apply(cmd.Command)
	if err != nil {
		f.logger.Warn("Preview: zoom command rejected", "command", cmd.Command, "error", err)
		return
	}

	f.mu.Lock()
	parent := f.parent
	f.mu.Unlock()
	if parent == nil {
		return
	}
	if err := f.ep.Post(parent, message.ZoomReport{Zoom: level}); err != nil {
		f.logger.Debug("Preview: zoom report not sent", "error", err)
	}
}

// Close detaches the store and the zoom handler from the endpoint.
func (f *Frame) Close() {
	f.stopZoom()
	f.store.Dispose()
}
