// Package preview wires the parameter set, the bridge and the zoom canvas
// into the two roles of a design preview: the Parent, which owns the
// URL-backed canonical set, and the Frame, which renders from broadcasts.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
	"designsync/pkg/store"
	"designsync/pkg/zoom"
)

// StateKeyQuery is the persistent_state key holding the parent's last query.
const StateKeyQuery = "preview.query"

// ErrUnknownFrame is returned by Detach for ids that are not attached.
var ErrUnknownFrame = errors.New("preview: unknown frame")

// ParentConfig configures a Parent.
type ParentConfig struct {
	Endpoint *bridge.Endpoint
	// Tracked is the subset broadcast to frames. Defaults to params.DefaultTrackedKeys.
	Tracked []params.Key
	// Query seeds the canonical set when State holds no saved query.
	Query string
	// State persists the canonical query across restarts. Optional.
	State  store.StateStore
	Logger *slog.Logger
}

// Parent owns the canonical parameter set and keeps every attached frame in
// sync with its tracked subset.
type Parent struct {
	ep      *bridge.Endpoint
	tracked []params.Key
	state   store.StateStore
	logger  *slog.Logger

	mu      sync.Mutex
	current params.Set
	frames  map[string]bridge.Peer

	zoomMu    sync.RWMutex
	zoomLevel float64
	zoomKnown bool

	stopReports func()
}

// NewParent builds the canonical set and starts listening for zoom reports.
func NewParent(ctx context.Context, cfg ParentConfig) (*Parent, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("preview: parent needs an endpoint")
	}
	if len(cfg.Tracked) == 0 {
		cfg.Tracked = params.DefaultTrackedKeys
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	query := cfg.Query
	if cfg.State != nil {
		if saved, ok := cfg.State.GetState(ctx, StateKeyQuery); ok {
			query = saved
			cfg.Logger.Info("Preview: restored parameters", "query", saved)
		}
	}

	p := &Parent{
		ep:      cfg.Endpoint,
		tracked: slices.Clone(cfg.Tracked),
		state:   cfg.State,
		logger:  cfg.Logger,
		current: params.Parse(query),
		frames:  make(map[string]bridge.Peer),
	}
	p.stopReports = p.ep.Listen(message.KindZoomReport, p.onZoomReport)
	return p, nil
}

// Params returns a copy of the canonical set.
func (p *Parent) Params() params.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// Query returns the canonical set as a compact query string.
func (p *Parent) Query() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Encode()
}

// Tracked returns the keys broadcast to frames.
func (p *Parent) Tracked() []params.Key { return slices.Clone(p.tracked) }

// Navigate replaces the canonical set with the one parsed from query, the
// same as loading a new URL. Invalid values fall back to defaults.
func (p *Parent) Navigate(ctx context.Context, query string) params.Set {
	next := params.Parse(query)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaceLocked(ctx, next)
	return next.Clone()
}

// SetParam is the picker write path: it validates a single value and updates
// the canonical set.
func (p *Parent) SetParam(ctx context.Context, key params.Key, raw string) (params.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := p.current.With(key, raw)
	if err != nil {
		return nil, err
	}
	p.replaceLocked(ctx, next)
	return next.Clone(), nil
}

func (p *Parent) replaceLocked(ctx context.Context, next params.Set) {
	prev := p.current
	p.current = next

	if p.state != nil && prev.Encode() != next.Encode() {
		if err := p.state.SetState(ctx, StateKeyQuery, next.Encode()); err != nil {
			p.logger.Warn("Preview: failed to persist parameters", "error", err)
		}
	}

	if prev.Subset(p.tracked).Equal(next.Subset(p.tracked)) {
		return
	}
	snapshot := message.Params{Values: next.Subset(p.tracked)}
	for id, peer := range p.frames {
		p.postLocked(id, peer, snapshot)
	}
}

func (p *Parent) postLocked(id string, peer bridge.Peer, m message.Message) {
	if err := p.ep.Post(peer, m); err != nil {
		p.logger.Warn("Preview: post to frame failed", "frame", id, "kind", m.Kind(), "error", err)
	}
}

// Attach registers a frame and immediately sends it the current snapshot.
// Attaching an id again replaces its peer, which is how a reloaded frame
// gets the snapshot it may have missed.
func (p *Parent) Attach(id string, peer bridge.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[id] = peer
	p.postLocked(id, peer, message.Params{Values: p.current.Subset(p.tracked)})
	p.logger.Debug("Preview: frame attached", "frame", id, "frames", len(p.frames))
}

// Detach forgets a frame.
func (p *Parent) Detach(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.frames[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFrame, id)
	}
	delete(p.frames, id)
	return nil
}

// Frames returns the ids of attached frames, sorted.
func (p *Parent) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.frames))
}

// Zoom sends cmd to every attached frame and returns how many were reached.
// Commands are fire-and-forget; the resulting level arrives as a report.
func (p *Parent) Zoom(cmd zoom.Command) (int, error) {
	if err := cmd.Check(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sent := 0
	for id, peer := range p.frames {
		if err := p.ep.Post(peer, message.ZoomCommand{Command: cmd}); err != nil {
			p.logger.Warn("Preview: zoom command not sent", "frame", id, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// ZoomLevel returns the last zoom level reported by a frame.
func (p *Parent) ZoomLevel() (float64, bool) {
	p.zoomMu.RLock()
	defer p.zoomMu.RUnlock()
	return p.zoomLevel, p.zoomKnown
}

func (p *Parent) onZoomReport(in bridge.Inbound) {
	r, ok := in.Message.(message.ZoomReport)
	if !ok {
		return
	}
	p.zoomMu.Lock()
	p.zoomLevel = r.Zoom
	p.zoomKnown = true
	p.zoomMu.Unlock()
	p.logger.Debug("Preview: zoom reported", "origin", in.Origin, "zoom", r.Zoom)
}

// Close stops listening for zoom reports and forgets all frames.
func (p *Parent) Close() {
	p.stopReports()
	p.mu.Lock()
	clear(p.frames)
	p.mu.Unlock()
}
