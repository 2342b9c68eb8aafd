// Package bridge moves messages between window contexts.
//
// An Endpoint stands for one window (a parent or a preview frame). Inbound
// data is origin-checked, decoded and dispatched to at most one handler per
// message kind on a single goroutine, so handlers never run concurrently and
// see messages in arrival order. Delivery is fire-and-forget: a full inbox
// drops the message and nothing is retried.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"designsync/pkg/message"
)

var (
	// ErrClosed is returned when the endpoint has been closed.
	ErrClosed = errors.New("bridge: endpoint closed")
	// ErrOriginRejected is returned when the sender origin is not allowed.
	ErrOriginRejected = errors.New("bridge: origin rejected")
	// ErrInboxFull is returned when an inbound message had to be dropped.
	ErrInboxFull = errors.New("bridge: inbox full")
	// ErrNoPolicy is returned by NewEndpoint without an origin policy.
	ErrNoPolicy = errors.New("bridge: origin policy is required")
)

// Drop reasons reported to observers.
const (
	DropOrigin    = "origin"
	DropMalformed = "malformed"
	DropInboxFull = "inbox_full"
	DropUnhandled = "unhandled"
	DropClosed    = "closed"
)

// Peer is the sending half of a link to another endpoint.
type Peer interface {
	Send(data []byte) error
}

// Inbound is a decoded message together with the origin it came from.
type Inbound struct {
	Origin  string
	Message message.Message
}

// Handler consumes inbound messages of one kind.
type Handler func(Inbound)

// Observer receives delivery events, e.g. for metrics. Methods must not block.
type Observer interface {
	Posted(kind message.Kind)
	Delivered(kind message.Kind)
	Dropped(reason string)
}

// Stats counts endpoint traffic.
type Stats struct {
	Posted    uint64
	Delivered uint64
	Dropped   uint64
	Rejected  uint64
}

// Config configures an Endpoint.
type Config struct {
	// Origin identifies this endpoint to its peers.
	Origin string
	// Policy decides which sender origins are accepted. Required.
	Policy *OriginPolicy
	// InboxSize bounds queued inbound messages. Defaults to 64.
	InboxSize int
	Logger    *slog.Logger
	Observer  Observer
}

type registration struct {
	id      uint64
	handler Handler
}

// Endpoint is one window context on the bridge.
type Endpoint struct {
	origin   string
	policy   *OriginPolicy
	logger   *slog.Logger
	observer Observer

	inbox chan Inbound
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu       sync.Mutex
	handlers map[message.Kind]registration
	nextID   uint64

	posted    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

// NewEndpoint creates an endpoint and starts its dispatch goroutine.
// Close must be called to stop it.
func NewEndpoint(cfg Config) (*Endpoint, error) {
	if cfg.Policy == nil {
		return nil, ErrNoPolicy
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Endpoint{
		origin:   cfg.Origin,
		policy:   cfg.Policy,
		logger:   cfg.Logger.With("endpoint", cfg.Origin),
		observer: cfg.Observer,
		inbox:    make(chan Inbound, cfg.InboxSize),
		done:     make(chan struct{}),
		handlers: make(map[message.Kind]registration),
	}
	e.wg.Add(1)
	go e.run()
	return e, nil
}

// Origin returns the origin this endpoint stamps on outbound messages.
func (e *Endpoint) Origin() string { return e.origin }

// Logger returns the endpoint's logger.
func (e *Endpoint) Logger() *slog.Logger { return e.logger }

// Policy returns the endpoint's origin policy.
func (e *Endpoint) Policy() *OriginPolicy { return e.policy }

// Listen installs h as the handler for kind, replacing any previous handler,
// so constructing a consumer twice never leaves two listeners behind. The
// returned stop func removes h only if it is still the installed handler.
func (e *Endpoint) Listen(kind message.Kind, h Handler) (stop func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if _, replaced := e.handlers[kind]; replaced {
		e.logger.Debug("Bridge: replacing handler", "kind", kind)
	}
	e.handlers[kind] = registration{id: id, handler: h}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if reg, ok := e.handlers[kind]; ok && reg.id == id {
			delete(e.handlers, kind)
		}
	}
}

// HasListener reports whether a handler is installed for kind.
func (e *Endpoint) HasListener(kind message.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.handlers[kind]
	return ok
}

// Deliver hands raw wire data received from origin to the endpoint. It never
// blocks. The returned error says why a message was not queued; callers
// acting as a transport usually only log it.
func (e *Endpoint) Deliver(origin string, data []byte) error {
	select {
	case <-e.done:
		e.drop(DropClosed)
		return ErrClosed
	default:
	}

	if !e.policy.Allowed(origin) {
		e.rejected.Add(1)
		e.drop(DropOrigin)
		e.logger.Warn("Bridge: dropped message from disallowed origin", "origin", origin)
		return fmt.Errorf("%w: %q", ErrOriginRejected, origin)
	}

	m, err := message.Decode(data)
	if err != nil {
		e.drop(DropMalformed)
		e.logger.Debug("Bridge: dropped undecodable message", "origin", origin, "error", err)
		return err
	}

	select {
	case e.inbox <- Inbound{Origin: origin, Message: m}:
		return nil
	default:
		e.drop(DropInboxFull)
		e.logger.Warn("Bridge: inbox full, message dropped", "kind", m.Kind())
		return ErrInboxFull
	}
}

// Post encodes m and sends it to peer.
func (e *Endpoint) Post(peer Peer, m message.Message) error {
	data, err := message.Encode(m)
	if err != nil {
		return err
	}
	if err := peer.Send(data); err != nil {
		return err
	}
	e.posted.Add(1)
	if e.observer != nil {
		e.observer.Posted(m.Kind())
	}
	return nil
}

// Stats returns a snapshot of the endpoint counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Posted:    e.posted.Load(),
		Delivered: e.delivered.Load(),
		Dropped:   e.dropped.Load(),
		Rejected:  e.rejected.Load(),
	}
}

// Close stops dispatching. Queued messages are discarded.
func (e *Endpoint) Close() {
	e.once.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

func (e *Endpoint) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case in := <-e.inbox:
			e.dispatch(in)
		}
	}
}

func (e *Endpoint) dispatch(in Inbound) {
	kind := in.Message.Kind()

	e.mu.Lock()
	reg, ok := e.handlers[kind]
	e.mu.Unlock()

	if !ok {
		e.drop(DropUnhandled)
		return
	}
	reg.handler(in)
	e.delivered.Add(1)
	if e.observer != nil {
		e.observer.Delivered(kind)
	}
}

func (e *Endpoint) drop(reason string) {
	e.dropped.Add(1)
	if e.observer != nil {
		e.observer.Dropped(reason)
	}
}
