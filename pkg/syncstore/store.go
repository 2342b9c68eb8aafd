// Package syncstore mirrors a parent's parameter set inside a preview frame.
//
// A Store is seeded with initial values and then only changes when a
// message of its kind arrives. Each accepted message replaces the whole
// tracked subset; a message that leaves out a tracked key is rejected so a
// frame never keeps a stale value the parent forgot to resend.
package syncstore

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
)

var (
	// ErrKindMismatch is returned by Apply for messages of another kind.
	ErrKindMismatch = errors.New("syncstore: message kind mismatch")
	// ErrIncompleteSnapshot is returned when a sync message lacks a tracked key.
	ErrIncompleteSnapshot = errors.New("syncstore: snapshot missing tracked key")
	// ErrUntrackedKey is returned when a sync message carries a key outside the tracked subset.
	ErrUntrackedKey = errors.New("syncstore: untracked key in snapshot")
	// ErrDisposed is returned after Dispose.
	ErrDisposed = errors.New("syncstore: store disposed")
)

// Listener is called with the new value of the key it subscribed to.
type Listener func(key params.Key, value string)

type subscriber struct {
	id uint64
	fn Listener
}

// Store is a subscribable snapshot of the tracked parameter subset.
type Store struct {
	kind    message.Kind
	tracked []params.Key

	mu       sync.RWMutex
	state    params.Set
	version  uint64
	subs     map[params.Key][]subscriber
	nextID   uint64
	detach   func()
	disposed bool

	rejected atomic.Uint64
}

// New creates a store for messages of kind, seeded with initial. Only the
// tracked keys are kept; with no keys given params.DefaultTrackedKeys is used.
// Tracked keys missing from initial take their schema default.
func New(kind message.Kind, initial params.Set, tracked ...params.Key) *Store {
	if len(tracked) == 0 {
		tracked = params.DefaultTrackedKeys
	}
	tracked = slices.Clone(tracked)

	state := make(params.Set, len(tracked))
	for _, k := range tracked {
		state[k] = initial.Get(k)
	}
	return &Store{
		kind:    kind,
		tracked: tracked,
		state:   state,
		subs:    make(map[params.Key][]subscriber),
	}
}

// Kind returns the message kind this store reacts to.
func (s *Store) Kind() message.Kind { return s.kind }

// Rejected counts inbound messages Apply refused while attached.
func (s *Store) Rejected() uint64 { return s.rejected.Load() }

// Tracked returns the keys mirrored by the store.
func (s *Store) Tracked() []params.Key { return slices.Clone(s.tracked) }

// Attach installs the store as the endpoint's handler for its kind. The
// endpoint keeps one handler per kind, so attaching a rebuilt store replaces
// the old one instead of adding a second listener.
func (s *Store) Attach(ep *bridge.Endpoint) {
	logger := ep.Logger()
	stop := ep.Listen(s.kind, func(in bridge.Inbound) {
		// The next parent change resends everything.
		if err := s.Apply(in.Message); err != nil {
			s.rejected.Add(1)
			logger.Warn("SyncStore: snapshot rejected", "origin", in.Origin, "error", err)
		}
	})

	s.mu.Lock()
	prev := s.detach
	s.detach = stop
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Subscribe registers fn for changes of key and returns a func that removes
// exactly this registration.
func (s *Store) Subscribe(key params.Key, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[key] = append(s.subs[key], subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs[key] = slices.DeleteFunc(s.subs[key], func(sub subscriber) bool {
				return sub.id == id
			})
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

// Snapshot returns the current value of key and whether it is tracked.
func (s *Store) Snapshot(key params.Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// AllSnapshot returns the values of keys, or of every tracked key when none
// are given. Untracked keys are omitted.
func (s *Store) AllSnapshot(keys ...params.Key) params.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(keys) == 0 {
		return s.state.Clone()
	}
	return s.state.Subset(keys)
}

// Version increases by one for every accepted snapshot.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply replaces the tracked subset with the values carried by m and notifies
// subscribers of keys whose value changed. A rejected message leaves the
// store untouched.
func (s *Store) Apply(m message.Message) error {
	if m.Kind() != s.kind {
		return fmt.Errorf("%w: store handles %s, got %s", ErrKindMismatch, s.kind, m.Kind())
	}
	p, ok := m.(message.Params)
	if !ok {
		return fmt.Errorf("%w: %T carries no parameters", ErrKindMismatch, m)
	}

	for _, k := range s.tracked {
		if _, ok := p.Values[k]; !ok {
			return fmt.Errorf("%w: %s", ErrIncompleteSnapshot, k)
		}
	}
	if len(p.Values) != len(s.tracked) {
		for k := range p.Values {
			if !slices.Contains(s.tracked, k) {
				return fmt.Errorf("%w: %s", ErrUntrackedKey, k)
			}
		}
	}

	type change struct {
		key   params.Key
		value string
		subs  []subscriber
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	var changes []change
	for _, k := range s.tracked {
		v := p.Values[k]
		if s.state[k] == v {
			continue
		}
		s.state[k] = v
		changes = append(changes, change{key: k, value: v, subs: slices.Clone(s.subs[k])})
	}
	s.version++
	s.mu.Unlock()

	for _, c := range changes {
		for _, sub := range c.subs {
			sub.fn(c.key, c.value)
		}
	}
	return nil
}

// Dispose detaches the store from its endpoint and drops all subscribers.
// Snapshots stay readable.
func (s *Store) Dispose() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.disposed = true
	s.subs = make(map[params.Key][]subscriber)
	s.mu.Unlock()

	if detach != nil {
		detach()
	}
}
