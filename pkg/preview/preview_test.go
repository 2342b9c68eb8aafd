package preview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"designsync/pkg/bridge"
	"designsync/pkg/message"
	"designsync/pkg/params"
	"designsync/pkg/zoom"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	parentOrigin = "http://localhost:4000"
	frameOrigin  = "http://localhost:4001"
)

type memState struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memState) GetState(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok
}

func (m *memState) SetState(_ context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals == nil {
		m.vals = map[string]string{}
	}
	m.vals[key] = val
	return nil
}

func (m *memState) DeleteState(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

type rig struct {
	parentEP *bridge.Endpoint
	frameEP  *bridge.Endpoint
	toFrame  bridge.Peer
	toParent bridge.Peer
}

func newRig(t *testing.T) *rig {
	t.Helper()
	pp, err := bridge.NewOriginPolicy([]string{frameOrigin})
	require.NoError(t, err)
	fp, err := bridge.NewOriginPolicy([]string{parentOrigin})
	require.NoError(t, err)

	r := &rig{}
	r.parentEP, err = bridge.NewEndpoint(bridge.Config{Origin: parentOrigin, Policy: pp})
	require.NoError(t, err)
	r.frameEP, err = bridge.NewEndpoint(bridge.Config{Origin: frameOrigin, Policy: fp})
	require.NoError(t, err)
	t.Cleanup(func() {
		r.parentEP.Close()
		r.frameEP.Close()
	})
	r.toFrame, r.toParent = bridge.Pipe(r.parentEP, r.frameEP)
	return r
}

func newParent(t *testing.T, r *rig, query string, state *memState) *Parent {
	t.Helper()
	cfg := ParentConfig{Endpoint: r.parentEP, Query: query}
	if state != nil {
		cfg.State = state
	}
	p, err := NewParent(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func newFrame(t *testing.T, r *rig, query string) *Frame {
	t.Helper()
	f, err := NewFrame(FrameConfig{Endpoint: r.frameEP, Initial: params.Parse(query)})
	require.NoError(t, err)
	f.SetParent(r.toParent)
	t.Cleanup(f.Close)
	return f
}

func TestEndToEnd_FrameMatchesParentAfterLoad(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "?theme=neutral&style=vega", nil)
	// The frame was loaded from a stale URL.
	frame := newFrame(t, r, "?theme=rose&style=lyra&font=geist")

	parent.Attach("frame-1", r.toFrame)

	want := parent.Params().Subset(parent.Tracked())
	assert.Eventually(t, func() bool {
		return frame.Store().AllSnapshot().Equal(want)
	}, time.Second, 5*time.Millisecond)

	v, _ := frame.Store().Snapshot(params.KeyStyle)
	assert.Equal(t, "vega", v)
}

func TestSetParam_BroadcastsFullSubset(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)
	frame := newFrame(t, r, "")
	parent.Attach("frame-1", r.toFrame)
	require.Eventually(t, func() bool { return frame.Store().Version() == 1 }, time.Second, 5*time.Millisecond)

	changed := make(chan string, 4)
	frame.Store().Subscribe(params.KeyTheme, func(_ params.Key, v string) { changed <- v })

	_, err := parent.SetParam(context.Background(), params.KeyTheme, "violet")
	require.NoError(t, err)

	select {
	case v := <-changed:
		assert.Equal(t, "violet", v)
	case <-time.After(time.Second):
		t.Fatal("theme change not broadcast")
	}
	assert.Equal(t, uint64(2), frame.Store().Version())
}

func TestSetParam_UntrackedKeyDoesNotBroadcast(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)
	parent.Attach("frame-1", r.toFrame)
	before := r.parentEP.Stats().Posted

	_, err := parent.SetParam(context.Background(), params.KeySize, "80")
	require.NoError(t, err)
	assert.Equal(t, before, r.parentEP.Stats().Posted)
	assert.Equal(t, "size=80", parent.Query())
}

func TestSetParam_InvalidLeavesSetUntouched(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "theme=stone", nil)

	_, err := parent.SetParam(context.Background(), params.KeyTheme, "chartreuse")
	assert.ErrorIs(t, err, params.ErrInvalidValue)
	_, err = parent.SetParam(context.Background(), params.Key("colour"), "red")
	assert.ErrorIs(t, err, params.ErrUnknownKey)
	assert.Equal(t, "theme=stone", parent.Query())
}

func TestNavigate_SubstitutesDefaults(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)

	got := parent.Navigate(context.Background(), "theme=nope&size=abc&font=outfit")
	assert.Equal(t, "neutral", got[params.KeyTheme])
	assert.Equal(t, "100", got[params.KeySize])
	assert.Equal(t, "font=outfit", parent.Query())
}

func TestFrame_StoreFollowsConfiguredKind(t *testing.T) {
	r := newRig(t)
	frame := newFrame(t, r, "")
	assert.Equal(t, message.KindParams, frame.Store().Kind())
	frame.Close()

	other, err := NewFrame(FrameConfig{Endpoint: r.frameEP, Kind: message.KindZoomReport})
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, message.KindZoomReport, other.Store().Kind())
	assert.True(t, r.frameEP.HasListener(message.KindZoomReport))
}

func TestDetach(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)
	parent.Attach("a", r.toFrame)
	parent.Attach("b", r.toFrame)
	assert.Equal(t, []string{"a", "b"}, parent.Frames())

	require.NoError(t, parent.Detach("a"))
	assert.ErrorIs(t, parent.Detach("a"), ErrUnknownFrame)
	assert.Equal(t, []string{"b"}, parent.Frames())
}

func TestZoom_CommandAndReport(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)
	frame := newFrame(t, r, "")
	parent.Attach("frame-1", r.toFrame)

	_, known := parent.ZoomLevel()
	assert.False(t, known)

	for range 3 {
		n, err := parent.Zoom(zoom.In())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	assert.Eventually(t, func() bool {
		z, ok := parent.ZoomLevel()
		return ok && z == 1.3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.3, frame.Canvas().Zoom())
}

func TestZoom_RejectsInvalidCommand(t *testing.T) {
	r := newRig(t)
	parent := newParent(t, r, "", nil)
	parent.Attach("frame-1", r.toFrame)

	_, err := parent.Zoom(zoom.Command{Op: "SPIN"})
	assert.ErrorIs(t, err, zoom.ErrUnknownOp)
}

func TestPersistence_RestoresQuery(t *testing.T) {
	state := &memState{}
	r := newRig(t)
	first := newParent(t, r, "", state)
	_, err := first.SetParam(context.Background(), params.KeyFont, "figtree")
	require.NoError(t, err)
	first.Close()

	second := newParent(t, r, "", state)
	assert.Equal(t, "font=figtree", second.Query())
}

func TestPersistence_SavedQueryWinsOverInitial(t *testing.T) {
	state := &memState{}
	r := newRig(t)

	// Nothing saved yet: the initial query seeds the set.
	first := newParent(t, r, "theme=rose&style=lyra", state)
	assert.Equal(t, "style=lyra&theme=rose", first.Query())
	first.Navigate(context.Background(), "theme=violet&font=outfit")
	first.Close()

	second := newParent(t, r, "theme=rose&style=lyra", state)
	assert.Equal(t, "font=outfit&theme=violet", second.Query())
}
