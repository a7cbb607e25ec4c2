package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/domain/viewport"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/provider/sim"
	"github.com/turtacn/mapsync/internal/sync/schedule"
	"github.com/turtacn/mapsync/internal/testutil"
)

var (
	epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	start = viewport.New(37.5665, 126.9780, 17)
)

type modeChange struct {
	Pane pane.ID
	Mode pane.Mode
}

type addressRequest struct {
	Pane pane.ID
	At   viewport.LatLng
}

type paneError struct {
	Pane pane.ID
	Err  error
}

// recorder is a HostListener that keeps every notification.
type recorder struct {
	mu        sync.Mutex
	viewports []viewport.Viewport
	modes     []modeChange
	addresses []addressRequest
	errs      []paneError
}

func (r *recorder) OnCanonicalViewportChanged(v viewport.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewports = append(r.viewports, v)
}

func (r *recorder) OnPaneModeChanged(p pane.ID, m pane.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, modeChange{p, m})
}

func (r *recorder) OnAddressRequested(p pane.ID, at viewport.LatLng) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = append(r.addresses, addressRequest{p, at})
}

func (r *recorder) OnPaneError(p pane.ID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, paneError{p, err})
}

func (r *recorder) Viewports() []viewport.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]viewport.Viewport(nil), r.viewports...)
}

func (r *recorder) Modes() []modeChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]modeChange(nil), r.modes...)
}

func (r *recorder) Addresses() []addressRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]addressRequest(nil), r.addresses...)
}

func (r *recorder) Errors() []paneError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]paneError(nil), r.errs...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *schedule.Manual
	runtimes map[pane.ProviderKind]*sim.Runtime
	eng      *Engine
	host     *recorder
	log      *testutil.MockLogger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, rts := sim.NewRegistry()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    schedule.NewManual(epoch),
		runtimes: rts,
		host:     &recorder{},
		log:      testutil.NewMockLogger(),
	}
	opts := DefaultOptions()
	opts.InitialViewport = start
	eng, err := New(reg, opts, h.log, WithScheduler(h.clock), WithListener(h.host))
	require.NoError(t, err)
	eng.Start(h.ctx)
	t.Cleanup(eng.Stop)
	h.eng = eng
	return h
}

// addPane configures a pane and returns its widget.
func (h *harness) addPane(id pane.ID, kind pane.ProviderKind) *sim.Widget {
	h.t.Helper()
	require.NoError(h.t, h.eng.SetPaneConfig(h.ctx, id, pane.Config{Provider: kind}))
	h.eng.Settle()
	w := h.runtimes[kind].Widget(id.String())
	require.NotNil(h.t, w, "pane %s has no widget", id)
	return w
}

// threePanes sets up left/right/center on vendor A/B/C and lets every
// settle window expire.
func (h *harness) threePanes() (a, b, c *sim.Widget) {
	a = h.addPane("left", pane.ProviderGoogle)
	b = h.addPane("right", pane.ProviderKakao)
	c = h.addPane("center", pane.ProviderNaver)
	h.advance(time.Second)
	for _, w := range []*sim.Widget{a, b, c} {
		w.ResetCalls()
	}
	return a, b, c
}

// advance drains queued widget events at the current time, then moves the
// clock and drains again, so timers are always armed before time passes.
func (h *harness) advance(d time.Duration) {
	h.eng.Settle()
	h.clock.Advance(d)
	h.eng.Settle()
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.eng.Snapshot(h.ctx)
	require.NoError(h.t, err)
	return s
}

func native(kind pane.ProviderKind, v viewport.Viewport) normalizer.NativeView {
	n, err := normalizer.For(kind)
	if err != nil {
		panic(err)
	}
	return n.FromCanonical(v)
}

func canonical(kind pane.ProviderKind, nv normalizer.NativeView) viewport.Viewport {
	n, err := normalizer.For(kind)
	if err != nil {
		panic(err)
	}
	return n.ToCanonical(nv)
}

func nativePoint(kind pane.ProviderKind, p viewport.LatLng) normalizer.NativePoint {
	n, err := normalizer.For(kind)
	if err != nil {
		panic(err)
	}
	return n.FromCanonicalPoint(p)
}
