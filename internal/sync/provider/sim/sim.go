// Package sim provides in-memory map widgets that behave like vendor SDK
// widgets: they echo programmatic writes as change events, report user
// drags with interaction boundaries, and can open panoramas.  The engine
// tests and the simulate command drive panes through it.
package sim

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/turtacn/mapsync/internal/domain/pane"
	"github.com/turtacn/mapsync/internal/sync/normalizer"
	"github.com/turtacn/mapsync/internal/sync/provider"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Runtime is a simulated provider SDK.
type Runtime struct {
	kind  pane.ProviderKind
	ready atomic.Bool

	mu      sync.Mutex
	widgets []*Widget
	// NoImagery, when set, decides which panorama requests fail.
	noImagery func(normalizer.NativePoint) bool
}

// NewRuntime returns a runtime for kind, loaded or not.
func NewRuntime(kind pane.ProviderKind, ready bool) *Runtime {
	r := &Runtime{kind: kind}
	r.ready.Store(ready)
	return r
}

// NewRegistry returns a registry with a ready runtime for every known provider.
func NewRegistry() (*provider.Registry, map[pane.ProviderKind]*Runtime) {
	rts := make(map[pane.ProviderKind]*Runtime)
	reg := provider.NewRegistry()
	for _, k := range pane.KnownProviders {
		rt := NewRuntime(k, true)
		rts[k] = rt
		reg.Register(rt)
	}
	return reg, rts
}

func (r *Runtime) Kind() pane.ProviderKind { return r.kind }

func (r *Runtime) Ready() bool { return r.ready.Load() }

// SetReady flips the runtime's loaded flag.
func (r *Runtime) SetReady(ready bool) { r.ready.Store(ready) }

// SetNoImagery installs the predicate used by OpenPanorama on new widgets.
func (r *Runtime) SetNoImagery(f func(normalizer.NativePoint) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noImagery = f
}

func (r *Runtime) NewWidget(container string) (provider.Widget, error) {
	if !r.Ready() {
		return nil, errors.ProviderUnavailable(r.kind.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w := &Widget{
		kind:      r.kind,
		container: container,
		echo:      true,
		overlays:  make(map[string]bool),
		listeners: make(map[int]func(provider.NativeEvent)),
		noImagery: r.noImagery,
	}
	r.widgets = append(r.widgets, w)
	return w, nil
}

// Widgets returns every widget created so far, destroyed ones included.
func (r *Runtime) Widgets() []*Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Widget(nil), r.widgets...)
}

// Widget returns the newest live widget mounted in container.
func (r *Runtime) Widget(container string) *Widget {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.widgets) - 1; i >= 0; i-- {
		if w := r.widgets[i]; w.container == container && !w.Destroyed() {
			return w
		}
	}
	return nil
}

// Widget is a simulated vendor map.
type Widget struct {
	kind      pane.ProviderKind
	container string

	mu        sync.Mutex
	view      normalizer.NativeView
	satellite bool
	overlays  map[string]bool
	panorama  *normalizer.NativePoint
	measuring string
	marker    *normalizer.NativePoint
	destroyed bool
	echo      bool
	noImagery func(normalizer.NativePoint) bool
	failOn    map[string]error
	panicOn   map[string]bool

	listeners map[int]func(provider.NativeEvent)
	nextID    int

	calls    []string
	setViews []normalizer.NativeView
}

// Container returns the mount point the widget was created for.
func (w *Widget) Container() string { return w.container }

// SetEcho controls whether SetView fires a change event.
func (w *Widget) SetEcho(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.echo = on
}

// FailOn makes the named operation return err until cleared with nil.
func (w *Widget) FailOn(op string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn == nil {
		w.failOn = make(map[string]error)
	}
	if err == nil {
		delete(w.failOn, op)
		return
	}
	w.failOn[op] = err
}

// PanicOn makes the named operation panic.
func (w *Widget) PanicOn(op string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panicOn == nil {
		w.panicOn = make(map[string]bool)
	}
	w.panicOn[op] = true
}

// record logs op and returns its injected failure, if any.  Caller holds mu.
func (w *Widget) record(op, entry string) error {
	if w.panicOn[op] {
		panic(fmt.Sprintf("sim: %s exploded", op))
	}
	if w.destroyed {
		return fmt.Errorf("sim: %s on destroyed widget", op)
	}
	if err := w.failOn[op]; err != nil {
		return err
	}
	w.calls = append(w.calls, entry)
	return nil
}

func (w *Widget) fire(ev provider.NativeEvent) {
	w.mu.Lock()
	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]func(provider.NativeEvent), 0, len(ids))
	for _, id := range ids {
		ls = append(ls, w.listeners[id])
	}
	w.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

func (w *Widget) View() (normalizer.NativeView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view, nil
}

func (w *Widget) SetView(v normalizer.NativeView) error {
	echo, err := w.storeView(v)
	if err != nil {
		return err
	}
	if echo {
		w.fire(provider.NativeEvent{Kind: provider.NativeViewChanged, View: v})
	}
	return nil
}

func (w *Widget) storeView(v normalizer.NativeView) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("set_view", "set_view "+v.String()); err != nil {
		return false, err
	}
	w.view = v
	w.setViews = append(w.setViews, v)
	return w.echo, nil
}

func (w *Widget) SetMapKind(satellite bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("map_kind", fmt.Sprintf("map_kind satellite=%t", satellite)); err != nil {
		return err
	}
	w.satellite = satellite
	return nil
}

func (w *Widget) SetOverlay(name string, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("overlay", fmt.Sprintf("overlay %s=%t", name, on)); err != nil {
		return err
	}
	if on {
		w.overlays[name] = true
	} else {
		delete(w.overlays, name)
	}
	return nil
}

func (w *Widget) OpenPanorama(at normalizer.NativePoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.noImagery != nil && w.noImagery(at) {
		return errors.NoImageryAvailable(fmt.Sprintf("%.6f,%.6f", at.X, at.Y))
	}
	if err := w.record("panorama_open", fmt.Sprintf("panorama_open %.6f,%.6f", at.X, at.Y)); err != nil {
		return err
	}
	p := at
	w.panorama = &p
	return nil
}

func (w *Widget) ClosePanorama() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("panorama_close", "panorama_close"); err != nil {
		return err
	}
	w.panorama = nil
	return nil
}

func (w *Widget) BeginMeasurement(kind string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("measure_begin", "measure_begin "+kind); err != nil {
		return err
	}
	w.measuring = kind
	return nil
}

func (w *Widget) EndMeasurement() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("measure_end", "measure_end"); err != nil {
		return err
	}
	w.measuring = ""
	return nil
}

func (w *Widget) ShowMarker(at normalizer.NativePoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("marker", fmt.Sprintf("marker %.6f,%.6f", at.X, at.Y)); err != nil {
		return err
	}
	p := at
	w.marker = &p
	return nil
}

func (w *Widget) ClearMarker() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("marker_clear", "marker_clear"); err != nil {
		return err
	}
	w.marker = nil
	return nil
}

func (w *Widget) Listen(l func(provider.NativeEvent)) (remove func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = l
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

func (w *Widget) Destroy() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.record("destroy", "destroy"); err != nil {
		return err
	}
	w.destroyed = true
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// User actions
// ─────────────────────────────────────────────────────────────────────────────

// Drag simulates a direct manipulation through every view in path.
func (w *Widget) Drag(path ...normalizer.NativeView) {
	w.BeginInteraction()
	for _, v := range path {
		w.MoveTo(v)
	}
	w.EndInteraction()
}

// BeginInteraction starts a drag or pinch.
func (w *Widget) BeginInteraction() {
	w.fire(provider.NativeEvent{Kind: provider.NativeInteractionStarted})
}

// MoveTo changes the view as the user would, without interaction markers.
func (w *Widget) MoveTo(v normalizer.NativeView) {
	w.mu.Lock()
	w.view = v
	w.mu.Unlock()
	w.fire(provider.NativeEvent{Kind: provider.NativeViewChanged, View: v})
}

// EndInteraction ends a drag or pinch.
func (w *Widget) EndInteraction() {
	w.fire(provider.NativeEvent{Kind: provider.NativeInteractionEnded})
}

// Click simulates a single click at p.
func (w *Widget) Click(p normalizer.NativePoint) {
	w.fire(provider.NativeEvent{Kind: provider.NativeClick, Point: p})
}

// WalkPanorama moves the open panorama to p.  The thumbnail map follows and
// reports its own view change, as vendor widgets do.
func (w *Widget) WalkPanorama(p normalizer.NativePoint) {
	w.mu.Lock()
	if w.panorama == nil {
		w.mu.Unlock()
		return
	}
	pp := p
	w.panorama = &pp
	w.view.Center = p
	v := w.view
	w.mu.Unlock()
	w.fire(provider.NativeEvent{Kind: provider.NativePanoramaMoved, Point: p})
	w.fire(provider.NativeEvent{Kind: provider.NativeViewChanged, View: v})
}

// ReportPanoramaUnavailable fires an asynchronous imagery failure.
func (w *Widget) ReportPanoramaUnavailable() {
	w.fire(provider.NativeEvent{Kind: provider.NativePanoramaUnavailable})
}

// ─────────────────────────────────────────────────────────────────────────────
// Inspection
// ─────────────────────────────────────────────────────────────────────────────

// Calls returns the log of native calls in order.
func (w *Widget) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// SetViews returns every programmatic view write.
func (w *Widget) SetViews() []normalizer.NativeView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]normalizer.NativeView(nil), w.setViews...)
}

// ResetCalls clears the call and write logs.
func (w *Widget) ResetCalls() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = nil
	w.setViews = nil
}

// Current returns the widget's view.
func (w *Widget) Current() normalizer.NativeView {
	v, _ := w.View()
	return v
}

// Satellite reports the current map kind.
func (w *Widget) Satellite() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.satellite
}

// Panorama returns the open panorama position.
func (w *Widget) Panorama() (normalizer.NativePoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panorama == nil {
		return normalizer.NativePoint{}, false
	}
	return *w.panorama, true
}

// Marker returns the displayed marker.
func (w *Widget) Marker() (normalizer.NativePoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.marker == nil {
		return normalizer.NativePoint{}, false
	}
	return *w.marker, true
}

// Measuring returns the active measurement tool.
func (w *Widget) Measuring() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.measuring
}

// Destroyed reports whether Destroy was called.
func (w *Widget) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// Leaks lists native resources still held.
func (w *Widget) Leaks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	if w.panorama != nil {
		out = append(out, "panorama")
	}
	for name := range w.overlays {
		out = append(out, "overlay:"+name)
	}
	if w.measuring != "" {
		out = append(out, "measurement")
	}
	if w.marker != nil {
		out = append(out, "marker")
	}
	if len(w.listeners) > 0 {
		out = append(out, fmt.Sprintf("listeners:%d", len(w.listeners)))
	}
	if !w.destroyed {
		out = append(out, "widget")
	}
	sort.Strings(out)
	return out
}
